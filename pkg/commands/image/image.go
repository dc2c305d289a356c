// Package image defines the commands operating on stored images.
package image

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/cmdhelper"
	"github.com/wuxler/imgvault/pkg/commands/internal/options"
	"github.com/wuxler/imgvault/pkg/config"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// session is what a command works with once the configuration is loaded.
type session struct {
	cfg     *config.Config
	adapter backend.Adapter
}

func open(ctx context.Context, common *options.CommonOptions) (context.Context, *session, error) {
	ctx, cfg, err := common.Setup(ctx)
	if err != nil {
		return ctx, nil, err
	}
	adapter, err := cfg.OpenBackend(ctx, "")
	if err != nil {
		return ctx, nil, err
	}
	return ctx, &session{cfg: cfg, adapter: adapter}, nil
}

func (s *session) close(ctx context.Context) {
	xio.CloseAndLogError(ctx, s.adapter, "close backend", s.adapter.Name())
}

func write(w io.Writer, format string, v any, text func() string) error {
	switch strings.ToLower(format) {
	case formatJSON:
		data, err := cmdhelper.PrettifyJSON(v)
		if err != nil {
			return err
		}
		cmdhelper.Fprintf(w, "%s", data)
		return nil
	case formatText, "":
		cmdhelper.Fprintf(w, "%s", text())
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
