package xlog_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/xlog"
)

func newTestConfig(stdout *bytes.Buffer) xlog.Config {
	c := xlog.NewConfig()
	c.AddSource = false
	c.AttrReplacer = xlog.ChainReplacer(
		xlog.NormalizeSourceAttrReplacer(),
		xlog.SuppressTimeAttrReplacer(),
	)
	c.StdWriter = stdout
	return c
}

func TestLogger_SetLevel(t *testing.T) {
	stdout := &bytes.Buffer{}
	xlog.SetDefault(xlog.New(newTestConfig(stdout)))

	xlog.Debug("stored image", "id", "hwJv5", "backend", "memory")
	xlog.Debugf("resolved %s", "s100/hw/Jv/5.jpg")
	xlog.SetLevel(xlog.LevelDebug)
	xlog.Debug("stored image", "id", "hwJv5", "backend", "memory")
	xlog.Debugf("resolved %s", "s100/hw/Jv/5.jpg")

	want := strings.TrimLeft(`
level=DEBUG msg="stored image" id=hwJv5 backend=memory
level=DEBUG msg="resolved s100/hw/Jv/5.jpg"
`, "\n")
	assert.Equal(t, want, stdout.String())
}

func TestLogger_WithKeepsLevel(t *testing.T) {
	stdout := &bytes.Buffer{}
	logger := xlog.New(newTestConfig(stdout))
	child := logger.With("component", "ingest")

	child.Debug("hidden")
	logger.SetLevel(xlog.LevelDebug)
	child.Debug("shown")

	assert.Equal(t, "level=DEBUG msg=shown component=ingest\n", stdout.String())
}

func TestLogger_FileHandler(t *testing.T) {
	stdout := &bytes.Buffer{}
	c := newTestConfig(stdout)
	c.Path = filepath.Join(t.TempDir(), "imgvault.log")
	xlog.SetDefault(xlog.New(c))

	xlog.Info("migrated", "offset", 3)
	xlog.Warnf("skipped %d items", 2)

	t.Run("stdout", func(t *testing.T) {
		want := strings.TrimLeft(`
level=INFO msg=migrated offset=3
level=WARN msg="skipped 2 items"
`, "\n")
		assert.Equal(t, want, stdout.String())
	})

	t.Run("logfile", func(t *testing.T) {
		content, err := os.ReadFile(c.Path)
		require.NoError(t, err)
		want := strings.TrimLeft(`
{"level":"INFO","msg":"migrated","offset":3}
{"level":"WARN","msg":"skipped 2 items"}
`, "\n")
		assert.Equal(t, want, string(content))
	})
}

func TestFromContext(t *testing.T) {
	stdout := &bytes.Buffer{}
	xlog.SetDefault(xlog.New(newTestConfig(stdout)))

	ctx := xlog.WithContext(context.Background(), "request", "r1")
	xlog.C(ctx).Info("served")
	xlog.C(context.Background()).Info("plain")

	want := strings.TrimLeft(`
level=INFO msg=served request=r1
level=INFO msg=plain
`, "\n")
	assert.Equal(t, want, stdout.String())
}

func TestParseLevel(t *testing.T) {
	testcases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: xlog.LevelInfo},
		{in: "debug", want: xlog.LevelDebug},
		{in: "WARN", want: xlog.LevelWarn},
		{in: " error ", want: xlog.LevelError},
		{in: "verbose", wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := xlog.ParseLevel(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
