package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

var passthrough = []error{
	errdefs.ErrNotFound,
	errdefs.ErrConflict,
	errdefs.ErrInvalidParameter,
	errdefs.ErrUnavailable,
	errdefs.ErrUnauthorized,
	errdefs.ErrDataLoss,
	errdefs.ErrCanceled,
}

// Normalize translates a backend specific error into the errdefs taxonomy and
// prefixes it with the backend name. Timeouts and connection failures become
// errdefs.ErrUnavailable so callers can retry them.
func Normalize(name string, err error) error {
	if err == nil {
		return nil
	}
	err = classify(err)
	return fmt.Errorf("%s backend: %w", name, err)
}

func classify(err error) error {
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return errdefs.NewE(errdefs.ErrCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(errdefs.ErrUnavailable, errdefs.ErrDeadlineExceeded, err)
	case isTransient(err):
		return errdefs.NewE(errdefs.ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
