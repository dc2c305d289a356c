package xio

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/wuxler/imgvault/pkg/xlog"
)

// CloseAndSkipError is used to close the io.Closer and ignore the error returned.
func CloseAndSkipError(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// CloseAndLogError is used to close the io.Closer and log out as warning with
// the logger of ctx when the error returned is not nil.
// You are recommended to use this function to fix errcheck lint warning. For example
// "defer CloseAndLogError(ctx, rc)" instead of "defer rc.Close()".
func CloseAndLogError(ctx context.Context, c io.Closer, messages ...string) {
	if c == nil {
		return
	}
	err := c.Close()
	if err == nil {
		return
	}

	if len(messages) == 0 {
		xlog.C(ctx).Warnf("unable to close: %+v", err)
		return
	}
	xlog.C(ctx).Warnf("unable to close: %s: %+v", strings.Join(messages, ": "), err)
}

// MultiClosers returns an io.Closer that is the logical concatenation of the provided
// closers list. All of the provided closers will be call the Close() method, even if
// any returned an error.
func MultiClosers(closers ...io.Closer) io.Closer {
	return multiClosers(closers)
}

type multiClosers []io.Closer

// Close implements io.Closer and closes all the closers.
func (mc multiClosers) Close() error {
	var errs []error
	for _, closer := range mc {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
