package xio_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xio"
	"github.com/wuxler/imgvault/pkg/xlog"
)

func TestReadAllLimit(t *testing.T) {
	limit := int64(100)

	t.Run("limit exceeded", func(t *testing.T) {
		_, err := xio.ReadAllLimit(strings.NewReader(strings.Repeat("a", 101)), limit)
		require.Error(t, err)
		assert.ErrorIs(t, err, errdefs.ErrTooLarge)
	})

	t.Run("exactly the limit", func(t *testing.T) {
		data, err := xio.ReadAllLimit(strings.NewReader(strings.Repeat("a", 100)), limit)
		require.NoError(t, err)
		assert.Len(t, data, 100)
	})

	t.Run("no limit", func(t *testing.T) {
		data, err := xio.ReadAllLimit(strings.NewReader(strings.Repeat("a", 1000)), 0)
		require.NoError(t, err)
		assert.Len(t, data, 1000)
	})
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func TestMultiClosers(t *testing.T) {
	var calls int
	ok := closeFunc(func() error { calls++; return nil })
	bad := closeFunc(func() error { calls++; return errors.New("boom") })

	err := xio.MultiClosers(ok, bad, nil, ok).Close()
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3, calls)
}

func TestCloseAndLogError(t *testing.T) {
	stdout := &bytes.Buffer{}
	c := xlog.NewConfig()
	c.AddSource = false
	c.AttrReplacer = xlog.SuppressTimeAttrReplacer()
	c.StdWriter = stdout
	xlog.SetDefault(xlog.New(c))
	ctx := xlog.WithContext(context.Background(), "id", "abc")

	xio.CloseAndLogError(ctx, io.NopCloser(nil))
	xio.CloseAndLogError(ctx, closeFunc(func() error { return errors.New("disk gone") }), "cache file")

	assert.Equal(t, "level=WARN msg=\"unable to close: cache file: disk gone\" id=abc\n", stdout.String())
}

func TestParseByteSize(t *testing.T) {
	testcases := []struct {
		input   string
		want    xio.ByteSize
		wantErr bool
	}{
		{input: "1024", want: 1024},
		{input: "0", want: 0},
		{input: "512KiB", want: 512 * xio.KiB},
		{input: "10 MiB", want: 10 * xio.MiB},
		{input: "2G", want: 2 * xio.GiB},
		{input: "010M", want: 10 * xio.MiB},
		{input: "", wantErr: true},
		{input: "ten", wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := xio.ParseByteSize(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestByteSize_UnmarshalYAML(t *testing.T) {
	var v struct {
		Limit xio.ByteSize `yaml:"limit"`
		Plain xio.ByteSize `yaml:"plain"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("limit: 10MiB\nplain: 2048\n"), &v))
	assert.Equal(t, xio.ByteSize(10*xio.MiB), v.Limit)
	assert.Equal(t, xio.ByteSize(2048), v.Plain)
	assert.Equal(t, "10MiB", v.Limit.String())
	assert.Equal(t, "2KiB", v.Plain.String())
}
