package config_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/config"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

const sample = `
log:
  level: debug
  format: json
server:
  port: 9090
  max_upload_size: 5MiB
address:
  algorithm: sha512
  salt_with_size: false
policy:
  max_bytes: 2MiB
  max_width: 1920
  max_height: 1920
  auto_scale: true
  min_quality: 50
  max_quality: 85
derivative:
  max_dimension: 1024
  min_modifier_size: 64
  quality: 80
  watermark:
    anchor: top-left
backend: bolt
backends:
  bolt:
    type: boltdb
    path: /var/lib/imgvault/images.db
    timeout: 2s
  archive:
    type: s3
    endpoint: minio:9000
    bucket: images
    access_key: ${MINIO_ACCESS_KEY}
  weed:
    type: seaweedfs
    master: seaweed-master:9333
    catalog: /var/lib/imgvault/catalog.db
cache:
  enabled: false
`

func TestLoad(t *testing.T) {
	c, err := config.Load(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, xio.ByteSize(5*xio.MiB), c.Server.MaxUploadSize)
	assert.Equal(t, xio.ByteSize(2*xio.MiB), c.Policy.MaxBytes)
	assert.Equal(t, 1920, c.Policy.MaxWidth)
	assert.Equal(t, 1024, c.Derivative.MaxDimension)
	assert.Equal(t, 64, c.Derivative.MinModifierSize)
	assert.Equal(t, "top-left", c.Derivative.Watermark.Anchor)
	assert.Equal(t, 8, c.Derivative.Watermark.Margin, "defaults are kept for unset keys")
	assert.Equal(t, "bolt", c.Backend)
	assert.Len(t, c.Backends, 3)
	assert.Equal(t, 2*time.Second, c.Backends["bolt"].Timeout)
	assert.False(t, c.Cache.Enabled)

	addr, err := c.Addresser()
	require.NoError(t, err)
	assert.Equal(t, "sha512", addr.Algorithm.String())
	assert.False(t, addr.SaltWithSize)

	lc, err := c.XLog()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lc.Level)
	assert.Equal(t, "json", lc.StdFormat)
}

func TestLoad_Defaults(t *testing.T) {
	c, err := config.LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBackend, c.Backend)
	assert.Equal(t, config.TypeMemory, c.Backends[config.DefaultBackend].Type)
	assert.True(t, c.Cache.Enabled)

	adapter, err := c.OpenBackend(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	assert.Equal(t, config.DefaultBackend, adapter.Name())
}

func TestLoad_Invalid(t *testing.T) {
	testcases := []struct {
		name  string
		input string
	}{
		{name: "unknown key", input: "colour: blue\n"},
		{name: "log level", input: "log: {level: loud}\n"},
		{name: "log format", input: "log: {format: xml}\n"},
		{name: "algorithm", input: "address: {algorithm: md5}\n"},
		{name: "policy", input: "policy: {min_quality: 95, max_quality: 90}\n"},
		{name: "anchor", input: "derivative: {watermark: {anchor: nowhere}}\n"},
		{name: "missing default backend", input: "backend: nope\n"},
		{name: "unknown type", input: "backends: {x: {type: floppy}}\n"},
		{name: "boltdb without path", input: "backends: {x: {type: boltdb}}\n"},
		{name: "s3 without bucket", input: "backends: {x: {type: s3, endpoint: localhost}}\n"},
		{name: "seaweedfs without catalog", input: "backends: {x: {type: seaweedfs, master: localhost}}\n"},
		{name: "byte size", input: "server: {max_upload_size: lots}\n"},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
		})
	}
}

func TestConfig_OpenBackend(t *testing.T) {
	dir := t.TempDir()
	c, err := config.Load(strings.NewReader(`
backends:
  bolt: {type: boltdb, path: ` + filepath.Join(dir, "images.db") + `}
  files: {type: file, path: ` + filepath.Join(dir, "objects") + `}
  scratch: {type: mem}
  volatile: {type: memory}
backend: bolt
`))
	require.NoError(t, err)

	for _, name := range []string{"bolt", "files", "scratch", "volatile"} {
		t.Run(name, func(t *testing.T) {
			adapter, err := c.OpenBackend(context.Background(), name)
			require.NoError(t, err)
			t.Cleanup(func() { _ = adapter.Close() })
			assert.Equal(t, name, adapter.Name())

			_, ok, err := adapter.Exists(context.Background(), backend.ByFilename("ab/cd/efgh.png"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	_, err = c.OpenBackend(context.Background(), "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestConfig_Components(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "mark.png")
	require.NoError(t, os.WriteFile(overlay, []byte("not read until used"), 0o600))

	c, err := config.Load(strings.NewReader("derivative: {watermark: {file: " + overlay + "}}\n"))
	require.NoError(t, err)
	adapter, err := c.OpenBackend(context.Background(), "")
	require.NoError(t, err)

	p, err := c.NewPipeline(adapter)
	require.NoError(t, err)
	assert.Equal(t, adapter, p.Adapter())
	assert.True(t, p.Addresser().SaltWithSize)

	_, err = c.NewDerivativeCache(adapter, afero.NewMemMapFs())
	require.NoError(t, err)

	c.Derivative.Watermark.File = filepath.Join(dir, "missing.png")
	_, err = c.NewDerivativeCache(adapter, nil)
	assert.Error(t, err)
}
