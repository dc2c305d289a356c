// Package config loads the imgvault configuration and builds the components
// it describes.
package config

import (
	"bytes"
	"errors"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/derivative"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/util/xcache"
	"github.com/wuxler/imgvault/pkg/util/xio"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// DefaultBackend is the name of the backend used when none is configured.
const DefaultBackend = "default"

// Config is the whole configuration. It is not modified after Load.
type Config struct {
	Log        LogConfig                `yaml:"log" json:"log"`
	Server     ServerConfig             `yaml:"server" json:"server"`
	Address    AddressConfig            `yaml:"address" json:"address"`
	Policy     ingest.Policy            `yaml:"policy" json:"policy"`
	Derivative DerivativeConfig         `yaml:"derivative" json:"derivative"`
	Backend    string                   `yaml:"backend" json:"backend"`
	Backends   map[string]BackendConfig `yaml:"backends" json:"backends"`
	Cache      CacheConfig              `yaml:"cache" json:"cache"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file,omitempty"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	MaxUploadSize   xio.ByteSize  `yaml:"max_upload_size" json:"max_upload_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// AddressConfig configures how content ids are derived.
type AddressConfig struct {
	Algorithm    string `yaml:"algorithm" json:"algorithm"`
	SaltWithSize bool   `yaml:"salt_with_size" json:"salt_with_size"`
}

// DerivativeConfig configures the derivative cache.
type DerivativeConfig struct {
	derivative.Config `yaml:",inline"`
	// Dir is the cache directory. Empty keeps the cache in memory.
	Dir       string          `yaml:"dir" json:"dir"`
	Watermark WatermarkConfig `yaml:"watermark" json:"watermark"`
}

// WatermarkConfig configures the watermark modifier.
type WatermarkConfig struct {
	// File is the overlay image. Empty disables the modifier.
	File     string  `yaml:"file" json:"file,omitempty"`
	Anchor   string  `yaml:"anchor" json:"anchor"`
	Margin   int     `yaml:"margin" json:"margin"`
	Opacity  float64 `yaml:"opacity" json:"opacity"`
	MaxRatio float64 `yaml:"max_ratio" json:"max_ratio"`
}

// CacheConfig configures the in memory read cache in front of backends.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Capacity int           `yaml:"capacity" json:"capacity"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text", MaxSize: 30},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			MaxUploadSize:   20 * xio.MiB,
			ShutdownTimeout: 5 * time.Second,
		},
		Address: AddressConfig{Algorithm: "sha256", SaltWithSize: true},
		Policy:  ingest.DefaultPolicy(),
		Derivative: DerivativeConfig{
			Config:    derivative.DefaultConfig(),
			Watermark: WatermarkConfig{Anchor: "bottom-right", Margin: 8, Opacity: 0.5, MaxRatio: 0.25},
		},
		Cache: CacheConfig{Enabled: true, Capacity: xcache.DefaultCapacity, TTL: xcache.DefaultTTL},
	}
}

// Load reads a YAML configuration over the defaults. Unknown keys are
// rejected.
func Load(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errdefs.NewE(errdefs.ErrInvalidParameter, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile is like Load but reads from path. An empty path returns the
// defaults.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load(bytes.NewReader(nil))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(bytes.NewReader(data))
}

func (c *Config) applyDefaults() {
	if len(c.Backends) == 0 {
		c.Backends = map[string]BackendConfig{DefaultBackend: {Type: TypeMemory}}
	}
	if c.Backend == "" {
		if len(c.Backends) == 1 {
			c.Backend = lo.Keys(c.Backends)[0]
		} else {
			c.Backend = DefaultBackend
		}
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	if _, err := xlog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "log.level: %v", err))
	}
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "log.format %q must be text or json", c.Log.Format))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "server.port %d out of range", c.Server.Port))
	}
	if _, err := c.Addresser(); err != nil {
		errs = append(errs, errdefs.NewE(errdefs.ErrInvalidParameter, err))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Derivative.MaxDimension < 0 || c.Derivative.MinModifierSize < 0 {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "derivative limits must not be negative"))
	}
	if _, ok := imgproc.ParseAnchor(c.Derivative.Watermark.Anchor); !ok {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "derivative.watermark.anchor %q is unknown", c.Derivative.Watermark.Anchor))
	}
	if _, ok := c.Backends[c.Backend]; !ok {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "backend %q is not configured", c.Backend))
	}
	for _, name := range slices.Sorted(maps.Keys(c.Backends)) {
		if err := c.Backends[name].Validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addresser returns the configured content addresser.
func (c *Config) Addresser() (contentaddr.Addresser, error) {
	return contentaddr.NewAddresser(c.Address.Algorithm, c.Address.SaltWithSize)
}

// XLog returns the logging configuration.
func (c *Config) XLog() (xlog.Config, error) {
	level, err := xlog.ParseLevel(c.Log.Level)
	if err != nil {
		return xlog.Config{}, err
	}
	lc := xlog.NewConfig()
	lc.Level = level
	lc.StdFormat = c.Log.Format
	lc.Path = c.Log.File
	lc.MaxSize = c.Log.MaxSize
	lc.MaxAge = c.Log.MaxAge
	lc.MaxBackups = c.Log.MaxBackups
	lc.Compress = c.Log.Compress
	return lc, nil
}
