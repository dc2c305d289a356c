package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/backend/boltdb"
	"github.com/wuxler/imgvault/pkg/backend/memory"
	"github.com/wuxler/imgvault/pkg/backend/objectstore"
	"github.com/wuxler/imgvault/pkg/backend/seaweedfs"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xcache"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// Backend types.
const (
	TypeBoltDB    = "boltdb"
	TypeS3        = "s3"
	TypeFile      = "file"
	TypeMem       = "mem"
	TypeSeaweedFS = "seaweedfs"
	TypeMemory    = "memory"
)

// BackendTypes returns the accepted values of BackendConfig.Type.
func BackendTypes() []string {
	return []string{TypeBoltDB, TypeFile, TypeMem, TypeMemory, TypeS3, TypeSeaweedFS}
}

// BackendConfig configures one named backend. Only the fields of its Type
// are used.
type BackendConfig struct {
	Type string `yaml:"type" json:"type"`

	// Path is the database file of boltdb and the directory of file.
	Path string `yaml:"path" json:"path,omitempty"`
	// Timeout bounds the boltdb file lock wait and seaweedfs requests.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// s3
	Endpoint     string `yaml:"endpoint" json:"endpoint,omitempty"`
	Bucket       string `yaml:"bucket" json:"bucket,omitempty"`
	Region       string `yaml:"region" json:"region,omitempty"`
	AccessKey    string `yaml:"access_key" json:"-"`
	SecretKey    string `yaml:"secret_key" json:"-"`
	Secure       bool   `yaml:"secure" json:"secure,omitempty"`
	CreateBucket bool   `yaml:"create_bucket" json:"create_bucket,omitempty"`

	// seaweedfs
	Master  string `yaml:"master" json:"master,omitempty"`
	Catalog string `yaml:"catalog" json:"catalog,omitempty"`
}

// Validate checks that the fields required by Type are set.
func (b BackendConfig) Validate(name string) error {
	missing := func(field string) error {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "backends.%s: %s backend requires %s", name, b.Type, field)
	}
	switch b.Type {
	case TypeMemory, TypeMem:
		return nil
	case TypeBoltDB, TypeFile:
		if b.Path == "" {
			return missing("path")
		}
	case TypeS3:
		if b.Endpoint == "" || b.Bucket == "" {
			return missing("endpoint and bucket")
		}
	case TypeSeaweedFS:
		if b.Master == "" || b.Catalog == "" {
			return missing("master and catalog")
		}
	default:
		return errdefs.Newf(errdefs.ErrInvalidParameter, "backends.%s: unknown type %q", name, b.Type)
	}
	return nil
}

// OpenBackend opens the backend configured under name, or the default
// backend when name is empty. Get results are cached in memory when the read
// cache is enabled.
func (c *Config) OpenBackend(ctx context.Context, name string) (backend.Adapter, error) {
	if name == "" {
		name = c.Backend
	}
	bc, ok := c.Backends[name]
	if !ok {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "backend %q is not configured", name)
	}
	if err := bc.Validate(name); err != nil {
		return nil, err
	}
	adapter, err := openBackend(ctx, name, bc)
	if err != nil {
		return nil, err
	}
	xlog.C(ctx).Debug("opened backend", "backend", name, "type", bc.Type)
	if !c.Cache.Enabled {
		return adapter, nil
	}
	return backend.WithReadCache(adapter, xcache.NewMemory[backend.CachedObject](xcache.MemoryConfig{
		Capacity: c.Cache.Capacity,
		TTL:      c.Cache.TTL,
	})), nil
}

func openBackend(ctx context.Context, name string, bc BackendConfig) (backend.Adapter, error) {
	switch bc.Type {
	case TypeBoltDB:
		return boltdb.Open(ctx, bc.Path, boltdb.Options{Name: name, Timeout: bc.Timeout})
	case TypeS3:
		bucket, err := objectstore.NewS3Bucket(ctx, objectstore.S3Config{
			Endpoint:     bc.Endpoint,
			Bucket:       bc.Bucket,
			Region:       bc.Region,
			AccessKey:    os.ExpandEnv(bc.AccessKey),
			SecretKey:    os.ExpandEnv(bc.SecretKey),
			Secure:       bc.Secure,
			CreateBucket: bc.CreateBucket,
		})
		if err != nil {
			return nil, backend.Normalize(name, err)
		}
		return objectstore.New(name, bucket), nil
	case TypeFile:
		dir, err := filepath.Abs(bc.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		fsys := afero.NewBasePathFs(afero.NewOsFs(), dir)
		return objectstore.New(name, objectstore.NewFsBucket(fsys, "file://"+dir)), nil
	case TypeMem:
		return objectstore.New(name, objectstore.NewFsBucket(afero.NewMemMapFs(), "mem://"+name)), nil
	case TypeSeaweedFS:
		return seaweedfs.Open(ctx, seaweedfs.Options{
			Name:    name,
			Master:  bc.Master,
			Catalog: bc.Catalog,
			Timeout: bc.Timeout,
		})
	default:
		return memory.New(name), nil
	}
}
