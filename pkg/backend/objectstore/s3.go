package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

// S3Config configures an S3 compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
	// CreateBucket creates the bucket when it is missing.
	CreateBucket bool
}

// NewS3Bucket connects to an S3 compatible service.
func NewS3Bucket(ctx context.Context, c S3Config) (Bucket, error) {
	if c.Endpoint == "" || c.Bucket == "" {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "s3 endpoint and bucket are required")
	}
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.Secure,
		Region: c.Region,
	})
	if err != nil {
		return nil, err
	}
	b := &s3Bucket{client: client, bucket: c.Bucket}
	if c.CreateBucket {
		ok, err := client.BucketExists(ctx, c.Bucket)
		if err != nil {
			return nil, toError(err)
		}
		if !ok {
			if err := client.MakeBucket(ctx, c.Bucket, minio.MakeBucketOptions{Region: c.Region}); err != nil {
				return nil, toError(err)
			}
		}
	}
	return b, nil
}

type s3Bucket struct {
	client *minio.Client
	bucket string
}

func (b *s3Bucket) Location() string {
	return b.client.EndpointURL().Host + "/" + b.bucket
}

func (b *s3Bucket) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return toError(err)
}

func (b *s3Bucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, toError(err)
	}
	defer xio.CloseAndSkipError(obj)
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, toError(err)
	}
	return data, nil
}

func (b *s3Bucket) StatObject(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if err = toError(err); errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *s3Bucket) RemoveObject(ctx context.Context, key string) error {
	err := toError(b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}))
	if errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func (b *s3Bucket) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, toError(info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// toError maps S3 error responses into the errdefs taxonomy.
func toError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return errdefs.NewE(errdefs.ErrNotFound, err)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errdefs.NewE(errdefs.ErrUnauthorized, err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return errdefs.NewE(errdefs.ErrUnavailable, err)
	}
	return err
}
