package storage

import (
	"context"

	"bitbin/cfg"

	"github.com/pkg/errors"
)

// New builds the backend selected by STORAGE_BACKEND.
func New(ctx context.Context, c *cfg.Cfg) (Backend, error) {
	switch c.StorageBackend {
	case cfg.BackendLocal, "":
		return NewLocal(c.ContentPath), nil
	case cfg.BackendS3:
		s, err := NewS3(ctx, S3Config{
			Endpoint:  c.S3.Endpoint,
			Region:    c.S3.Region,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey.Value(),
			PathStyle: c.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}
