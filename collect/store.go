package collect

import (
	"context"
	"fmt"

	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/detach"
	"google.golang.org/api/option"
)

// NewFolderStore builds the backend named by conf.Backend. opts carry the
// Google credentials and are ignored by the s3 and local backends.
func NewFolderStore(ctx context.Context, conf config.Storage, opts ...option.ClientOption) (detach.FolderStore, error) {
	var store detach.FolderStore
	var err error
	switch conf.Backend {
	case config.StorageDrive, "":
		store, err = NewDriveStore(ctx, opts...)
	case config.StorageGCS:
		store, err = NewGCSStore(ctx, conf.Bucket, opts...)
	case config.StorageS3:
		store, err = NewS3Store(conf)
	case config.StorageLocal:
		store, err = NewLocalStore(conf.Dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q: %w", conf.Backend, detach.ErrUnconfigured)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
