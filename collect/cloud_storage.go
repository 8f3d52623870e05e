package collect

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/jyothri/detach/detach"
	"google.golang.org/api/option"
)

// GCSStore keeps backups in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

var _ detach.FolderStore = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, bucketName string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs bucket name is blank: %w", detach.ErrUnconfigured)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucketName)}, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) Root(ctx context.Context) (detach.Folder, error) {
	return detach.Folder{}, nil
}

func (g *GCSStore) FindFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, bool, error) {
	f := objectFolder(parent, name)
	ok, err := g.exists(ctx, f.ID)
	if err != nil || !ok {
		return detach.Folder{}, false, err
	}
	return f, true, nil
}

func (g *GCSStore) CreateFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, error) {
	f := objectFolder(parent, name)
	w := g.bucket.Object(f.ID).NewWriter(ctx)
	if err := w.Close(); err != nil {
		return detach.Folder{}, classify(fmt.Errorf("failed to create folder object %s: %w", f.ID, err))
	}
	return f, nil
}

func (g *GCSStore) CreateFile(ctx context.Context, parent detach.Folder, name, mimeType string, content io.Reader) (detach.File, error) {
	key, err := uniqueKey(ctx, parent.ID, name, g.exists)
	if err != nil {
		return detach.File{}, err
	}
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = mimeType
	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return detach.File{}, classify(fmt.Errorf("failed to upload %s: %w", key, err))
	}
	if err := w.Close(); err != nil {
		return detach.File{}, classify(fmt.Errorf("failed to upload %s: %w", key, err))
	}
	return detach.File{ID: key, Name: name}, nil
}

func (g *GCSStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("failed to stat %s: %w", key, err))
	}
	return true, nil
}
