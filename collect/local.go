package collect

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jyothri/detach/detach"
)

// LocalStore keeps backups under a directory of the local file system.
// Folder ids are absolute paths.
type LocalStore struct {
	dir string
}

var _ detach.FolderStore = (*LocalStore)(nil)

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local backup directory is blank: %w", detach.ErrUnconfigured)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return &LocalStore{dir: abs}, nil
}

func (l *LocalStore) Root(ctx context.Context) (detach.Folder, error) {
	return detach.Folder{ID: l.dir}, nil
}

func (l *LocalStore) FindFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, bool, error) {
	p := filepath.Join(parent.ID, objectName(name))
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return detach.Folder{}, false, nil
	}
	if err != nil {
		return detach.Folder{}, false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if !info.IsDir() {
		return detach.Folder{}, false, nil
	}
	return detach.Folder{ID: p, Name: name, Path: detach.JoinPath(parent, name)}, true, nil
}

func (l *LocalStore) CreateFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, error) {
	p := filepath.Join(parent.ID, objectName(name))
	if err := os.Mkdir(p, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return detach.Folder{}, fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return detach.Folder{ID: p, Name: name, Path: detach.JoinPath(parent, name)}, nil
}

// CreateFile never overwrites: a taken name gets a numeric suffix.
func (l *LocalStore) CreateFile(ctx context.Context, parent detach.Folder, name, mimeType string, content io.Reader) (detach.File, error) {
	key, err := uniqueKey(ctx, parent.ID+string(filepath.Separator), name, fileExists)
	if err != nil {
		return detach.File{}, err
	}
	file, err := os.OpenFile(key, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return detach.File{}, fmt.Errorf("failed to create %s: %w", key, err)
	}
	defer file.Close()

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(file, hash), content)
	if err != nil {
		return detach.File{}, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := file.Close(); err != nil {
		return detach.File{}, fmt.Errorf("failed to close %s: %w", key, err)
	}
	slog.Debug("Saved file",
		"path", key,
		"size", size,
		"md5", hex.EncodeToString(hash.Sum(nil)))
	return detach.File{ID: key, Name: name}, nil
}

func fileExists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
