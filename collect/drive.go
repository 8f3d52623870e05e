package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jyothri/detach/detach"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// List of fields to be retreived on file resource from the drive API.
var fields = googleapi.Field("files(id,name,mimeType,parents)")

// DriveStore keeps backups in Google Drive. Drive allows several
// children with one name; lookups return the oldest.
type DriveStore struct {
	svc       *drive.Service
	throttler *rate.Limiter
}

var _ detach.FolderStore = (*DriveStore)(nil)

func NewDriveStore(ctx context.Context, opts ...option.ClientOption) (*DriveStore, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveStore{svc: svc, throttler: newThrottler()}, nil
}

func (d *DriveStore) Root(ctx context.Context) (detach.Folder, error) {
	return detach.Folder{ID: "root"}, nil
}

func (d *DriveStore) FindFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, bool, error) {
	if err := wait(ctx, d.throttler); err != nil {
		return detach.Folder{}, false, err
	}
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parent.ID), folderMimeType)
	list, err := d.svc.Files.List().Q(q).OrderBy("createdTime").PageSize(1).Fields(fields).Context(ctx).Do()
	if err != nil {
		return detach.Folder{}, false, classify(fmt.Errorf("failed to list drive folders for query '%s': %w", q, err))
	}
	if len(list.Files) == 0 {
		return detach.Folder{}, false, nil
	}
	f := list.Files[0]
	return detach.Folder{ID: f.Id, Name: f.Name, Path: detach.JoinPath(parent, f.Name)}, true, nil
}

func (d *DriveStore) CreateFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, error) {
	if err := wait(ctx, d.throttler); err != nil {
		return detach.Folder{}, err
	}
	meta := &drive.File{Name: name, MimeType: folderMimeType, Parents: []string{parent.ID}}
	f, err := d.svc.Files.Create(meta).Fields("id", "name").Context(ctx).Do()
	if err != nil {
		return detach.Folder{}, classify(fmt.Errorf("failed to create drive folder %q: %w", name, err))
	}
	slog.Debug("Created drive folder", "name", name, "id", f.Id)
	return detach.Folder{ID: f.Id, Name: f.Name, Path: detach.JoinPath(parent, f.Name)}, nil
}

func (d *DriveStore) CreateFile(ctx context.Context, parent detach.Folder, name, mimeType string, content io.Reader) (detach.File, error) {
	if err := wait(ctx, d.throttler); err != nil {
		return detach.File{}, err
	}
	meta := &drive.File{Name: name, MimeType: mimeType, Parents: []string{parent.ID}}
	var media []googleapi.MediaOption
	if mimeType != "" {
		media = append(media, googleapi.ContentType(mimeType))
	}
	f, err := d.svc.Files.Create(meta).Media(content, media...).Fields("id", "name").Context(ctx).Do()
	if err != nil {
		return detach.File{}, classify(fmt.Errorf("failed to upload %q to drive: %w", name, err))
	}
	return detach.File{ID: f.Id, Name: f.Name}, nil
}

// escapeQuery quotes a literal for the Drive query language.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
