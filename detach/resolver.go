package detach

import (
	"context"
	"fmt"

	"github.com/jyothri/detach/config"
)

// Resolver finds or creates the folder a message's attachments go to:
// <backup root>/<YYYY-MM-DD>/<subject> (<id>).
//
// Every level is looked up by exact name before it is created, so
// resolving the same message twice, or two messages from the same day,
// converges on the same folders.
type Resolver struct {
	store    FolderStore
	rootName string
}

func NewResolver(store FolderStore, rootName string) *Resolver {
	return &Resolver{store: store, rootName: rootName}
}

func (r *Resolver) Resolve(ctx context.Context, msg *Message) (Folder, error) {
	if r.rootName == "" {
		return Folder{}, fmt.Errorf("backup folder name: %w", ErrUnconfigured)
	}
	root, err := r.store.Root(ctx)
	if err != nil {
		return Folder{}, fmt.Errorf("failed to open storage root: %w", err)
	}
	backup, err := r.ensure(ctx, root, r.rootName)
	if err != nil {
		return Folder{}, err
	}
	day, err := r.ensure(ctx, backup, DateFolderName(msg))
	if err != nil {
		return Folder{}, err
	}
	return r.ensure(ctx, day, MessageFolderName(msg))
}

func (r *Resolver) ensure(ctx context.Context, parent Folder, name string) (Folder, error) {
	f, ok, err := r.store.FindFolder(ctx, parent, name)
	if err != nil {
		return Folder{}, fmt.Errorf("failed to look up folder %q under %q: %w", name, parent.Path, err)
	}
	if ok {
		return f, nil
	}
	f, err = r.store.CreateFolder(ctx, parent, name)
	if err != nil {
		return Folder{}, fmt.Errorf("failed to create folder %q under %q: %w", name, parent.Path, err)
	}
	return f, nil
}

func DateFolderName(msg *Message) string {
	return config.FormatDate(msg.Date)
}

func MessageFolderName(msg *Message) string {
	return msg.Subject + " (" + msg.ID + ")"
}

// JoinPath appends name to the path of parent.
func JoinPath(parent Folder, name string) string {
	if parent.Path == "" {
		return name
	}
	return parent.Path + "/" + name
}
