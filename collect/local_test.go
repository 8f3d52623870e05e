package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/detach"
)

func TestLocalStoreWithResolver(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	r := detach.NewResolver(store, "Gmail-Attachments")
	msg := &detach.Message{ID: "m1", Subject: "Q1/Q2 invoices", Date: jan15UTC()}

	folder, err := r.Resolve(ctx, msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := "Gmail-Attachments/2024-01-15/Q1/Q2 invoices (m1)"; folder.Path != want {
		t.Errorf("Path = %q, want %q", folder.Path, want)
	}
	want := filepath.Join(dir, "Gmail-Attachments", "2024-01-15", "Q1_Q2 invoices (m1)")
	if folder.ID != want {
		t.Errorf("ID = %q, want %q", folder.ID, want)
	}

	again, err := r.Resolve(ctx, msg)
	if err != nil || again != folder {
		t.Errorf("second Resolve = %+v, %v", again, err)
	}
}

func TestLocalStoreKeepsSameNamedFiles(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	root, _ := store.Root(ctx)
	folder, err := store.CreateFolder(ctx, root, "day")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	var files []detach.File
	for _, body := range []string{"one", "two", "three"} {
		f, err := store.CreateFile(ctx, folder, "scan.pdf", "application/pdf", strings.NewReader(body))
		if err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
		files = append(files, f)
	}
	wantNames := []string{"scan.pdf", "scan (1).pdf", "scan (2).pdf"}
	for i, f := range files {
		if filepath.Base(f.ID) != wantNames[i] {
			t.Errorf("file %d stored as %q, want %q", i, filepath.Base(f.ID), wantNames[i])
		}
	}
	b, err := os.ReadFile(files[1].ID)
	if err != nil || string(b) != "two" {
		t.Errorf("second file = %q, %v", b, err)
	}
}

func TestLocalStoreIgnoresPlainFileWhenFindingFolder(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "backup"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	root, _ := store.Root(context.Background())
	if _, ok, err := store.FindFolder(context.Background(), root, "backup"); ok || err != nil {
		t.Errorf("FindFolder matched a plain file: ok=%v err=%v", ok, err)
	}
}

func TestNewFolderStoreRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFolderStore(ctx, config.Storage{Backend: "ftp"}); !errors.Is(err, detach.ErrUnconfigured) {
		t.Errorf("unknown backend = %v, want ErrUnconfigured", err)
	}
	if _, err := NewFolderStore(ctx, config.Storage{Backend: config.StorageLocal}); !errors.Is(err, detach.ErrUnconfigured) {
		t.Errorf("local without dir = %v, want ErrUnconfigured", err)
	}
	store, err := NewFolderStore(ctx, config.Storage{Backend: config.StorageLocal, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFolderStore(local): %v", err)
	}
	if _, ok := store.(*LocalStore); !ok {
		t.Errorf("store = %T, want *LocalStore", store)
	}
}

func jan15UTC() time.Time {
	return time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
}
