package collect

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/detach"
)

// fakeS3 serves HEAD and PUT for path-style keys of one bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/backups/")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StoreLayout(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(config.Storage{
		Backend:   config.StorageS3,
		Bucket:    "backups",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	ctx := context.Background()
	r := detach.NewResolver(store, "Gmail-Attachments")
	msg := &detach.Message{ID: "m1", Subject: "Invoices", Date: jan15UTC()}

	folder, err := r.Resolve(ctx, msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if folder.ID != "Gmail-Attachments/2024-01-15/Invoices (m1)/" {
		t.Errorf("folder key = %q", folder.ID)
	}
	if _, err := r.Resolve(ctx, msg); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if len(fake.objects) != 3 {
		t.Errorf("objects = %v, want 3 folder placeholders", fake.objects)
	}

	for _, body := range []string{"first", "second"} {
		if _, err := store.CreateFile(ctx, folder, "a.pdf", "application/pdf", strings.NewReader(body)); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
	}
	if got := fake.objects[folder.ID+"a.pdf"]; got != "first" {
		t.Errorf("a.pdf = %q", got)
	}
	if got := fake.objects[folder.ID+"a (1).pdf"]; got != "second" {
		t.Errorf("a (1).pdf = %q", got)
	}
}

func TestS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(config.Storage{Backend: config.StorageS3}); err == nil {
		t.Fatal("NewS3Store accepted a blank bucket")
	}
}
