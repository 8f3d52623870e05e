package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/jyothri/detach/detach"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var driveQuery = regexp.MustCompile(`^name = '((?:[^'\\]|\\.)*)' and '([^']*)' in parents`)

// fakeDrive keeps folders keyed by parent id and name.
type fakeDrive struct {
	mu      sync.Mutex
	folders map[string]string // parent + "/" + name -> id
	uploads []string
	queries []string
	nextID  int
}

func (f *fakeDrive) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.queries = append(f.queries, q)
		m := driveQuery.FindStringSubmatch(q)
		if m == nil {
			t.Errorf("unexpected query %q", q)
			reply(w, drive.FileList{})
			return
		}
		name := strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])
		list := drive.FileList{}
		if id, ok := f.folders[m[2]+"/"+name]; ok {
			list.Files = []*drive.File{{Id: id, Name: name, MimeType: folderMimeType}}
		}
		reply(w, list)
	})
	mux.HandleFunc("POST /drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		var file drive.File
		if err := json.NewDecoder(r.Body).Decode(&file); err != nil {
			t.Errorf("decode: %v", err)
		}
		if file.MimeType != folderMimeType || len(file.Parents) != 1 {
			t.Errorf("folder metadata = %+v", file)
		}
		f.mu.Lock()
		f.nextID++
		id := fmt.Sprintf("folder%d", f.nextID)
		f.folders[file.Parents[0]+"/"+file.Name] = id
		f.mu.Unlock()
		reply(w, drive.File{Id: id, Name: file.Name})
	})
	mux.HandleFunc("POST /upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploads = append(f.uploads, string(body))
		f.nextID++
		id := fmt.Sprintf("file%d", f.nextID)
		f.mu.Unlock()
		reply(w, drive.File{Id: id, Name: "uploaded"})
	})
	return mux
}

func newTestDrive(t *testing.T) (*DriveStore, *fakeDrive) {
	t.Helper()
	fake := &fakeDrive{folders: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	d, err := NewDriveStore(context.Background(),
		option.WithEndpoint(srv.URL+"/drive/v3/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewDriveStore: %v", err)
	}
	return d, fake
}

func TestDriveResolveCreatesOnce(t *testing.T) {
	d, fake := newTestDrive(t)
	r := detach.NewResolver(d, "Gmail-Attachments")
	msg := &detach.Message{ID: "m1", Subject: "Bob's invoice", Date: jan15UTC()}

	first, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Path != "Gmail-Attachments/2024-01-15/Bob's invoice (m1)" {
		t.Errorf("Path = %q", first.Path)
	}
	second, err := r.Resolve(context.Background(), msg)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second Resolve returned %q, want %q", second.ID, first.ID)
	}
	if len(fake.folders) != 3 {
		t.Errorf("created %d folders, want 3", len(fake.folders))
	}
	if !strings.Contains(fake.queries[0], "'root' in parents") {
		t.Errorf("first lookup not under root: %q", fake.queries[0])
	}
}

func TestDriveCreateFileUploadsContent(t *testing.T) {
	d, fake := newTestDrive(t)
	parent := detach.Folder{ID: "folder9", Path: "b"}
	f, err := d.CreateFile(context.Background(), parent, "a.pdf", "application/pdf", strings.NewReader("%PDF-1."))
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if f.ID == "" {
		t.Error("no file id")
	}
	if len(fake.uploads) != 1 || !strings.Contains(fake.uploads[0], "%PDF-1.") || !strings.Contains(fake.uploads[0], `"folder9"`) {
		t.Errorf("upload body = %q", fake.uploads)
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery(`it's a \ test`); got != `it\'s a \\ test` {
		t.Errorf("escapeQuery = %q", got)
	}
}
