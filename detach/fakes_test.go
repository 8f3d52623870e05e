package detach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

func attachment(name string, size int64) Attachment {
	content := strings.Repeat("z", int(size%4096))
	return Attachment{
		Name:     name,
		MimeType: "application/pdf",
		Size:     size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

type fakeMailbox struct {
	operator  string
	threads   []Thread
	messages  map[string]*Message
	trashed   []string
	sent      []Outgoing
	searchErr error
	sendErr   map[string]error // by subject
	trashErr  map[string]error // by id
	queries   []string
}

func newFakeMailbox(threads ...Thread) *fakeMailbox {
	f := &fakeMailbox{
		operator: "me@example.com",
		threads:  threads,
		messages: map[string]*Message{},
		sendErr:  map[string]error{},
		trashErr: map[string]error{},
	}
	for _, t := range threads {
		for i := range t.Messages {
			m := t.Messages[i]
			f.messages[m.ID] = &m
		}
	}
	return f
}

func (f *fakeMailbox) Search(ctx context.Context, query string, offset, max int) ([]Thread, error) {
	f.queries = append(f.queries, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	threads := f.threads
	if offset > len(threads) {
		return nil, nil
	}
	threads = threads[offset:]
	if len(threads) > max {
		threads = threads[:max]
	}
	return threads, nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (f *fakeMailbox) Trash(ctx context.Context, id string) error {
	if err := f.trashErr[id]; err != nil {
		return err
	}
	delete(f.messages, id)
	f.trashed = append(f.trashed, id)
	return nil
}

func (f *fakeMailbox) Send(ctx context.Context, out Outgoing) error {
	if err := f.sendErr[out.Subject]; err != nil {
		return err
	}
	f.sent = append(f.sent, out)
	return nil
}

func (f *fakeMailbox) Identity(ctx context.Context) (string, error) {
	return f.operator, nil
}

type fakeNode struct {
	folder   Folder
	children []string
	files    []File
	content  map[string][]byte
}

// fakeStore is an in-memory folder tree that, like Drive, allows
// several children with one name.
type fakeStore struct {
	nodes       map[string]*fakeNode
	nextID      int
	foldersMade int
	createErr   map[string]error // by folder name
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes:     map[string]*fakeNode{"root": {folder: Folder{ID: "root"}, content: map[string][]byte{}}},
		createErr: map[string]error{},
	}
}

func (s *fakeStore) Root(ctx context.Context) (Folder, error) {
	return s.nodes["root"].folder, nil
}

func (s *fakeStore) FindFolder(ctx context.Context, parent Folder, name string) (Folder, bool, error) {
	for _, id := range s.nodes[parent.ID].children {
		if n := s.nodes[id]; n.folder.Name == name {
			return n.folder, true, nil
		}
	}
	return Folder{}, false, nil
}

func (s *fakeStore) CreateFolder(ctx context.Context, parent Folder, name string) (Folder, error) {
	if err := s.createErr[name]; err != nil {
		return Folder{}, err
	}
	s.nextID++
	f := Folder{ID: fmt.Sprintf("f%d", s.nextID), Name: name, Path: JoinPath(parent, name)}
	s.nodes[f.ID] = &fakeNode{folder: f, content: map[string][]byte{}}
	p := s.nodes[parent.ID]
	p.children = append(p.children, f.ID)
	s.foldersMade++
	return f, nil
}

func (s *fakeStore) CreateFile(ctx context.Context, parent Folder, name, mimeType string, content io.Reader) (File, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return File{}, err
	}
	s.nextID++
	f := File{ID: fmt.Sprintf("file%d", s.nextID), Name: name}
	n := s.nodes[parent.ID]
	n.files = append(n.files, f)
	n.content[f.ID] = buf.Bytes()
	return f, nil
}

func (s *fakeStore) folderByPath(path string) (*fakeNode, bool) {
	for _, n := range s.nodes {
		if n.folder.Path == path && n.folder.ID != "root" {
			return n, true
		}
	}
	return nil, false
}

type memQueue struct {
	rows   []InventoryRow
	status string
	resets int
}

func (q *memQueue) Clear(ctx context.Context) error {
	q.rows = nil
	q.status = ""
	return nil
}

func (q *memQueue) Append(ctx context.Context, row *InventoryRow) error {
	row.Row = len(q.rows) + 1
	q.rows = append(q.rows, *row)
	return nil
}

func (q *memQueue) Rows(ctx context.Context) ([]InventoryRow, error) {
	out := make([]InventoryRow, len(q.rows))
	copy(out, q.rows)
	return out, nil
}

func (q *memQueue) SetMarks(ctx context.Context, mark string) error {
	for i := range q.rows {
		q.rows[i].Mark = mark
	}
	return nil
}

func (q *memQueue) SetMark(ctx context.Context, row int, mark string) error {
	if row < 1 || row > len(q.rows) {
		return ErrNotFound
	}
	q.rows[row-1].Mark = mark
	return nil
}

func (q *memQueue) ResetRow(ctx context.Context, row int, status string) error {
	r := &q.rows[row-1]
	r.Mark, r.MessageID, r.Status, r.Done = "", "", status, true
	q.resets++
	return nil
}

func (q *memQueue) SetStatus(ctx context.Context, text string) error {
	q.status = text
	return nil
}

var jan15 = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func invoiceThread() Thread {
	return Thread{ID: "t1", Messages: []Message{{
		ID:      "m1",
		From:    "Alice <alice@example.com>",
		To:      "me@example.com",
		Subject: "Invoices",
		Date:    jan15,
		Body:    "<p>see attached</p>",
		Attachments: []Attachment{
			attachment("a.pdf", 2*MiB),
			attachment("b.pdf", 1*MiB),
		},
	}}}
}
