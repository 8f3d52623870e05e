package detach

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jyothri/detach/config"
)

const (
	// MarkToken selects a row for processing, compared case-insensitively.
	MarkToken = "x"
	// StatusOK is written to a row once it has been processed.
	StatusOK = "OK"

	MiB = 1048576
)

var (
	ErrNotFound          = errors.New("not found")
	ErrQuotaOrPermission = errors.New("rejected by service")
	ErrUnconfigured      = errors.New("unconfigured")
)

type Attachment struct {
	Name     string
	MimeType string
	Size     int64
	// Open streams the content. Providers load it lazily so a scan never
	// downloads attachment bodies.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

type Message struct {
	ID          string
	ThreadID    string
	From        string
	To          string
	Cc          string
	Subject     string
	Date        time.Time
	Body        string // HTML
	Attachments []Attachment
}

type Thread struct {
	ID       string
	Messages []Message
}

type Outgoing struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Folder is a node of the storage hierarchy. Path is the slash-joined
// chain of names from the store root, empty for the root itself.
type Folder struct {
	ID   string
	Name string
	Path string
}

type File struct {
	ID   string
	Name string
}

// InventoryRow is one work queue entry: a message with attachments.
type InventoryRow struct {
	Row             int       `json:"row"`
	Mark            string    `json:"mark"`
	MessageID       string    `json:"message_id"`
	Sender          string    `json:"sender"`
	Subject         string    `json:"subject"`
	Date            time.Time `json:"date"`
	AttachmentCount int       `json:"attachment_count"`
	AttachmentNote  string    `json:"attachment_note"`
	TotalSizeMiB    float64   `json:"total_size_mib"`
	Status          string    `json:"status"`
	Done            bool      `json:"done"`
}

// Selected reports whether the processor should act on the row. A row
// that has been reset has no message id and is never selected again.
func (r InventoryRow) Selected() bool {
	return IsMark(r.Mark) && r.MessageID != ""
}

func IsMark(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), MarkToken)
}

// NewInventoryRow describes m. Callers skip messages without attachments.
func NewInventoryRow(m Message) InventoryRow {
	var note strings.Builder
	var size int64
	for _, a := range m.Attachments {
		note.WriteString("➜ " + a.Name + "\n")
		size += a.Size
	}
	return InventoryRow{
		MessageID:       m.ID,
		Sender:          m.From,
		Subject:         m.Subject,
		Date:            m.Date,
		AttachmentCount: len(m.Attachments),
		AttachmentNote:  note.String(),
		TotalSizeMiB:    float64(size) / MiB,
	}
}

// Mailbox is the mail provider.
type Mailbox interface {
	// Search returns at most max threads matching query, skipping the
	// first offset.
	Search(ctx context.Context, query string, offset, max int) ([]Thread, error)
	// GetMessage fails with ErrNotFound when the message is gone.
	GetMessage(ctx context.Context, id string) (*Message, error)
	Trash(ctx context.Context, id string) error
	Send(ctx context.Context, out Outgoing) error
	// Identity is the address of the mailbox owner.
	Identity(ctx context.Context) (string, error)
}

// FolderStore is the hierarchical backup target.
type FolderStore interface {
	Root(ctx context.Context) (Folder, error)
	// FindFolder returns the first child of parent named name.
	FindFolder(ctx context.Context, parent Folder, name string) (Folder, bool, error)
	CreateFolder(ctx context.Context, parent Folder, name string) (Folder, error)
	CreateFile(ctx context.Context, parent Folder, name, mimeType string, content io.Reader) (File, error)
}

// Queue is the ordered work queue.
type Queue interface {
	// Clear drops every row along with notes and styling.
	Clear(ctx context.Context) error
	// Append stores row after the last one and sets row.Row.
	Append(ctx context.Context, row *InventoryRow) error
	// Rows returns all rows in ascending order.
	Rows(ctx context.Context) ([]InventoryRow, error)
	SetMarks(ctx context.Context, mark string) error
	// SetMark fails with ErrNotFound for an unknown row.
	SetMark(ctx context.Context, row int, mark string) error
	// ResetRow clears mark and message id, sets status and greys the row out.
	ResetRow(ctx context.Context, row int, status string) error
	// SetStatus writes the free-text progress line shown above the rows.
	SetStatus(ctx context.Context, text string) error
}

// RunLog records searches and processing passes.
type RunLog interface {
	// StartRun records a run under id, or under a fresh id when id is blank.
	StartRun(ctx context.Context, id, kind, detail string) (string, error)
	FinishRun(ctx context.Context, id string, processed, failed int, runErr error) error
}

type Stage string

const (
	StageSearch  Stage = "search"
	StageProcess Stage = "process"
)

// Event is a progress report. Notice carries one-off messages for the
// operator such as the search query about to run.
type Event struct {
	Stage     Stage  `json:"stage"`
	Notice    string `json:"notice,omitempty"`
	Remaining int    `json:"remaining"`
	Rows      int    `json:"rows"`
	Failed    int    `json:"failed"`
	Done      bool   `json:"done"`
}

type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}

// Confirmation is the prompt shown before processing.
const Confirmation = "Messages marked with an ‘x’ will be moved to the trash; " +
	"their attachments will be backed up on your storage " +
	"and a copy of the original message will be sent to your address. " +
	"Continue?"

type Settings = config.Settings
