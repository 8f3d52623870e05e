package detach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type RowError struct {
	Row       int    `json:"row"`
	MessageID string `json:"message_id"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (message %s): %v", e.Row, e.MessageID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

type RunResult struct {
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Failed    []RowError `json:"failed"`
}

// Processor backs up, forwards and trashes every marked message.
type Processor struct {
	mail     Mailbox
	queue    Queue
	store    FolderStore
	resolver *Resolver
	settings Settings
	observer Observer
}

func NewProcessor(mail Mailbox, queue Queue, store FolderStore, settings Settings, observer Observer) *Processor {
	return &Processor{
		mail:     mail,
		queue:    queue,
		store:    store,
		resolver: NewResolver(store, settings.BackupFolder),
		settings: settings,
		observer: observer,
	}
}

// Run walks the queue in row order. A failing row is logged and left
// untouched (its blank status is the retry signal) and the walk goes on
// with the next row. Only setup errors and cancellation end the run early.
func (p *Processor) Run(ctx context.Context) (RunResult, error) {
	var res RunResult
	if p.settings.BackupFolder == "" {
		return res, fmt.Errorf("backup folder name is blank: %w", ErrUnconfigured)
	}
	rows, err := p.queue.Rows(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read work queue: %w", err)
	}
	operator, err := p.mail.Identity(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to look up operator address: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !row.Selected() {
			res.Skipped++
			continue
		}
		if err := p.processRow(ctx, row, operator); err != nil {
			slog.Error("Failed to process row, leaving it for a later run",
				"row", row.Row,
				"message_id", row.MessageID,
				"error", err)
			res.Failed = append(res.Failed, RowError{Row: row.Row, MessageID: row.MessageID, Err: err, Message: err.Error()})
		} else {
			res.Processed++
		}
		p.observer.emit(Event{Stage: StageProcess, Rows: res.Processed, Failed: len(res.Failed)})
	}

	p.observer.emit(Event{Stage: StageProcess, Rows: res.Processed, Failed: len(res.Failed), Done: true})
	slog.Info("Finished processing",
		"processed", res.Processed,
		"skipped", res.Skipped,
		"failed", len(res.Failed))
	return res, nil
}

// processRow performs the externally visible steps in order; the queue is
// only touched once all of them have succeeded.
func (p *Processor) processRow(ctx context.Context, row InventoryRow, operator string) error {
	msg, err := p.mail.GetMessage(ctx, row.MessageID)
	if err != nil {
		return fmt.Errorf("failed to fetch message: %w", err)
	}

	folder, err := p.resolver.Resolve(ctx, msg)
	if err != nil {
		return err
	}
	for _, a := range msg.Attachments {
		if err := p.saveAttachment(ctx, folder, a); err != nil {
			return fmt.Errorf("failed to save attachment %q: %w", a.Name, err)
		}
	}
	slog.Debug("Saved attachments", "row", row.Row, "folder", folder.Path, "count", len(msg.Attachments))

	body, err := NotificationBody(folder.Path, msg)
	if err != nil {
		return fmt.Errorf("failed to compose notification: %w", err)
	}
	err = p.mail.Send(ctx, Outgoing{To: operator, Subject: msg.Subject, HTMLBody: body})
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	if err := p.mail.Trash(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to trash message: %w", err)
	}

	if err := p.queue.ResetRow(ctx, row.Row, StatusOK); err != nil {
		return fmt.Errorf("failed to reset row: %w", err)
	}
	return nil
}

func (p *Processor) saveAttachment(ctx context.Context, folder Folder, a Attachment) error {
	if a.Open == nil {
		return errors.New("attachment has no content")
	}
	rc, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = p.store.CreateFile(ctx, folder, a.Name, a.MimeType, rc)
	return err
}
