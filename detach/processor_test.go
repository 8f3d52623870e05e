package detach

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func scanned(t *testing.T, mail *fakeMailbox) *memQueue {
	t.Helper()
	queue := &memQueue{}
	if _, err := NewScanner(mail, queue, Settings{}, nil).Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return queue
}

func TestProcessEndToEnd(t *testing.T) {
	mail := newFakeMailbox(invoiceThread())
	store := newFakeStore()
	queue := scanned(t, mail)
	if err := queue.SetMark(context.Background(), 1, "X"); err != nil {
		t.Fatalf("SetMark: %v", err)
	}

	p := NewProcessor(mail, queue, store, Settings{BackupFolder: "Backup"}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 1 || len(res.Failed) != 0 {
		t.Fatalf("result = %+v", res)
	}

	folder, ok := store.folderByPath("Backup/2024-01-15/Invoices (m1)")
	if !ok {
		t.Fatal("message folder was not created")
	}
	if len(folder.files) != 2 || folder.files[0].Name != "a.pdf" || folder.files[1].Name != "b.pdf" {
		t.Errorf("files = %+v, want a.pdf then b.pdf", folder.files)
	}

	if len(mail.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mail.sent))
	}
	sent := mail.sent[0]
	if sent.To != "me@example.com" || sent.Subject != "Invoices" {
		t.Errorf("sent = %+v", sent)
	}
	for _, want := range []string{"Backup/2024-01-15/Invoices (m1)", "a.pdf", "b.pdf", "<p>see attached</p>"} {
		if !strings.Contains(sent.HTMLBody, want) {
			t.Errorf("notification body lacks %q", want)
		}
	}

	if _, err := mail.GetMessage(context.Background(), "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("original still reachable after processing: %v", err)
	}
	row := queue.rows[0]
	if row.Mark != "" || row.MessageID != "" || row.Status != StatusOK || !row.Done {
		t.Errorf("row after processing = %+v", row)
	}
}

func TestProcessSecondRunIsNoop(t *testing.T) {
	mail := newFakeMailbox(invoiceThread())
	store := newFakeStore()
	queue := scanned(t, mail)
	queue.SetMarks(context.Background(), MarkToken)

	p := NewProcessor(mail, queue, store, Settings{BackupFolder: "Backup"}, nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, _ := queue.Rows(context.Background())
	folders, sent := store.foldersMade, len(mail.sent)

	// Re-marking a processed row must not bring it back: its id is gone.
	queue.SetMarks(context.Background(), MarkToken)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Processed != 0 || res.Skipped != 1 {
		t.Errorf("second result = %+v", res)
	}
	after, _ := queue.Rows(context.Background())
	if after[0].Status != before[0].Status || after[0].MessageID != "" {
		t.Errorf("row changed: %+v -> %+v", before[0], after[0])
	}
	if store.foldersMade != folders || len(mail.sent) != sent {
		t.Error("second run produced side effects")
	}
}

func TestProcessLeavesUnselectedRowsAlone(t *testing.T) {
	queue := &memQueue{rows: []InventoryRow{
		{Row: 1, Mark: "", MessageID: "m1"},
		{Row: 2, Mark: "y", MessageID: "m1"},
		{Row: 3, Mark: "x", MessageID: ""},
	}}
	mail := newFakeMailbox(invoiceThread())
	res, err := NewProcessor(mail, queue, newFakeStore(), Settings{BackupFolder: "b"}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped != 3 || res.Processed != 0 {
		t.Errorf("result = %+v", res)
	}
	if queue.resets != 0 || len(mail.sent) != 0 || len(mail.trashed) != 0 {
		t.Error("unselected rows caused side effects")
	}
}

func TestProcessIsolatesFailingRows(t *testing.T) {
	second := invoiceThread()
	second.Messages[0].ID = "m2"
	second.Messages[0].Subject = "Receipts"
	mail := newFakeMailbox(invoiceThread(), second)
	queue := scanned(t, mail)
	queue.SetMarks(context.Background(), MarkToken)

	// m1 vanishes between the scan and the run.
	delete(mail.messages, "m1")

	res, err := NewProcessor(mail, queue, newFakeStore(), Settings{BackupFolder: "b"}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 1 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Failed[0].Row != 1 || !errors.Is(res.Failed[0], ErrNotFound) {
		t.Errorf("failure = %+v, want row 1 not found", res.Failed[0])
	}
	if queue.rows[0].MessageID != "m1" || queue.rows[0].Status != "" {
		t.Errorf("failed row was modified: %+v", queue.rows[0])
	}
	if queue.rows[1].Status != StatusOK {
		t.Errorf("second row not processed: %+v", queue.rows[1])
	}
}

func TestProcessSendFailureLeavesMessageAndRow(t *testing.T) {
	mail := newFakeMailbox(invoiceThread())
	mail.sendErr["Invoices"] = ErrQuotaOrPermission
	store := newFakeStore()
	queue := scanned(t, mail)
	queue.SetMarks(context.Background(), MarkToken)

	res, err := NewProcessor(mail, queue, store, Settings{BackupFolder: "b"}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Failed) != 1 || !errors.Is(res.Failed[0], ErrQuotaOrPermission) {
		t.Fatalf("result = %+v", res)
	}
	folder, ok := store.folderByPath("b/2024-01-15/Invoices (m1)")
	if !ok || len(folder.files) != 2 {
		t.Error("attachments should already be saved when the send fails")
	}
	if len(mail.trashed) != 0 {
		t.Error("message trashed despite failed send")
	}
	if row := queue.rows[0]; row.MessageID != "m1" || !IsMark(row.Mark) || row.Status != "" {
		t.Errorf("row = %+v, want untouched", row)
	}
}

func TestProcessRequiresBackupFolder(t *testing.T) {
	mail := newFakeMailbox(invoiceThread())
	queue := scanned(t, mail)
	queue.SetMarks(context.Background(), MarkToken)

	_, err := NewProcessor(mail, queue, newFakeStore(), Settings{}, nil).Run(context.Background())
	if !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("Run error = %v, want ErrUnconfigured", err)
	}
	if len(mail.sent) != 0 {
		t.Error("unconfigured run sent mail")
	}
}

func TestProcessStopsOnCancel(t *testing.T) {
	mail := newFakeMailbox(invoiceThread())
	queue := scanned(t, mail)
	queue.SetMarks(context.Background(), MarkToken)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProcessor(mail, queue, newFakeStore(), Settings{BackupFolder: "b"}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}
