package detach

import (
	"context"
	"fmt"
	"log/slog"
)

type ScanResult struct {
	Query   string `json:"query"`
	Threads int    `json:"threads"`
	Rows    int    `json:"rows"`
}

// Scanner rebuilds the work queue from a mailbox search.
type Scanner struct {
	mail     Mailbox
	queue    Queue
	settings Settings
	observer Observer
}

func NewScanner(mail Mailbox, queue Queue, settings Settings, observer Observer) *Scanner {
	return &Scanner{mail: mail, queue: queue, settings: settings, observer: observer}
}

// Scan clears the queue and appends one row per message that has at
// least one attachment. Any error aborts the scan; rows appended so far
// are kept.
//
// Progress after each thread reports the remaining search budget
// (MaxThreads minus threads seen before it), which is only an
// approximation of the work left since threads hold several messages.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	query := BuildQuery(s.settings)
	res := ScanResult{Query: query}
	budget := s.settings.Threads()

	if err := s.queue.Clear(ctx); err != nil {
		return res, fmt.Errorf("failed to clear work queue: %w", err)
	}
	s.observer.emit(Event{Stage: StageSearch, Notice: "Searching emails with the following query: " + query, Remaining: budget})
	slog.Info("Searching mailbox", "query", query, "max_threads", budget)

	threads, err := s.mail.Search(ctx, query, 0, budget)
	if err != nil {
		return res, fmt.Errorf("failed to search mailbox with query %q: %w", query, err)
	}

	for i, t := range threads {
		for _, m := range t.Messages {
			if len(m.Attachments) == 0 {
				continue
			}
			row := NewInventoryRow(m)
			if err := s.queue.Append(ctx, &row); err != nil {
				return res, fmt.Errorf("failed to append message %s: %w", m.ID, err)
			}
			res.Rows++
		}
		res.Threads++
		remaining := budget - i
		if err := s.queue.SetStatus(ctx, fmt.Sprintf("Fetching... %d", remaining)); err != nil {
			return res, fmt.Errorf("failed to update status: %w", err)
		}
		s.observer.emit(Event{Stage: StageSearch, Remaining: remaining, Rows: res.Rows})
	}

	if err := s.queue.SetStatus(ctx, "Fetched emails"); err != nil {
		return res, fmt.Errorf("failed to update status: %w", err)
	}
	s.observer.emit(Event{Stage: StageSearch, Rows: res.Rows, Done: true})
	slog.Info("Finished search", "threads", res.Threads, "rows", res.Rows)
	return res, nil
}
