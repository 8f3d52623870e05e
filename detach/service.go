package detach

import (
	"context"
	"log/slog"
)

const (
	RunSearch  = "search"
	RunProcess = "process"
)

// Service binds the collaborators behind the four operator actions.
// Runs is optional. RunId names the next run in the log.
type Service struct {
	Mail     Mailbox
	Queue    Queue
	Store    FolderStore
	Settings Settings
	Runs     RunLog
	Observer Observer
	RunId    string
}

func (s *Service) Search(ctx context.Context) (ScanResult, error) {
	runId := s.startRun(ctx, RunSearch, BuildQuery(s.Settings))
	res, err := NewScanner(s.Mail, s.Queue, s.Settings, s.Observer).Scan(ctx)
	s.finishRun(ctx, runId, res.Rows, 0, err)
	return res, err
}

func (s *Service) Process(ctx context.Context) (RunResult, error) {
	runId := s.startRun(ctx, RunProcess, "backupfol="+s.Settings.BackupFolder)
	res, err := NewProcessor(s.Mail, s.Queue, s.Store, s.Settings, s.Observer).Run(ctx)
	s.finishRun(ctx, runId, res.Processed, len(res.Failed), err)
	return res, err
}

func (s *Service) MarkAll(ctx context.Context) error {
	return s.Queue.SetMarks(ctx, MarkToken)
}

func (s *Service) UnmarkAll(ctx context.Context) error {
	return s.Queue.SetMarks(ctx, "")
}

// The audit log never decides the outcome of a run, so its failures are
// only logged.
func (s *Service) startRun(ctx context.Context, kind, detail string) string {
	if s.Runs == nil {
		return ""
	}
	id, err := s.Runs.StartRun(ctx, s.RunId, kind, detail)
	if err != nil {
		slog.Error("Failed to record run start", "kind", kind, "error", err)
		return ""
	}
	return id
}

func (s *Service) finishRun(ctx context.Context, id string, processed, failed int, runErr error) {
	if s.Runs == nil || id == "" {
		return
	}
	if err := s.Runs.FinishRun(context.WithoutCancel(ctx), id, processed, failed, runErr); err != nil {
		slog.Error("Failed to record run end", "run_id", id, "error", err)
	}
}
