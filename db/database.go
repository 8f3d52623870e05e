package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jyothri/detach/detach"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const statusKey = "status"

// Store is the SQL work queue and run log. Queries are written with '?'
// placeholders and rebound for the driver in use.
type Store struct {
	db *sqlx.DB
}

var (
	_ detach.Queue  = (*Store)(nil)
	_ detach.RunLog = (*Store)(nil)
)

// Open connects with driver ("postgres" or "sqlite") and runs migrations.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if driver == "sqlite" {
		// every sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	slog.Info("Successfully connected to database", "driver", driver)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.exec(ctx, `delete from inventory`); err != nil {
		return fmt.Errorf("failed to clear inventory: %w", err)
	}
	if _, err := s.exec(ctx, `delete from metadata where name = ?`, statusKey); err != nil {
		return fmt.Errorf("failed to clear status: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, row *detach.InventoryRow) error {
	var last int
	err := s.db.GetContext(ctx, &last, `select COALESCE(max(row_num), 0) from inventory`)
	if err != nil {
		return fmt.Errorf("failed to find last row: %w", err)
	}
	insert_row := `insert into inventory
			(row_num, mark, message_id, sender, subject, msg_date, attachment_count,
				attachment_note, total_size_mib, status, done)
		values
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.exec(ctx, insert_row, last+1, row.Mark, row.MessageID, substr(row.Sender, 500),
		substr(row.Subject, 2000), row.Date.UTC(), row.AttachmentCount, row.AttachmentNote,
		row.TotalSizeMiB, row.Status, boolInt(row.Done))
	if err != nil {
		return fmt.Errorf("failed to append message %s: %w", row.MessageID, err)
	}
	row.Row = last + 1
	return nil
}

func (s *Store) Rows(ctx context.Context) ([]detach.InventoryRow, error) {
	read_row := `select row_num, mark, message_id, sender, subject, msg_date, attachment_count,
			attachment_note, total_size_mib, status, done
		from inventory order by row_num`
	records := []inventoryRecord{}
	if err := s.db.SelectContext(ctx, &records, read_row); err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	rows := make([]detach.InventoryRow, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	return rows, nil
}

func (s *Store) SetMarks(ctx context.Context, mark string) error {
	if _, err := s.exec(ctx, `update inventory set mark = ?`, mark); err != nil {
		return fmt.Errorf("failed to set marks: %w", err)
	}
	return nil
}

func (s *Store) SetMark(ctx context.Context, row int, mark string) error {
	res, err := s.exec(ctx, `update inventory set mark = ? where row_num = ?`, mark, row)
	if err != nil {
		return fmt.Errorf("failed to mark row %d: %w", row, err)
	}
	return expectOne(res, fmt.Sprintf("row %d", row))
}

func (s *Store) ResetRow(ctx context.Context, row int, status string) error {
	update_row := `update inventory
			set mark = '', message_id = '', status = ?, done = 1
			where row_num = ?`
	res, err := s.exec(ctx, update_row, status, row)
	if err != nil {
		return fmt.Errorf("failed to reset row %d: %w", row, err)
	}
	return expectOne(res, fmt.Sprintf("row %d", row))
}

func (s *Store) SetStatus(ctx context.Context, text string) error {
	upsert := `insert into metadata (name, value) values (?, ?)
		on conflict (name) do update set value = excluded.value`
	if _, err := s.exec(ctx, upsert, statusKey, text); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// Status returns the progress line, empty when none was written.
func (s *Store) Status(ctx context.Context) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`select value from metadata where name = ?`), statusKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return value, nil
}

func (s *Store) StartRun(ctx context.Context, id, kind, detail string) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	insert_row := `insert into runs
			(id, kind, detail, started_at, status, processed, failed)
		values
			(?, ?, ?, ?, ?, 0, 0)`
	_, err := s.exec(ctx, insert_row, id, kind, substr(detail, 2000), time.Now().UTC(), RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to insert run for kind %s: %w", kind, err)
	}
	return id, nil
}

// FinishRun marks the run Completed, or Failed with the error text when
// runErr is set.
func (s *Store) FinishRun(ctx context.Context, id string, processed, failed int, runErr error) error {
	status, errMsg := RunCompleted, sql.NullString{}
	if runErr != nil {
		status, errMsg = RunFailed, sql.NullString{String: runErr.Error(), Valid: true}
	}
	update_row := `update runs
			set ended_at = ?, status = ?, error_msg = ?, processed = ?, failed = ?
			where id = ?`
	res, err := s.exec(ctx, update_row, time.Now().UTC(), status, errMsg, processed, failed, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for run %s: %w", id, err)
	}
	if count != 1 {
		slog.Warn("Unexpected rows affected when finishing run",
			"run_id", id,
			"expected", 1,
			"actual", count)
	}
	if runErr != nil {
		slog.Error("Run marked as failed", "run_id", id, "error", runErr)
	} else {
		slog.Info("Run marked as completed", "run_id", id)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	read_row := `select id, kind, detail, started_at, ended_at, status, error_msg, processed, failed
		from runs where id = ?`
	var run Run
	err := s.db.GetContext(ctx, &run, s.db.Rebind(read_row), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, detach.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns page pageNo (1-based, newest first) and the total count.
func (s *Store) ListRuns(ctx context.Context, pageNo int) ([]Run, int, error) {
	limit := 10
	if pageNo < 1 {
		pageNo = 1
	}
	offset := limit * (pageNo - 1)
	read_row := `select id, kind, detail, started_at, ended_at, status, error_msg, processed, failed
		from runs order by started_at desc limit ? offset ?`
	runs := []Run{}
	var count int
	err := s.db.SelectContext(ctx, &runs, s.db.Rebind(read_row), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get runs for page %d: %w", pageNo, err)
	}
	err = s.db.GetContext(ctx, &count, `select count(*) from runs`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get run count: %w", err)
	}
	return runs, count, nil
}

// SaveOAuthToken stores the token for t.ClientKey, replacing an older one.
func (s *Store) SaveOAuthToken(ctx context.Context, t PrivateToken) error {
	upsert := `insert into privatetokens
			(access_token, refresh_token, display_name, client_key, scope, expires_in, token_type, created_on)
		values
			(?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (client_key) do update set
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			display_name = excluded.display_name,
			scope = excluded.scope,
			expires_in = excluded.expires_in,
			token_type = excluded.token_type,
			created_on = excluded.created_on`
	_, err := s.exec(ctx, upsert, t.AccessToken, t.RefreshToken, t.DisplayName, t.ClientKey,
		t.Scope, t.ExpiresIn, t.TokenType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save OAuth token for client %s: %w", t.ClientKey, err)
	}
	return nil
}

func (s *Store) GetOAuthToken(ctx context.Context, clientKey string) (PrivateToken, error) {
	read_row := `select access_token, refresh_token, display_name, client_key, created_on, scope, expires_in, token_type
		from privatetokens
		where client_key = ?`
	return s.getToken(ctx, read_row, clientKey)
}

// LatestOAuthToken is the most recently linked account.
func (s *Store) LatestOAuthToken(ctx context.Context) (PrivateToken, error) {
	read_row := `select access_token, refresh_token, display_name, client_key, created_on, scope, expires_in, token_type
		from privatetokens
		order by created_on desc limit 1`
	return s.getToken(ctx, read_row)
}

func (s *Store) getToken(ctx context.Context, query string, args ...any) (PrivateToken, error) {
	tokenData := PrivateToken{}
	err := s.db.GetContext(ctx, &tokenData, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return PrivateToken{}, fmt.Errorf("oauth token: %w", detach.ErrNotFound)
	}
	if err != nil {
		return PrivateToken{}, fmt.Errorf("failed to get OAuth token: %w", err)
	}
	return tokenData, nil
}

func expectOne(res sql.Result, what string) error {
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", what, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", what, detach.ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func substr(s string, end int) string {
	if len(s) < end {
		return s
	}
	counter := 0
	for i := range s {
		if counter == end {
			return s[0:i]
		}
		counter++
	}
	return s
}
