package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jyothri/detach/collect"
	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/constants"
	"github.com/jyothri/detach/credential"
	"github.com/jyothri/detach/db"
	"github.com/jyothri/detach/detach"
	"github.com/jyothri/detach/notification"
	"github.com/jyothri/detach/sheets"
	"github.com/jyothri/detach/web"
	"google.golang.org/api/option"
)

type app struct {
	svc      detach.Service
	settings func(ctx context.Context) (config.Settings, error)
	closers  []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close", "error", err)
		}
	}
}

func run(ctx context.Context, cmd string) error {
	conf, err := config.Load(constants.ConfigPath)
	if err != nil {
		return err
	}
	store, err := db.Open(conf.Database.Driver, conf.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	creds, err := credential.Open()
	if err != nil {
		slog.Warn("Keyring unavailable", "error", err)
	}

	if cmd == "login" {
		return login(ctx, creds, store)
	}

	if !needsAccount(cmd, conf) {
		return dispatch(ctx, cmd, offlineApp(store), store)
	}
	token, err := resolveToken(ctx, constants.RefreshToken, creds, store)
	if errors.Is(err, detach.ErrNotFound) && cmd == "serve" {
		slog.Warn("No linked account. Link one through /api/glink and restart to enable search and process.")
		return serve(ctx, offlineApp(store), store)
	}
	if err != nil {
		return fmt.Errorf("no refresh token, run `detach login` first: %w", err)
	}
	client, err := collect.NewHTTPClient(ctx, token)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, conf, store, client)
	if err != nil {
		return err
	}
	defer a.Close()
	return dispatch(ctx, cmd, a, store)
}

func dispatch(ctx context.Context, cmd string, a *app, store *db.Store) error {
	switch cmd {
	case "search":
		return search(ctx, a)
	case "mark":
		return a.svc.MarkAll(ctx)
	case "unmark":
		return a.svc.UnmarkAll(ctx)
	case "process":
		return process(ctx, a)
	case "list":
		return list(ctx, a)
	case "serve":
		return serve(ctx, a, store)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// needsAccount reports whether cmd reaches the mailbox, storage or the
// spreadsheet. Queue edits on the database queue do not.
func needsAccount(cmd string, conf *config.App) bool {
	switch cmd {
	case "mark", "unmark", "list":
		return conf.Queue.Backend == config.QueueSheets
	}
	return true
}

// offlineApp serves the database queue and run log without an account.
func offlineApp(store *db.Store) *app {
	return &app{svc: detach.Service{Queue: store, Runs: store}, settings: fileSettings}
}

// newApp wires the adapters chosen in conf around one authorized client.
func newApp(ctx context.Context, conf *config.App, store *db.Store, client *http.Client) (*app, error) {
	opts := option.WithHTTPClient(client)
	a := &app{settings: fileSettings}

	mail, err := collect.NewGmailProvider(ctx, opts)
	if err != nil {
		return nil, err
	}
	folders, err := collect.NewFolderStore(ctx, conf.Storage, opts)
	if err != nil {
		return nil, err
	}
	if c, ok := folders.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var queue detach.Queue = store
	if conf.Queue.Backend == config.QueueSheets {
		sq, err := sheets.NewQueue(ctx, conf.Queue.SpreadsheetID, conf.Queue.Sheet, opts)
		if err != nil {
			return nil, err
		}
		queue = sq
		if conf.Queue.NamedRanges {
			a.settings = func(ctx context.Context) (config.Settings, error) {
				s, err := sq.Settings(ctx)
				if err != nil {
					return config.Settings{}, err
				}
				return s, s.Validate()
			}
		}
	}

	a.svc = detach.Service{Mail: mail, Queue: queue, Store: folders, Runs: store}
	return a, nil
}

// fileSettings re-reads the settings file so edits apply to the next run.
func fileSettings(ctx context.Context) (config.Settings, error) {
	conf, err := config.Load(constants.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	return conf.Settings, nil
}

// resolveToken prefers the flag, then the keyring, then the most recently
// linked account in the database.
func resolveToken(ctx context.Context, flagValue string, creds *credential.Store, store *db.Store) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if creds != nil {
		token, err := creds.Get(credential.RefreshTokenKey)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil && !errors.Is(err, detach.ErrNotFound) {
			slog.Warn("Failed to read keyring", "error", err)
		}
	}
	t, err := store.LatestOAuthToken(ctx)
	if err != nil {
		return "", err
	}
	return t.RefreshToken, nil
}

func login(ctx context.Context, creds *credential.Store, store *db.Store) error {
	tok, err := collect.Login(ctx)
	if err != nil {
		return err
	}
	if creds != nil {
		if err := creds.Set(credential.RefreshTokenKey, tok.RefreshToken); err != nil {
			slog.Warn("Failed to store refresh token in keyring", "error", err)
		}
	}
	email, err := identify(ctx, tok.RefreshToken)
	if err != nil {
		return err
	}
	err = store.SaveOAuthToken(ctx, db.NewPrivateToken(tok, "cli:"+email, email))
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s.\n", email)
	return nil
}

func identify(ctx context.Context, refreshToken string) (string, error) {
	client, err := collect.NewHTTPClient(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	mail, err := collect.NewGmailProvider(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", err
	}
	return mail.Identity(ctx)
}

func search(ctx context.Context, a *app) error {
	svc, err := a.service(ctx, os.Stderr)
	if err != nil {
		return err
	}
	res, err := svc.Search(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d threads searched, %d messages with attachments queued.\n", res.Threads, res.Rows)
	return nil
}

func process(ctx context.Context, a *app) error {
	if !constants.AssumeYes {
		confirmed, err := confirm()
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Nothing processed.")
			return nil
		}
	}
	svc, err := a.service(ctx, os.Stderr)
	if err != nil {
		return err
	}
	res, err := svc.Process(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d processed, %d skipped, %d failed.\n", res.Processed, res.Skipped, len(res.Failed))
	for _, f := range res.Failed {
		fmt.Printf("  row %d: %v\n", f.Row, f.Err)
	}
	return nil
}

func confirm() (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Process marked messages?").
				Description(detach.Confirmation).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func list(ctx context.Context, a *app) error {
	rows, err := a.svc.Queue.Rows(ctx)
	if err != nil {
		return err
	}
	var status string
	if st, ok := a.svc.Queue.(interface {
		Status(context.Context) (string, error)
	}); ok {
		status, _ = st.Status(ctx)
	}
	fmt.Println(renderRows(rows, status))
	return nil
}

func serve(ctx context.Context, a *app, store *db.Store) error {
	hub := notification.NewHub()
	logged, cancel := hub.Subscribe(notification.All)
	defer cancel()
	go func() {
		for p := range logged {
			slog.Debug("Progress", "job_id", p.RunId, "stage", p.Stage, "rows", p.Rows, "remaining", p.Remaining, "done", p.Done)
		}
	}()

	s := web.New(web.Options{
		Service:        a.svc,
		Settings:       a.settings,
		DB:             store,
		Hub:            hub,
		OAuth:          collect.OAuthConfig,
		Identify:       identify,
		AllowedOrigins: []string{constants.FrontendUrl},
	})
	return s.ListenAndServe(ctx, constants.ListenAddr)
}

// service returns the configured service with fresh settings and an
// observer printing progress to w.
func (a *app) service(ctx context.Context, w io.Writer) (*detach.Service, error) {
	settings, err := a.settings(ctx)
	if err != nil {
		return nil, err
	}
	svc := a.svc
	svc.Settings = settings
	svc.Observer = printProgress(w)
	return &svc, nil
}

func printProgress(w io.Writer) detach.Observer {
	return func(e detach.Event) {
		switch {
		case e.Notice != "":
			fmt.Fprintln(w, e.Notice)
		case e.Done:
			fmt.Fprintf(w, "Finished %s: %d rows, %d failed\n", e.Stage, e.Rows, e.Failed)
		case e.Stage == detach.StageSearch:
			fmt.Fprintf(w, "Fetching... %d\n", e.Remaining)
		default:
			fmt.Fprintf(w, "Processed %d, failed %d\n", e.Rows, e.Failed)
		}
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	doneStyle   = cellStyle.Foreground(lipgloss.Color("245"))
)

// renderRows draws the queue as a table with processed rows greyed out.
func renderRows(rows []detach.InventoryRow, status string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "Mark", "Message", "From", "Subject", "Date", "Files", "MiB", "Status")
	for _, r := range rows {
		date := ""
		if !r.Date.IsZero() {
			date = r.Date.UTC().Format("2006-01-02 15:04")
		}
		t.Row(
			strconv.Itoa(r.Row),
			r.Mark,
			r.MessageID,
			truncate(r.Sender, 30),
			truncate(r.Subject, 40),
			date,
			strconv.Itoa(r.AttachmentCount),
			strconv.FormatFloat(r.TotalSizeMiB, 'f', 2, 64),
			r.Status,
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case row >= 0 && row < len(rows) && rows[row].Done:
			return doneStyle
		}
		return cellStyle
	})
	out := t.String()
	if status != "" {
		out = status + "\n" + out
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
