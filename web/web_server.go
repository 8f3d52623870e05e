package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/db"
	"github.com/jyothri/detach/detach"
	"github.com/jyothri/detach/notification"
	"github.com/rs/cors"
	"golang.org/x/oauth2"
)

type Options struct {
	// Service carries the mailbox, queue, store and run log. Settings and
	// Observer are filled in per request.
	Service detach.Service
	// Settings is called at the start of every run so edits to the settings
	// file or spreadsheet take effect without a restart.
	Settings func(ctx context.Context) (config.Settings, error)
	DB       *db.Store
	Hub      *notification.Hub
	// OAuth and Identify serve account linking on /api/glink.
	OAuth          func(redirectURL string) *oauth2.Config
	Identify       func(ctx context.Context, refreshToken string) (string, error)
	AllowedOrigins []string
}

type Server struct {
	opts Options

	// running serialises searches and processing passes.
	running sync.Mutex
	// background tracks runs started without ?wait=true.
	background sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = notification.NewHub()
	}
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.api(r)
	s.oauth(r)
	s.sse(r)
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// ListenAndServe blocks until ctx is done, then waits for background runs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	slog.Info("Starting web server.", "addr", addr)
	srv := &http.Server{
		Handler: s.Handler(),
		Addr:    addr,
		// The SSE handler and ?wait=true runs lift the write deadline.
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() {
	s.background.Wait()
}
