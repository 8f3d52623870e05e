package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/db"
	"github.com/jyothri/detach/detach"
	"github.com/jyothri/detach/notification"
)

func (s *Server) api(r *mux.Router) {
	api := r.PathPrefix("/api/").Subrouter()
	api.Use(RequestSizeLimitMiddleware(DefaultMaxBodySize))
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, map[string]bool{"ok": true}, http.StatusOK)
	})
	api.HandleFunc("/rows", s.ListRowsHandler).Methods("GET")
	api.HandleFunc("/rows/{row}/mark", s.SetMarkHandler).Methods("PUT")
	api.HandleFunc("/marks", s.MarkAllHandler).Methods("POST")
	api.HandleFunc("/marks", s.UnmarkAllHandler).Methods("DELETE")
	api.HandleFunc("/search", s.SearchHandler).Methods("POST")
	api.HandleFunc("/process", s.ProcessHandler).Methods("POST")
	api.HandleFunc("/runs", s.ListRunsHandler).Methods("GET").Queries("page", "{page}")
	api.HandleFunc("/runs", s.ListRunsHandler).Methods("GET")
	api.HandleFunc("/runs/{run_id}", s.GetRunHandler).Methods("GET")
	api.HandleFunc("/settings", s.GetSettingsHandler).Methods("GET")
}

func (s *Server) ListRowsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.opts.Service.Queue.Rows(r.Context())
	if err != nil {
		slog.Error("Failed to read work queue", "error", err)
		writeServiceError(w, err)
		return
	}
	body := RowsResponse{Rows: rows}
	if st, ok := s.opts.Service.Queue.(interface {
		Status(context.Context) (string, error)
	}); ok {
		if body.Status, err = st.Status(r.Context()); err != nil {
			slog.Warn("Failed to read queue status", "error", err)
		}
	}
	if body.Rows == nil {
		body.Rows = []detach.InventoryRow{}
	}
	writeJSONResponse(w, body, http.StatusOK)
}

func (s *Server) SetMarkHandler(w http.ResponseWriter, r *http.Request) {
	row, ok := getIntFromMap(mux.Vars(r), "row")
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_ROW", "Invalid row number")
		return
	}
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if handleMaxBytesError(w, r, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}
	if err := s.opts.Service.Queue.SetMark(r.Context(), row, req.Mark); err != nil {
		slog.Error("Failed to set mark", "row", row, "error", err)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) MarkAllHandler(w http.ResponseWriter, r *http.Request) {
	s.setMarks(w, r, (*detach.Service).MarkAll)
}

func (s *Server) UnmarkAllHandler(w http.ResponseWriter, r *http.Request) {
	s.setMarks(w, r, (*detach.Service).UnmarkAll)
}

func (s *Server) setMarks(w http.ResponseWriter, r *http.Request, op func(*detach.Service, context.Context) error) {
	svc := s.opts.Service
	if err := op(&svc, r.Context()); err != nil {
		slog.Error("Failed to update marks", "error", err)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, func(ctx context.Context, svc *detach.Service) (any, error) {
		return svc.Search(ctx)
	})
}

// ProcessHandler trashes messages, so it insists on confirm=yes.
func (s *Server) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "yes" {
		writeErrorResponse(w, ErrorResponse{Error: ErrorDetail{
			Code:    "CONFIRMATION_REQUIRED",
			Message: detach.Confirmation,
			Details: map[string]interface{}{"confirm": "yes"},
		}}, http.StatusPreconditionFailed)
		return
	}
	s.startRun(w, r, func(ctx context.Context, svc *detach.Service) (any, error) {
		return svc.Process(ctx)
	})
}

// startRun runs op with fresh settings. Only one run may be active; with
// ?wait=true the result is returned inline, otherwise the run continues in
// the background and its progress is published under the returned job id.
// The job id is also the run's id under /api/runs.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, op func(context.Context, *detach.Service) (any, error)) {
	if s.opts.Service.Mail == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_ACCOUNT", "No linked account; link one through /api/glink and restart")
		return
	}
	if !s.running.TryLock() {
		writeError(w, http.StatusConflict, "RUN_IN_PROGRESS", "Another search or processing run is in progress")
		return
	}
	settings, err := s.opts.Settings(r.Context())
	if err != nil {
		s.running.Unlock()
		slog.Error("Failed to load settings", "error", err)
		writeError(w, http.StatusBadRequest, "BAD_SETTINGS", err.Error())
		return
	}
	jobId := uuid.New().String()
	svc := s.opts.Service
	svc.Settings = settings
	svc.Observer = s.opts.Hub.Observer(jobId)
	svc.RunId = jobId

	run := func(ctx context.Context) (any, error) {
		defer s.running.Unlock()
		res, err := op(ctx, &svc)
		if err != nil {
			s.opts.Hub.Publish(notification.Progress{RunId: jobId, Event: detach.Event{Notice: err.Error(), Done: true}})
		}
		return res, err
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			slog.Warn("Unable to lift write deadline", "job_id", jobId, "error", err)
		}
		res, err := run(r.Context())
		if err != nil {
			slog.Error("Run failed", "job_id", jobId, "error", err)
			writeServiceError(w, err)
			return
		}
		writeJSONResponse(w, RunResponse{JobId: jobId, Result: res}, http.StatusOK)
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := run(context.Background()); err != nil {
			slog.Error("Background run failed", "job_id", jobId, "error", err)
		}
	}()
	writeJSONResponse(w, RunResponse{JobId: jobId}, http.StatusAccepted)
}

func (s *Server) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	pageNo := getPageNumber(mux.Vars(r))
	runs, totResults, err := s.opts.DB.ListRuns(r.Context(), pageNo)
	if err != nil {
		slog.Error("Failed to get runs from database",
			"page", pageNo,
			"error", err)
		writeServiceError(w, err)
		return
	}
	body := RunsResponse{
		PageInfo: PaginationInfo{Page: pageNo, Size: totResults},
		Runs:     runs,
	}
	writeJSONResponse(w, body, http.StatusOK)
}

func (s *Server) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	runId := mux.Vars(r)["run_id"]
	run, err := s.opts.DB.GetRun(r.Context(), runId)
	if err != nil {
		slog.Error("Failed to get run", "run_id", runId, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, run, http.StatusOK)
}

func (s *Server) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.opts.Settings(r.Context())
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		writeError(w, http.StatusBadRequest, "BAD_SETTINGS", err.Error())
		return
	}
	writeJSONResponse(w, SettingsResponse{Settings: settings, Query: detach.BuildQuery(settings)}, http.StatusOK)
}

func getIntFromMap(vars map[string]string, field string) (int, bool) {
	field, present := vars[field]
	if !present {
		return 0, false
	}
	fieldInt, err := strconv.Atoi(field)
	if err != nil {
		return 0, false
	}
	return fieldInt, true
}

func getPageNumber(vars map[string]string) int {
	page, present := getIntFromMap(vars, "page")
	if !present {
		return 1
	}
	return page
}

// writeJSONResponse writes a JSON response with the given status code
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	serializedBody, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal JSON", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)

	if _, err := w.Write(serializedBody); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

type PaginationInfo struct {
	Size int `json:"size"`
	Page int `json:"page"`
}

type RowsResponse struct {
	Status string                `json:"status"`
	Rows   []detach.InventoryRow `json:"rows"`
}

type MarkRequest struct {
	Mark string `json:"mark"`
}

type RunResponse struct {
	JobId  string `json:"job_id"`
	Result any    `json:"result,omitempty"`
}

type RunsResponse struct {
	PageInfo PaginationInfo `json:"pagination_info"`
	Runs     []db.Run       `json:"runs"`
}

type SettingsResponse struct {
	Settings config.Settings `json:"settings"`
	Query    string          `json:"query"`
}
