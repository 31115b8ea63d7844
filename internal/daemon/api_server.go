package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"spool/internal/api"
	"spool/internal/config"
	"spool/internal/downloads"
	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/preflight"
	"spool/internal/services"
)

// apiServer exposes the daemon's control surface over HTTP for the spool CLI.
type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Daemon.Bind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/downloads", srv.handleDownloads)
	mux.HandleFunc("/api/downloads/", srv.handleDownloadItem)

	srv.server = &http.Server{
		Handler:           srv.withRequestContext(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// withRequestContext stamps every request with a correlation identifier so
// log lines emitted deeper in the orchestrator can be tied back to the call.
func (s *apiServer) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request handled",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, useful when bind used port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		RecordCount:  status.RecordCount,
		StatusCounts: status.StatusCounts,
	}
	for _, result := range preflight.RunAll(r.Context(), s.daemon.cfg) {
		payload.Preflight = append(payload.Preflight, api.PreflightLine{
			Name:   result.Name,
			Passed: result.Passed,
			Detail: result.Detail,
		})
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records := s.daemon.orch.Snapshot()
		items := make([]api.DownloadItem, 0, len(records))
		for _, record := range records {
			items = append(items, api.FromRecord(record))
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
		s.writeJSON(w, http.StatusOK, api.DownloadListResponse{Items: items})
	case http.MethodPost:
		s.handleQueue(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req api.QueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key := identity.GlobalKey(strings.TrimSpace(req.Key))
	if !key.Valid() {
		s.writeError(w, http.StatusBadRequest, "key must be serverID:ratingKey")
		return
	}

	ctx := services.WithOperation(services.WithItemKey(r.Context(), key.String()), "queue")

	var count int
	var err error
	if req.Missing {
		count, err = s.daemon.orch.QueueMissingEpisodes(ctx, key)
	} else {
		fetched, fetchErr := s.daemon.source.Item(ctx, key)
		if fetchErr != nil {
			s.writeQueueError(w, fetchErr)
			return
		}
		count, err = s.daemon.orch.QueueDownload(ctx, fetched)
	}
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueResponse{Count: count})
}

func (s *apiServer) handleDownloadItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/downloads/")
	if rest == "" {
		s.writeError(w, http.StatusBadRequest, "missing key")
		return
	}

	var action string
	key := identity.GlobalKey(rest)
	// Keys embed at most one separator segment; anything after a further "/"
	// is an action verb.
	if idx := strings.LastIndex(rest, "/"); idx > 0 {
		key = identity.GlobalKey(rest[:idx])
		action = rest[idx+1:]
	}
	if !key.Valid() {
		s.writeError(w, http.StatusBadRequest, "key must be serverID:ratingKey")
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		progress, ok := s.daemon.orch.Progress(key)
		if !ok {
			s.writeError(w, http.StatusNotFound, "no progress data")
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromProgress(progress))
	case r.Method == http.MethodDelete && action == "":
		ctx := services.WithOperation(services.WithItemKey(r.Context(), key.String()), "delete")
		if err := s.daemon.orch.Delete(ctx, key); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost:
		s.handleAction(w, r, key, action)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleAction(w http.ResponseWriter, r *http.Request, key identity.GlobalKey, action string) {
	ctx := services.WithOperation(services.WithItemKey(r.Context(), key.String()), action)

	var err error
	switch action {
	case "pause":
		err = s.daemon.orch.Pause(ctx, key)
	case "resume":
		err = s.daemon.orch.Resume(ctx, key)
	case "retry":
		err = s.daemon.orch.Retry(ctx, key)
	case "cancel":
		err = s.daemon.orch.Cancel(ctx, key)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, downloads.ErrNetworkBlocked):
		s.writeError(w, http.StatusServiceUnavailable, "network is constrained, queueing is blocked")
	case errors.Is(err, services.ErrValidation), errors.Is(err, downloads.ErrUnsupportedType):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrTransient):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
