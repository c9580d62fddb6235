package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/download_history/internal/history"
	"github.com/italolelis/download_history/internal/logctx"
	"github.com/italolelis/download_history/internal/manager"
	"github.com/italolelis/download_history/internal/storage"
)

// Runner executes fn on the history loop and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// PersistenceReporter exposes the engine's view of live downloads.
type PersistenceReporter interface {
	State(id uint32) (history.PersistenceState, bool)
	InitialLoadComplete() bool
}

type HistoryHandler struct {
	username string
	password string
	loop     Runner
	manager  *manager.Manager
	engine   PersistenceReporter
	repo     storage.DownloadReadRepository
}

// NewHistoryHandler creates the download and history API. Mutating routes
// require basic auth when username is not empty.
func NewHistoryHandler(
	username, password string,
	loop Runner,
	mgr *manager.Manager,
	engine PersistenceReporter,
	repo storage.DownloadReadRepository,
) *HistoryHandler {
	return &HistoryHandler{
		username: username,
		password: password,
		loop:     loop,
		manager:  mgr,
		engine:   engine,
		repo:     repo,
	}
}

func (h *HistoryHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)
	r.Get("/downloads", h.HandleListDownloads)
	r.Get("/downloads/{id}", h.HandleGetDownload)
	r.Get("/history", h.HandleListHistory)
	r.Get("/history/{id}", h.HandleGetHistory)

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Post("/downloads", h.HandleStartDownload)
		r.Post("/downloads/{id}/progress", h.HandleProgress)
		r.Post("/downloads/{id}/rename", h.HandleRename)
		r.Post("/downloads/{id}/complete", h.HandleComplete)
		r.Post("/downloads/{id}/interrupt", h.HandleInterrupt)
		r.Post("/downloads/{id}/cancel", h.HandleCancel)
		r.Post("/downloads/{id}/open", h.HandleOpen)
		r.Delete("/downloads/{id}", h.HandleRemove)
	})

	return r
}

type downloadResponse struct {
	history.Row

	Done        bool   `json:"done"`
	Persistence string `json:"persistence"`
}

type healthResponse struct {
	Status              string `json:"status"`
	InitialLoadComplete bool   `json:"initial_load_complete"`
}

type progressRequest struct {
	ReceivedBytes int64               `json:"received_bytes"`
	Slices        []history.SliceInfo `json:"slices,omitempty"`
}

type renameRequest struct {
	TargetPath string `json:"target_path"`
}

type completeRequest struct {
	Hash string `json:"hash"`
}

type interruptRequest struct {
	Reason string `json:"reason"`
}

func (h *HistoryHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse

	if err := h.loop.Do(r.Context(), func() {
		resp.InitialLoadComplete = h.engine.InitialLoadComplete()
	}); err != nil {
		h.writeError(w, r, err)

		return
	}

	resp.Status = "ok"

	writeJSON(w, http.StatusOK, resp)
}

func (h *HistoryHandler) HandleListDownloads(w http.ResponseWriter, r *http.Request) {
	var resp []downloadResponse

	if err := h.loop.Do(r.Context(), func() {
		resp = make([]downloadResponse, 0)
		for _, item := range h.manager.List() {
			resp = append(resp, h.describe(item))
		}
	}); err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *HistoryHandler) HandleGetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error { return nil })
}

func (h *HistoryHandler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req manager.StartOptions
	if !decode(w, r, &req) {
		return
	}

	var (
		resp downloadResponse
		err  error
	)

	if doErr := h.loop.Do(r.Context(), func() {
		var item *manager.Item

		item, err = h.manager.Start(req)
		if err == nil {
			resp = h.describe(item)
		}
	}); doErr != nil {
		err = doErr
	}

	if err != nil {
		h.writeError(w, r, err)

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("download created via api", "download_id", resp.ID)

	writeJSON(w, http.StatusCreated, resp)
}

func (h *HistoryHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req progressRequest
	if !decode(w, r, &req) {
		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error {
		return h.manager.Progress(id, req.ReceivedBytes, req.Slices)
	})
}

func (h *HistoryHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if !decode(w, r, &req) {
		return
	}

	if req.TargetPath == "" {
		http.Error(w, "target_path is required", http.StatusBadRequest)

		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error {
		return h.manager.Rename(id, req.TargetPath)
	})
}

func (h *HistoryHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error {
		return h.manager.Complete(id, req.Hash)
	})
}

func (h *HistoryHandler) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req interruptRequest
	if !decode(w, r, &req) {
		return
	}

	reason, ok := history.ParseInterruptReason(req.Reason)
	if !ok || reason == history.InterruptNone {
		http.Error(w, "unknown interrupt reason", http.StatusBadRequest)

		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error {
		return h.manager.Interrupt(id, reason)
	})
}

func (h *HistoryHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error {
		return h.manager.Cancel(id)
	})
}

func (h *HistoryHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	h.respondWithDownload(w, r, http.StatusOK, id, func() error {
		return h.manager.Open(id)
	})
}

func (h *HistoryHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var err error

	if doErr := h.loop.Do(r.Context(), func() { err = h.manager.Remove(id) }); doErr != nil {
		err = doErr
	}

	if err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HistoryHandler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.repo.QueryDownloads(r.Context())
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	if rows == nil {
		rows = []history.Row{}
	}

	writeJSON(w, http.StatusOK, rows)
}

func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	row, err := h.repo.GetDownload(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, row)
}

// respondWithDownload runs action on the loop and answers with the
// download's state afterwards.
func (h *HistoryHandler) respondWithDownload(w http.ResponseWriter, r *http.Request, status int, id uint32, action func() error) {
	var (
		resp downloadResponse
		err  error
	)

	if doErr := h.loop.Do(r.Context(), func() {
		if err = action(); err != nil {
			return
		}

		item, ok := h.manager.Get(id)
		if !ok {
			err = manager.ErrNotFound

			return
		}

		resp = h.describe(item)
	}); doErr != nil {
		err = doErr
	}

	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, status, resp)
}

// describe must run on the loop.
func (h *HistoryHandler) describe(item *manager.Item) downloadResponse {
	state, _ := h.engine.State(item.ID())

	return downloadResponse{
		Row:         item.Row(),
		Done:        item.IsDone(),
		Persistence: state.String(),
	}
}

func (h *HistoryHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	switch {
	case errors.Is(err, manager.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		http.Error(w, "download not found", http.StatusNotFound)
	case errors.Is(err, manager.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, manager.ErrMissingURL):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, manager.ErrNotInitialized):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "history loop unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error("failed to handle request", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *HistoryHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid download id", http.StatusBadRequest)

		return 0, false
	}

	return uint32(id), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Debug("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
