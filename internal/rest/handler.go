package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/itsBintang/zenith-downloader/internal/coordinator"
	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/history"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
)

// HistoryLister reads back archived terminal downloads.
type HistoryLister interface {
	Recent(limit int) ([]history.Entry, error)
}

// DownloadHandler exposes the coordinator's command surface over a local
// REST endpoint: submit, pause, resume, cancel, list, get, plus an SSE
// event stream.
type DownloadHandler struct {
	coord        *coordinator.Coordinator
	sharedSecret string
	downloadDir  string
	archive      HistoryLister
}

func NewDownloadHandler(coord *coordinator.Coordinator, sharedSecret, downloadDir string) *DownloadHandler {
	return &DownloadHandler{
		coord:        coord,
		sharedSecret: sharedSecret,
		downloadDir:  downloadDir,
	}
}

// WithHistory enables the archive read endpoint.
func (h *DownloadHandler) WithHistory(archive HistoryLister) *DownloadHandler {
	h.archive = archive

	return h
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.authMiddleware)

	r.Post("/downloads", h.HandleSubmit)
	r.Get("/downloads", h.HandleList)
	r.Delete("/downloads/completed", h.HandleClear)
	r.Get("/downloads/{id}", h.HandleGet)
	r.Post("/downloads/{id}/pause", h.HandlePause)
	r.Post("/downloads/{id}/resume", h.HandleResume)
	r.Delete("/downloads/{id}", h.HandleCancel)
	r.Get("/classify", h.HandleClassify)
	r.Get("/events", h.HandleEvents)
	r.Get("/history", h.HandleHistory)

	return r
}

type submitRequest struct {
	URL         string            `json:"url"`
	Dir         string            `json:"dir,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	AutoExtract bool              `json:"auto_extract,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *DownloadHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode submit request", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	if req.Dir == "" {
		req.Dir = h.downloadDir
	}

	id, err := h.coord.Submit(r.Context(), download.Request{
		URL:         req.URL,
		Dir:         req.Dir,
		Filename:    req.Filename,
		Headers:     req.Headers,
		AutoExtract: req.AutoExtract,
	})
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.List())
}

func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.coord.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.Pause(r.Context(), id); err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *DownloadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.Resume(r.Context(), id); err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	policy := download.CleanupTemp
	if r.URL.Query().Get("mode") == string(download.CleanupPersist) {
		policy = download.CleanupPersist
	}

	if err := h.coord.Cancel(r.Context(), id, policy); err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *DownloadHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	cleared := h.coord.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (h *DownloadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})

		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})

			return
		}

		limit = parsed
	}

	entries, err := h.archive.Recent(limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read history", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})

		return
	}

	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *DownloadHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	kind, err := coordinator.Classify(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"kind": string(kind)})
}

// HandleEvents streams progress and completion events over SSE until the
// client disconnects.
func (h *DownloadHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events, cancel := h.coord.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event subscriber disconnected")

			return
		case event, ok := <-events:
			if !ok {
				return
			}

			payload, err := json.Marshal(event)
			if err != nil {
				logger.Error("failed to marshal event", "err", err)

				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()

			if event.Type == coordinator.EventComplete {
				logger.Info("download complete",
					"download_id", event.Record.ID,
					"filename", event.Filename,
					"size", humanize.Bytes(uint64(event.Record.Downloaded)))
			}
		}
	}
}

func (h *DownloadHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sharedSecret != "" {
			token := r.Header.Get("X-Zenith-Secret")
			if subtle.ConstantTimeCompare([]byte(token), []byte(h.sharedSecret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})

				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// writeError maps the error taxonomy onto HTTP statuses. Every body is a
// structured error string.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var schemeErr *download.UnsupportedSchemeError

	var magnetErr *download.InvalidMagnetError

	var stateErr *download.InvalidStateError

	var cancelledErr *download.CancelledError

	var startupErr *download.StartupError

	var timeoutErr *download.RpcTimeoutError

	switch {
	case errors.Is(err, download.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &schemeErr), errors.As(err, &magnetErr):
		status = http.StatusBadRequest
	case errors.As(err, &stateErr), errors.As(err, &cancelledErr):
		status = http.StatusConflict
	case errors.As(err, &startupErr), errors.As(err, &timeoutErr):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
