package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/jo-hoe/morphportal/internal/common"
	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/effects"
	"github.com/jo-hoe/morphportal/internal/notify"
	"github.com/jo-hoe/morphportal/internal/session"
	"github.com/jo-hoe/morphportal/internal/storage"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

type Service struct {
	Log       *slog.Logger
	Cfg       *config.Config
	Session   *session.Session
	Reader    *storage.Reader
	Hub       *notify.Hub
	Particles *effects.Emitter
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodGet+" "+common.PathSession, svc.withCommon(svc.handleSnapshot))
	mux.HandleFunc(http.MethodPut+" "+common.PathView, svc.withCommon(svc.handleSetView))
	mux.HandleFunc(http.MethodPost+" "+common.PathImage, svc.withCommon(svc.handleStage))
	mux.HandleFunc(http.MethodDelete+" "+common.PathImage, svc.withCommon(svc.handleClearStaged))
	mux.HandleFunc(http.MethodPost+" "+common.PathQuickPick, svc.withCommon(svc.handleQuickPick))
	mux.HandleFunc(http.MethodPost+" "+common.PathTransform, svc.withCommon(svc.handleTransform))
	mux.HandleFunc(http.MethodPost+" "+common.PathCancel, svc.withCommon(svc.handleCancel))
	mux.HandleFunc(http.MethodGet+" "+common.PathGallery, svc.withCommon(svc.handleGallery))
	mux.HandleFunc(http.MethodGet+" "+common.PathGallery+"/{id}", svc.withCommon(svc.handleRecord))
	mux.HandleFunc(http.MethodGet+" "+common.PathNotifications, svc.withCommon(svc.handleNotifications))
	mux.HandleFunc(http.MethodGet+" "+common.PathEvents, svc.withCommon(svc.handleEvents))
	mux.HandleFunc(http.MethodGet+" "+common.PathParticles, svc.withCommon(svc.handleParticles))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	if svc.Hub != nil {
		// Shutdown does not cancel running requests; end event streams explicitly.
		s.RegisterOnShutdown(svc.Hub.Close)
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		// Enforce max body size
		max := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

func (svc *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.Session.Snapshot())
}

type viewRequest struct {
	View string `json:"view"`
}

func (svc *Service) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	v, err := session.ParseView(req.View)
	if err == nil {
		err = svc.Session.SetView(v)
	}
	if err != nil {
		svc.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.Session.Snapshot())
}

func (svc *Service) handleStage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fileHeader := r.MultipartForm.File["file"]
	if len(fileHeader) == 0 {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}

	img, err := svc.Reader.ReadMultipartImage(fileHeader[0])
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "upload failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := svc.Session.Stage(img); err != nil {
		svc.writeError(w, err)
		return
	}
	svc.Log.Info("image staged", "mime", img.MimeType, "bytes", img.Size, "width", img.Width, "height", img.Height)
	writeJSON(w, http.StatusOK, svc.Session.Snapshot())
}

func (svc *Service) handleClearStaged(w http.ResponseWriter, r *http.Request) {
	if err := svc.Session.ClearStaged(); err != nil {
		svc.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.Session.Snapshot())
}

type quickPickRequest struct {
	URL string `json:"url"`
}

type flightResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

func (svc *Service) handleQuickPick(w http.ResponseWriter, r *http.Request) {
	var req quickPickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		raw = svc.Cfg.Transform.DemoImageURL
	}
	img, err := storage.RemoteImage(raw)
	if err != nil {
		http.Error(w, "invalid url: "+err.Error(), http.StatusBadRequest)
		return
	}
	ticket, err := svc.Session.QuickPick(img)
	if err != nil {
		svc.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, flightResponse{JobID: ticket.JobID, StatusURL: common.PathSession})
}

func (svc *Service) handleTransform(w http.ResponseWriter, r *http.Request) {
	ticket, err := svc.Session.Begin()
	if err != nil {
		svc.writeError(w, err)
		return
	}

	// Determine sync vs async based on Prefer header
	prefer := strings.ToLower(strings.TrimSpace(r.Header.Get(common.HeaderPrefer)))
	if strings.Contains(prefer, common.PreferRespondAsync) {
		svc.Log.Info("transformation accepted", "job_id", ticket.JobID)
		writeJSON(w, http.StatusAccepted, flightResponse{JobID: ticket.JobID, StatusURL: common.PathSession})
		return
	}

	rec, err := ticket.Wait(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; the flight keeps running.
			svc.Log.Debug("client left before completion", "job_id", ticket.JobID)
			return
		}
		svc.writeError(w, err)
		return
	}
	w.Header().Set("Location", path.Join(common.PathGallery, rec.ID))
	writeJSON(w, http.StatusCreated, rec)
}

func (svc *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := svc.Session.Cancel(); err != nil {
		svc.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.Session.Snapshot())
}

func (svc *Service) handleGallery(w http.ResponseWriter, r *http.Request) {
	records, err := svc.Session.Gallery()
	if err != nil {
		svc.writeError(w, err)
		return
	}
	if records == nil {
		records = []transforms.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (svc *Service) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := svc.Session.Record(r.PathValue("id"))
	if err != nil {
		svc.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (svc *Service) handleNotifications(w http.ResponseWriter, r *http.Request) {
	active := []notify.Event{}
	if svc.Hub != nil {
		active = append(active, svc.Hub.Active()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": active})
}

// handleEvents streams toasts as server-sent events until the client leaves.
func (svc *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if svc.Hub == nil {
		http.Error(w, "notifications disabled", http.StatusServiceUnavailable)
		return
	}
	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := svc.Hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", common.ContentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, ev := range svc.Hub.Active() {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		svc.Log.Debug("event stream not flushable", "error", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, ev notify.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, b)
	return err
}

func (svc *Service) handleParticles(w http.ResponseWriter, r *http.Request) {
	live := []effects.Particle{}
	if svc.Particles != nil {
		live = append(live, svc.Particles.Live()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"particles": live})
}

// writeError maps session and store errors to HTTP statuses.
func (svc *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrEmptyImage), errors.Is(err, session.ErrUnknownView):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNoImageStaged):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrAlreadyInProgress),
		errors.Is(err, session.ErrNothingToCancel),
		errors.Is(err, session.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, session.ErrTransformationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, transforms.ErrNotFound):
		status = http.StatusNotFound
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		svc.Log.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *writeWrap) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
