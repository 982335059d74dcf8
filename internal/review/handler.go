package review

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/discovery"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/runlock"
	"github.com/sells-group/karaoke-scout/internal/store"
)

// Runner starts pipeline runs in the background and returns the staging
// record they write to.
type Runner interface {
	Start(ctx context.Context, req model.RunRequest) (*model.ParsedSchedule, error)
	Reparse(ctx context.Context, id string) (*model.ParsedSchedule, error)
}

// HandlerOptions configures the review API.
type HandlerOptions struct {
	AllowedOrigins []string
}

type handler struct {
	gateway *Gateway
	runner  Runner
}

// NewHandler builds the review API router.
func NewHandler(g *Gateway, runner Runner, opts HandlerOptions) http.Handler {
	h := &handler{gateway: g, runner: runner}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", h.startRun)
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.list)
			r.Get("/pending-reviews", h.pending)
			r.Get("/{id}", h.get)
			r.Post("/{id}/approve", h.approve)
			r.Post("/{id}/reject", h.reject)
			r.Post("/{id}/reparse", h.reparse)
		})
	})
	return r
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ScheduleFilter{
		Status: model.ScheduleStatus(q.Get("status")),
		URL:    q.Get("url"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+string(filter.Status))
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}

	items, err := h.gateway.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	items, err := h.gateway.ListPending(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.gateway.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type approveRequest struct {
	ReviewedBy string                  `json:"reviewed_by"`
	Edits      *model.AggregatedResult `json:"edits,omitempty"`
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ReviewedBy == "" {
		writeError(w, http.StatusBadRequest, "reviewed_by is required")
		return
	}

	res, err := h.gateway.Approve(r.Context(), chi.URLParam(r, "id"), req.ReviewedBy, req.Edits)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Reason     string `json:"reason"`
}

func (h *handler) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ReviewedBy == "" {
		writeError(w, http.StatusBadRequest, "reviewed_by is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.gateway.Reject(r.Context(), id, req.ReviewedBy, req.Reason); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.StatusRejected)})
}

func (h *handler) reparse(w http.ResponseWriter, r *http.Request) {
	ps, err := h.runner.Reparse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(ps))
}

func (h *handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req model.RunRequest
	if !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if _, ok := discovery.ParseMode(req.Mode); !ok {
		writeError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}
	if req.MaxDepth < 0 || req.MaxUnits < 0 {
		writeError(w, http.StatusBadRequest, "max_depth and max_units must not be negative")
		return
	}

	ps, err := h.runner.Start(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(ps))
}

func accepted(ps *model.ParsedSchedule) map[string]string {
	return map[string]string{"id": ps.ID, "url": ps.URL, "status": string(ps.Status)}
}

// fail maps err onto a status code and writes it.
func (h *handler) fail(w http.ResponseWriter, err error) {
	var statusErr *StatusError
	var conflict *store.StatusConflictError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidEdits):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadyTerminal), errors.Is(err, runlock.ErrLocked),
		errors.As(err, &statusErr), errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("review: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("review: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
