package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
	"timeline-service/internal/infra/ratelimit"
	"timeline-service/internal/usecase/stream"
	"timeline-service/internal/usecase/timeline"
)

// Service — операции ленты, нужные HTTP-слою.
type Service interface {
	Get(ctx context.Context, req timeline.Request) (domain.TimelinePage, error)
	GetForYou(ctx context.Context, req timeline.Request) (domain.TimelinePage, error)
	GetFollowing(ctx context.Context, req timeline.Request) (domain.TimelinePage, error)
	Refresh(ctx context.Context, viewerID string, since time.Time, maxItems int) (domain.TimelinePage, error)
	MarkRead(ctx context.Context, viewerID string, readUntil time.Time) error
	RecordEngagement(ctx context.Context, viewerID, noteID string, action domain.EngagementAction, duration time.Duration) error
	Preferences(ctx context.Context, viewerID string) (domain.FilterPreferences, error)
	UpdatePreferences(ctx context.Context, viewerID string, prefs domain.FilterPreferences) error
}

// EventSink принимает задачи фан-аута с пути записи.
type EventSink interface {
	Push(task domain.FanoutTask)
}

// Handler обслуживает HTTP API ленты.
type Handler struct {
	svc       Service
	hub       *stream.Hub
	limiter   *ratelimit.Limiter
	events    EventSink
	pings     map[string]func(context.Context) error
	authToken string
	log       zerolog.Logger
	now       func() time.Time
}

// NewHandler создаёт обработчик API.
func NewHandler(svc Service, hub *stream.Hub, limiter *ratelimit.Limiter, events EventSink, pings map[string]func(context.Context) error, authToken string, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:       svc,
		hub:       hub,
		limiter:   limiter,
		events:    events,
		pings:     pings,
		authToken: authToken,
		log:       logger.With().Str("component", "httpapi").Logger(),
		now:       time.Now,
	}
}

// RegisterRoutes вешает маршруты API на роутер. Стриминговый маршрут живёт
// вне группы с таймаутом: SSE-соединение держится дольше любого запроса.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/timeline/{viewerID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/", h.getTimeline)
			r.Get("/foryou", h.getForYou)
			r.Get("/following", h.getFollowing)
			r.Post("/refresh", h.refresh)
			r.Post("/read", h.markRead)
			r.Post("/engagement", h.recordEngagement)
			r.Get("/preferences", h.getPreferences)
			r.Put("/preferences", h.updatePreferences)
		})
		r.Get("/updates", h.streamUpdates)
	})
	r.With(middleware.Timeout(60 * time.Second)).Post("/v1/events/note", h.postNoteEvent)
	r.Get("/healthz", h.healthz)
}

// admit выполняет допуск запроса: токен деплоя, лимит частоты, проверка
// личности. viewerID пустой у админских маршрутов — тогда требуется x-admin.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, class, viewerID string) bool {
	if h.authToken != "" && r.Header.Get("x-auth-token") != h.authToken {
		h.writeError(w, r, domain.E(domain.KindUnauthorized, "неверный токен доступа"))
		return false
	}

	caller := r.Header.Get("x-user-id")
	key := caller
	if key == "" {
		key = r.RemoteAddr
	}
	if !h.limiter.Allow(class, key, headerInt(r, "x-rate-rpm")) {
		metrics.RateLimited.WithLabelValues(class).Inc()
		h.writeError(w, r, domain.E(domain.KindRateLimited, "превышен лимит запросов"))
		return false
	}

	admin := isAdmin(r)
	if viewerID == "" {
		if !admin {
			h.writeError(w, r, domain.E(domain.KindUnauthorized, "требуются права администратора"))
			return false
		}
		return true
	}
	if caller != viewerID && !admin {
		h.writeError(w, r, domain.E(domain.KindUnauthorized, "доступ к чужой ленте запрещён"))
		return false
	}
	return true
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassTimeline, viewerID) {
		return
	}
	req := parseTimelineRequest(r, viewerID, false)
	page, err := h.svc.Get(r.Context(), req)
	metrics.ObserveTimelineRequest("timeline", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePage(w, page, includeSignals(r))
}

func (h *Handler) getForYou(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassTimeline, viewerID) {
		return
	}
	req := parseTimelineRequest(r, viewerID, true)
	page, err := h.svc.GetForYou(r.Context(), req)
	metrics.ObserveTimelineRequest("foryou", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePage(w, page, includeSignals(r))
}

func (h *Handler) getFollowing(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassTimeline, viewerID) {
		return
	}
	req := parseTimelineRequest(r, viewerID, false)
	page, err := h.svc.GetFollowing(r.Context(), req)
	metrics.ObserveTimelineRequest("following", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePage(w, page, includeSignals(r))
}

type refreshRequest struct {
	Since    time.Time `json:"since"`
	MaxItems int       `json:"max_items"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassRefresh, viewerID) {
		return
	}
	var body refreshRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.svc.Refresh(r.Context(), viewerID, body.Since, body.MaxItems)
	metrics.ObserveTimelineRequest("refresh", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writePage(w, page, includeSignals(r))
}

type markReadRequest struct {
	ReadUntil time.Time `json:"read_until"`
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassRead, viewerID) {
		return
	}
	var body markReadRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.MarkRead(r.Context(), viewerID, body.ReadUntil); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true})
}

type engagementRequest struct {
	NoteID          string  `json:"note_id"`
	Action          string  `json:"action"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (h *Handler) recordEngagement(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassEngagement, viewerID) {
		return
	}
	var body engagementRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	duration := time.Duration(body.DurationSeconds * float64(time.Second))
	err := h.svc.RecordEngagement(r.Context(), viewerID, body.NoteID, domain.EngagementAction(body.Action), duration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true})
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassPreferences, viewerID) {
		return
	}
	prefs, err := h.svc.Preferences(r.Context(), viewerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesResponse{Success: true, Preferences: prefs})
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassPreferences, viewerID) {
		return
	}
	var prefs domain.FilterPreferences
	if err := decodeBody(r, &prefs); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.UpdatePreferences(r.Context(), viewerID, prefs); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true})
}

// streamUpdates отдаёт SSE-поток инкрементальных обновлений ленты.
func (h *Handler) streamUpdates(w http.ResponseWriter, r *http.Request) {
	viewerID := chi.URLParam(r, "viewerID")
	if !h.admit(w, r, ratelimit.ClassStream, viewerID) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, domain.E(domain.KindInternal, "стриминг не поддерживается транспортом"))
		return
	}
	session, err := h.hub.Subscribe(viewerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer h.hub.Unsubscribe(session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug().Str("viewer_id", viewerID).Str("session_id", session.ID()).
		Msg("httpapi: стриминговая сессия открыта")

	for {
		update, err := session.Next(r.Context())
		if err != nil {
			return
		}
		data, err := json.Marshal(update)
		if err != nil {
			h.log.Warn().Err(err).Msg("httpapi: не удалось сериализовать обновление")
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

type noteEventRequest struct {
	Kind string      `json:"kind"`
	Note domain.Note `json:"note"`
}

// postNoteEvent кладёт событие записи напрямую в очередь фан-аута. Маршрут
// админский: x-user-id здесь не сверяется с зрителем.
func (h *Handler) postNoteEvent(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r, ratelimit.ClassEvents, "") {
		return
	}
	var body noteEventRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	kind := domain.EventKind(body.Kind)
	switch kind {
	case domain.EventNoteCreated, domain.EventNoteUpdated, domain.EventNoteDeleted:
	default:
		h.writeError(w, r, domain.Ef(domain.KindInvalidArgument, "неизвестный вид события: %q", body.Kind))
		return
	}
	if body.Note.NoteID == "" || body.Note.AuthorID == "" {
		h.writeError(w, r, domain.E(domain.KindInvalidArgument, "note_id и author_id обязательны"))
		return
	}

	event := domain.NoteEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		Note:       body.Note,
		OccurredAt: h.now().UTC(),
	}
	h.events.Push(domain.FanoutTask{Event: event})
	writeJSON(w, http.StatusAccepted, eventResponse{Success: true, EventID: event.ID})
}

// healthz проверяет живость процесса и зависимостей.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.pings))
	healthy := true
	for name, ping := range h.pings {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Success: healthy, Checks: checks})
}
