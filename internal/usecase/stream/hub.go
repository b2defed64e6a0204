package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// ErrClosed возвращается из Next, когда сессия закрыта и обновлений больше
// не будет.
var ErrClosed = errors.New("стрим: сессия закрыта")

const (
	defaultQueueSize     = 16
	defaultRatePerSecond = 5.0
	defaultHeartbeat     = 500 * time.Millisecond
	defaultIdleTTL       = 5 * time.Minute
)

// Hub — реестр стриминговых сессий по зрителям. Доставка best-effort:
// переполнение очереди и превышение частоты теряют сообщения, подписчик
// добирает их обычным запросом ленты.
type Hub struct {
	queueSize     int
	ratePerSecond float64
	heartbeat     time.Duration
	idleTTL       time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]*Session
	closed   bool

	now func() time.Time
}

// NewHub создаёт реестр. Неположительные параметры заменяются значениями
// по умолчанию.
func NewHub(queueSize int, ratePerSecond float64, heartbeat, idleTTL time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if ratePerSecond <= 0 {
		ratePerSecond = defaultRatePerSecond
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Hub{
		queueSize:     queueSize,
		ratePerSecond: ratePerSecond,
		heartbeat:     heartbeat,
		idleTTL:       idleTTL,
		sessions:      make(map[string]map[string]*Session),
		now:           time.Now,
	}
}

// Subscribe регистрирует новую сессию зрителя.
func (h *Hub) Subscribe(viewerID string) (*Session, error) {
	if viewerID == "" {
		return nil, domain.E(domain.KindInvalidArgument, "viewer_id обязателен")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, domain.E(domain.KindUnavailable, "стриминг останавливается")
	}

	now := h.now()
	s := &Session{
		id:         uuid.NewString(),
		viewerID:   viewerID,
		hub:        h,
		wake:       make(chan struct{}, 1),
		tokens:     h.ratePerSecond,
		lastRefill: now,
		lastActive: now,
	}
	byID, ok := h.sessions[viewerID]
	if !ok {
		byID = make(map[string]*Session)
		h.sessions[viewerID] = byID
	}
	byID[s.id] = s
	metrics.StreamSessions.Inc()
	return s, nil
}

// Unsubscribe закрывает сессию и убирает её из реестра.
func (h *Hub) Unsubscribe(s *Session) {
	if s == nil {
		return
	}
	s.close()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deregister(s)
}

// Push рассылает обновление всем живым сессиям зрителя. Закрытые и
// простаивающие сессии вычищаются по пути.
func (h *Hub) Push(viewerID string, update domain.TimelineUpdate) {
	h.mu.Lock()
	byID := h.sessions[viewerID]
	if len(byID) == 0 {
		h.mu.Unlock()
		return
	}
	now := h.now()
	targets := make([]*Session, 0, len(byID))
	for _, s := range byID {
		if s.expired(now, h.idleTTL) {
			s.close()
		}
		if s.isClosed() {
			h.deregister(s)
			continue
		}
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.offer(update, now)
	}
}

// Shutdown закрывает все сессии; подписчики получают ErrClosed.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	var all []*Session
	for _, byID := range h.sessions {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	h.sessions = make(map[string]map[string]*Session)
	h.mu.Unlock()

	for _, s := range all {
		s.close()
		metrics.StreamSessions.Dec()
	}
}

// SessionCount возвращает число зарегистрированных сессий.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, byID := range h.sessions {
		n += len(byID)
	}
	return n
}

// deregister вызывается под h.mu.
func (h *Hub) deregister(s *Session) {
	byID, ok := h.sessions[s.viewerID]
	if !ok {
		return
	}
	if _, ok := byID[s.id]; !ok {
		return
	}
	delete(byID, s.id)
	if len(byID) == 0 {
		delete(h.sessions, s.viewerID)
	}
	metrics.StreamSessions.Dec()
}

// Session — одна стриминговая подписка. Принадлежит одному соединению;
// Next вызывается только из него.
type Session struct {
	id       string
	viewerID string
	hub      *Hub

	mu      sync.Mutex
	pending []domain.TimelineUpdate
	closed  bool
	wake    chan struct{}

	tokens     float64
	lastRefill time.Time
	lastActive time.Time
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string { return s.id }

// ViewerID возвращает зрителя сессии.
func (s *Session) ViewerID() string { return s.viewerID }

// Next блокируется до следующего обновления. Простой дольше интервала
// сердцебиения возвращает heartbeat, чтобы соединение не молчало.
func (s *Session) Next(ctx context.Context) (domain.TimelineUpdate, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			update := s.pending[0]
			s.pending = s.pending[1:]
			s.lastActive = s.hub.now()
			s.mu.Unlock()
			metrics.StreamUpdates.WithLabelValues("delivered").Inc()
			return update, nil
		}
		if s.closed {
			s.mu.Unlock()
			return domain.TimelineUpdate{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.TimelineUpdate{}, ctx.Err()
		case <-s.wake:
		case <-time.After(s.hub.heartbeat):
			s.mu.Lock()
			s.lastActive = s.hub.now()
			s.mu.Unlock()
			metrics.StreamUpdates.WithLabelValues("heartbeat").Inc()
			return domain.TimelineUpdate{Type: domain.UpdateHeartbeat, At: s.hub.now().UTC()}, nil
		}
	}
}

// offer кладёт обновление в очередь сессии: сверх частоты — дроп, при
// полной очереди вытесняется самое старое.
func (s *Session) offer(update domain.TimelineUpdate, now time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.takeToken(now) {
		s.mu.Unlock()
		metrics.StreamUpdates.WithLabelValues("throttled").Inc()
		return
	}
	dropped := false
	if len(s.pending) >= s.hub.queueSize {
		s.pending = s.pending[1:]
		dropped = true
	}
	s.pending = append(s.pending, update)
	s.mu.Unlock()

	if dropped {
		metrics.StreamUpdates.WithLabelValues("dropped").Inc()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takeToken вызывается под s.mu.
func (s *Session) takeToken(now time.Time) bool {
	rate := s.hub.ratePerSecond
	elapsed := now.Sub(s.lastRefill).Seconds()
	if elapsed > 0 {
		s.tokens += elapsed * rate
		if s.tokens > rate {
			s.tokens = rate
		}
		s.lastRefill = now
	}
	if s.tokens < 1 {
		return false
	}
	s.tokens--
	return true
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive) > ttl
}
