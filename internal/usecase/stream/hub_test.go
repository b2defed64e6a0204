package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"timeline-service/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func update(noteID string) domain.TimelineUpdate {
	return domain.TimelineUpdate{Type: domain.UpdateNewNote, NoteID: noteID, At: testNow}
}

func TestSubscribeAndPushDelivers(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	s, err := h.Subscribe("v1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.ViewerID() != "v1" || s.ID() == "" {
		t.Fatalf("сессия должна нести зрителя и идентификатор")
	}

	h.Push("v1", update("n1"))

	got, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Type != domain.UpdateNewNote || got.NoteID != "n1" {
		t.Fatalf("ожидали обновление n1, получили %+v", got)
	}
}

func TestPushToUnknownViewerIsNoop(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	h.Push("ghost", update("n1"))
	if h.SessionCount() != 0 {
		t.Fatalf("реестр должен остаться пустым")
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	h := NewHub(2, 100, 50*time.Millisecond, time.Minute)
	s, _ := h.Subscribe("v1")

	h.Push("v1", update("n1"))
	h.Push("v1", update("n2"))
	h.Push("v1", update("n3"))

	first, _ := s.Next(context.Background())
	second, _ := s.Next(context.Background())
	if first.NoteID != "n2" || second.NoteID != "n3" {
		t.Fatalf("при переполнении вытесняется самое старое: %s, %s", first.NoteID, second.NoteID)
	}
}

func TestRateLimitDropsExcess(t *testing.T) {
	h := NewHub(16, 1, 20*time.Millisecond, time.Minute)
	current := testNow
	h.now = func() time.Time { return current }
	s, _ := h.Subscribe("v1")

	// Единственный токен уходит на n1, n2 отбрасывается, не копится.
	h.Push("v1", update("n1"))
	h.Push("v1", update("n2"))

	got, err := s.Next(context.Background())
	if err != nil || got.NoteID != "n1" {
		t.Fatalf("ожидали n1, получили %+v (%v)", got, err)
	}
	got, err = s.Next(context.Background())
	if err != nil || got.Type != domain.UpdateHeartbeat {
		t.Fatalf("выброшенное обновление не доставляется, ожидали heartbeat: %+v", got)
	}

	// Через секунду токен пополняется.
	current = current.Add(time.Second)
	h.Push("v1", update("n3"))
	got, err = s.Next(context.Background())
	if err != nil || got.NoteID != "n3" {
		t.Fatalf("после пополнения ожидали n3, получили %+v (%v)", got, err)
	}
}

func TestHeartbeatWhenIdle(t *testing.T) {
	h := NewHub(16, 100, 5*time.Millisecond, time.Minute)
	s, _ := h.Subscribe("v1")

	got, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Type != domain.UpdateHeartbeat {
		t.Fatalf("при простое ожидали heartbeat, получили %+v", got)
	}
}

func TestNextHonoursContext(t *testing.T) {
	h := NewHub(16, 100, time.Minute, time.Minute)
	s, _ := h.Subscribe("v1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	s, _ := h.Subscribe("v1")

	h.Unsubscribe(s)
	if h.SessionCount() != 0 {
		t.Fatalf("сессия должна уйти из реестра")
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ожидали ErrClosed, получили %v", err)
	}
	// Повторная отписка и пуш после закрытия безопасны.
	h.Unsubscribe(s)
	h.Push("v1", update("n1"))
}

func TestPendingDrainedBeforeClose(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	s, _ := h.Subscribe("v1")

	h.Push("v1", update("n1"))
	s.close()

	got, err := s.Next(context.Background())
	if err != nil || got.NoteID != "n1" {
		t.Fatalf("накопленное отдаётся до закрытия: %+v (%v)", got, err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("после опустошения ожидали ErrClosed, получили %v", err)
	}
}

func TestShutdownClosesEverySession(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	s1, _ := h.Subscribe("v1")
	s2, _ := h.Subscribe("v2")

	h.Shutdown()
	if h.SessionCount() != 0 {
		t.Fatalf("после остановки реестр пуст")
	}
	if _, err := s1.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ожидали ErrClosed, получили %v", err)
	}
	if _, err := s2.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ожидали ErrClosed, получили %v", err)
	}
	if _, err := h.Subscribe("v3"); domain.KindOf(err) != domain.KindUnavailable {
		t.Fatalf("подписка после остановки — UNAVAILABLE, получили %v", err)
	}
}

func TestIdleSessionPrunedOnPush(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, 10*time.Millisecond)
	current := testNow
	h.now = func() time.Time { return current }
	s, _ := h.Subscribe("v1")

	current = current.Add(time.Second)
	h.Push("v1", update("n1"))

	if h.SessionCount() != 0 {
		t.Fatalf("простаивающая сессия вычищается при рассылке")
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("ожидали ErrClosed, получили %v", err)
	}
}

func TestSubscribeRequiresViewer(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	if _, err := h.Subscribe(""); domain.KindOf(err) != domain.KindInvalidArgument {
		t.Fatalf("пустой viewer_id — INVALID_ARGUMENT, получили %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	h := NewHub(16, 100, 50*time.Millisecond, time.Minute)
	s1, _ := h.Subscribe("v1")
	s2, _ := h.Subscribe("v1")

	h.Push("v1", update("n1"))

	got1, err := s1.Next(context.Background())
	if err != nil || got1.NoteID != "n1" {
		t.Fatalf("первая сессия должна получить обновление")
	}
	got2, err := s2.Next(context.Background())
	if err != nil || got2.NoteID != "n1" {
		t.Fatalf("вторая сессия должна получить своё обновление")
	}
}
