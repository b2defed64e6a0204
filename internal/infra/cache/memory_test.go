package cache

import (
	"context"
	"testing"
	"time"

	"timeline-service/internal/domain"
)

func item(noteID, authorID string, createdAt time.Time) domain.RankedItem {
	return domain.RankedItem{
		Note: domain.Note{
			NoteID:    noteID,
			AuthorID:  authorID,
			Text:      "заметка " + noteID,
			CreatedAt: createdAt,
		},
		Source:     domain.SourceFollowing,
		FinalScore: 1,
		InjectedAt: createdAt,
	}
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Now()

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", now)}, time.Minute)

	items, ok := m.Get(ctx, "v1")
	if !ok {
		t.Fatal("ожидали попадание в кэш")
	}
	if len(items) != 1 || items[0].Note.NoteID != "n1" {
		t.Fatalf("неожиданное содержимое кэша: %+v", items)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Now()

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", now), item("n2", "a2", now)}, time.Minute)

	items, _ := m.Get(ctx, "v1")
	items[0].Note.NoteID = "взломано"

	again, _ := m.Get(ctx, "v1")
	if again[0].Note.NoteID != "n1" {
		t.Fatalf("кэш отдал внутреннюю ссылку: %q", again[0].Note.NoteID)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", time.Now())}, time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := m.Get(ctx, "v1"); ok {
		t.Fatal("просроченная запись должна считаться промахом")
	}
	// Повторный промах: запись уже выброшена.
	if _, ok := m.Get(ctx, "v1"); ok {
		t.Fatal("запись не была удалена после ленивой очистки")
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	now := time.Now()

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", now)}, time.Minute)
	m.Put(ctx, "v2", []domain.RankedItem{item("n2", "a2", now)}, time.Minute)
	// v1 становится самым свежим.
	if _, ok := m.Get(ctx, "v1"); !ok {
		t.Fatal("v1 должен быть в кэше")
	}
	m.Put(ctx, "v3", []domain.RankedItem{item("n3", "a3", now)}, time.Minute)

	if _, ok := m.Get(ctx, "v2"); ok {
		t.Fatal("v2 должен быть вытеснен как самый старый")
	}
	if _, ok := m.Get(ctx, "v1"); !ok {
		t.Fatal("v1 не должен был быть вытеснен")
	}
	if _, ok := m.Get(ctx, "v3"); !ok {
		t.Fatal("v3 должен быть в кэше")
	}
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", time.Now())}, time.Minute)
	m.Invalidate(ctx, "v1")

	if _, ok := m.Get(ctx, "v1"); ok {
		t.Fatal("после инвалидации чтение должно быть промахом")
	}
}

func TestMemoryInvalidateAuthor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Now()

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", now), item("n2", "a2", now)}, time.Minute)
	m.Put(ctx, "v2", []domain.RankedItem{item("n3", "a2", now)}, time.Minute)
	m.Put(ctx, "v3", []domain.RankedItem{item("n4", "a3", now)}, time.Minute)

	m.InvalidateAuthor(ctx, "a2")

	if _, ok := m.Get(ctx, "v1"); ok {
		t.Fatal("лента v1 содержала автора a2 и должна быть сброшена")
	}
	if _, ok := m.Get(ctx, "v2"); ok {
		t.Fatal("лента v2 содержала автора a2 и должна быть сброшена")
	}
	if _, ok := m.Get(ctx, "v3"); !ok {
		t.Fatal("лента v3 не содержала a2 и не должна была пострадать")
	}
}

func TestMemoryAuthorIndexCleanup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Now()

	m.Put(ctx, "v1", []domain.RankedItem{item("n1", "a1", now)}, time.Minute)
	m.Invalidate(ctx, "v1")
	// Новая лента без автора a1 не должна сбрасываться по старому индексу.
	m.Put(ctx, "v1", []domain.RankedItem{item("n2", "a2", now)}, time.Minute)

	m.InvalidateAuthor(ctx, "a1")

	if _, ok := m.Get(ctx, "v1"); !ok {
		t.Fatal("индекс авторов пережил инвалидацию записи")
	}
}

func TestMemoryProfileTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	profile := domain.NewViewerProfile("v1")
	profile.FollowSet = []string{"a1"}
	m.PutProfile(ctx, "v1", profile, time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := m.GetProfile(ctx, "v1"); ok {
		t.Fatal("просроченный профиль должен считаться промахом")
	}

	m.PutProfile(ctx, "v1", profile, time.Minute)
	got, ok := m.GetProfile(ctx, "v1")
	if !ok {
		t.Fatal("ожидали профиль в кэше")
	}
	if len(got.FollowSet) != 1 || got.FollowSet[0] != "a1" {
		t.Fatalf("неожиданный профиль: %+v", got)
	}
}

func TestMemoryLastRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	if _, ok := m.LastRead(ctx, "v1"); ok {
		t.Fatal("отметки прочтения ещё нет")
	}
	at := time.Now().UTC().Truncate(time.Second)
	m.SetLastRead(ctx, "v1", at)
	got, ok := m.LastRead(ctx, "v1")
	if !ok || !got.Equal(at) {
		t.Fatalf("ожидали %v, получили %v (ok=%v)", at, got, ok)
	}
}
