package source

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"timeline-service/internal/domain"
)

// Trending собирает составную трендовую выборку: половина бюджета уходит
// заметкам по горячим хэштегам, треть — заметкам с высокой скоростью
// вовлечения, остаток — свежим медиа. Список горячих хэштегов обновляется
// не чаще refreshTTL.
type Trending struct {
	notes domain.NoteStore

	refreshTTL time.Duration

	mu          sync.Mutex
	hashtags    []string
	refreshedAt time.Time

	now func() time.Time
}

const (
	defaultTrendingRefresh = time.Hour
	trendingHashtagCount   = 15
	trendingHashtagShare   = 0.5
	trendingVelocityShare  = 0.3
)

// NewTrending создаёт трендовый источник.
func NewTrending(notes domain.NoteStore, refreshTTL time.Duration) *Trending {
	if refreshTTL <= 0 {
		refreshTTL = defaultTrendingRefresh
	}
	return &Trending{
		notes:      notes,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Name реализует domain.CandidateSource.
func (t *Trending) Name() string { return domain.SourceTrending.String() }

// Source реализует domain.CandidateSource.
func (t *Trending) Source() domain.Source { return domain.SourceTrending }

// Fetch возвращает составную трендовую выборку новее since, упорядоченную
// по вовлечённости. Выборка общая для всех зрителей.
func (t *Trending) Fetch(ctx context.Context, viewerID string, cfg domain.TimelineConfig, since time.Time, max int) ([]domain.Note, error) {
	if max <= 0 {
		return nil, nil
	}
	hashtagLimit := int(math.Floor(float64(max) * trendingHashtagShare))
	velocityLimit := int(math.Floor(float64(max) * trendingVelocityShare))
	mediaLimit := max - hashtagLimit - velocityLimit

	var byHashtag []domain.Note
	if hashtagLimit > 0 {
		hashtags, err := t.trendingHashtags(ctx, since)
		if err != nil {
			return nil, err
		}
		if len(hashtags) > 0 {
			byHashtag, err = t.notes.RecentByHashtags(ctx, hashtags, since, hashtagLimit)
			if err != nil {
				return nil, err
			}
		}
	}

	var byVelocity []domain.Note
	if velocityLimit > 0 {
		var err error
		byVelocity, err = t.notes.TopEngaged(ctx, since, velocityLimit)
		if err != nil {
			return nil, err
		}
	}

	var byMedia []domain.Note
	if mediaLimit > 0 {
		var err error
		byMedia, err = t.notes.RecentWithMedia(ctx, since, mediaLimit)
		if err != nil {
			return nil, err
		}
	}

	merged := mergeUnique(byHashtag, byVelocity, byMedia)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Engagements() != merged[j].Engagements() {
			return merged[i].Engagements() > merged[j].Engagements()
		}
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].NoteID < merged[j].NoteID
	})
	if len(merged) > max {
		merged = merged[:max]
	}
	return merged, nil
}

// trendingHashtags отдаёт кэшированный список горячих хэштегов, обновляя
// его по TTL. При сбое обновления протухший список лучше отказа.
func (t *Trending) trendingHashtags(ctx context.Context, since time.Time) ([]string, error) {
	t.mu.Lock()
	cached := t.hashtags
	fresh := !t.refreshedAt.IsZero() && t.now().Sub(t.refreshedAt) < t.refreshTTL
	t.mu.Unlock()
	if fresh {
		return cached, nil
	}

	hashtags, err := t.notes.TrendingHashtags(ctx, since, trendingHashtagCount)
	if err != nil {
		if !t.refreshedAtIsZero() {
			return cached, nil
		}
		return nil, err
	}

	t.mu.Lock()
	t.hashtags = hashtags
	t.refreshedAt = t.now()
	t.mu.Unlock()
	return hashtags, nil
}

func (t *Trending) refreshedAtIsZero() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshedAt.IsZero()
}

// mergeUnique объединяет выборки с дедупликацией по идентификатору;
// побеждает первое вхождение.
func mergeUnique(lists ...[]domain.Note) []domain.Note {
	seen := make(map[string]struct{})
	var out []domain.Note
	for _, list := range lists {
		for _, n := range list {
			if _, ok := seen[n.NoteID]; ok {
				continue
			}
			seen[n.NoteID] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
