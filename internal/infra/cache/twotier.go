package cache

import (
	"context"
	"time"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// TwoTier объединяет внешний и внутрипроцессный уровни. Чтения идут сначала
// во внешний уровень, при промахе или сбое — во внутренний; записи сквозные.
// Отсутствующий внешний уровень (nil) полностью прозрачен.
type TwoTier struct {
	remote domain.TimelineCache
	local  domain.TimelineCache

	timelineTTL time.Duration
	profileTTL  time.Duration
}

// NewTwoTier собирает двухуровневый кэш. remote может быть nil.
func NewTwoTier(remote, local domain.TimelineCache, timelineTTL, profileTTL time.Duration) *TwoTier {
	if timelineTTL <= 0 {
		timelineTTL = defaultTimelineTTL
	}
	if profileTTL <= 0 {
		profileTTL = defaultProfileTTL
	}
	return &TwoTier{remote: remote, local: local, timelineTTL: timelineTTL, profileTTL: profileTTL}
}

// TimelineTTL возвращает TTL лент по умолчанию.
func (t *TwoTier) TimelineTTL() time.Duration { return t.timelineTTL }

// ProfileTTL возвращает TTL профилей по умолчанию.
func (t *TwoTier) ProfileTTL() time.Duration { return t.profileTTL }

// Get возвращает кэшированную ленту зрителя.
func (t *TwoTier) Get(ctx context.Context, viewerID string) ([]domain.RankedItem, bool) {
	if t.remote != nil {
		if items, ok := t.remote.Get(ctx, viewerID); ok {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			t.local.Put(ctx, viewerID, items, t.timelineTTL)
			return items, true
		}
		metrics.CacheMisses.WithLabelValues("redis").Inc()
	}
	if items, ok := t.local.Get(ctx, viewerID); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return items, true
	}
	metrics.CacheMisses.WithLabelValues("memory").Inc()
	return nil, false
}

// Put сохраняет ленту в оба уровня.
func (t *TwoTier) Put(ctx context.Context, viewerID string, items []domain.RankedItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = t.timelineTTL
	}
	t.local.Put(ctx, viewerID, items, ttl)
	if t.remote != nil {
		t.remote.Put(ctx, viewerID, items, ttl)
	}
}

// Invalidate удаляет ленту зрителя из обоих уровней.
func (t *TwoTier) Invalidate(ctx context.Context, viewerID string) {
	t.local.Invalidate(ctx, viewerID)
	if t.remote != nil {
		t.remote.Invalidate(ctx, viewerID)
	}
}

// InvalidateAuthor удаляет ленты с заметками автора из обоих уровней.
func (t *TwoTier) InvalidateAuthor(ctx context.Context, authorID string) {
	t.local.InvalidateAuthor(ctx, authorID)
	if t.remote != nil {
		t.remote.InvalidateAuthor(ctx, authorID)
	}
}

// GetProfile возвращает кэшированный профиль зрителя.
func (t *TwoTier) GetProfile(ctx context.Context, viewerID string) (domain.ViewerProfile, bool) {
	if t.remote != nil {
		if profile, ok := t.remote.GetProfile(ctx, viewerID); ok {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			t.local.PutProfile(ctx, viewerID, profile, t.profileTTL)
			return profile, true
		}
		metrics.CacheMisses.WithLabelValues("redis").Inc()
	}
	if profile, ok := t.local.GetProfile(ctx, viewerID); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return profile, true
	}
	metrics.CacheMisses.WithLabelValues("memory").Inc()
	return domain.ViewerProfile{}, false
}

// PutProfile сохраняет профиль в оба уровня.
func (t *TwoTier) PutProfile(ctx context.Context, viewerID string, profile domain.ViewerProfile, ttl time.Duration) {
	if ttl <= 0 {
		ttl = t.profileTTL
	}
	t.local.PutProfile(ctx, viewerID, profile, ttl)
	if t.remote != nil {
		t.remote.PutProfile(ctx, viewerID, profile, ttl)
	}
}

// LastRead возвращает отметку прочтения зрителя.
func (t *TwoTier) LastRead(ctx context.Context, viewerID string) (time.Time, bool) {
	if t.remote != nil {
		if at, ok := t.remote.LastRead(ctx, viewerID); ok {
			t.local.SetLastRead(ctx, viewerID, at)
			return at, true
		}
	}
	return t.local.LastRead(ctx, viewerID)
}

// SetLastRead сохраняет отметку прочтения в оба уровня.
func (t *TwoTier) SetLastRead(ctx context.Context, viewerID string, at time.Time) {
	t.local.SetLastRead(ctx, viewerID, at)
	if t.remote != nil {
		t.remote.SetLastRead(ctx, viewerID, at)
	}
}
