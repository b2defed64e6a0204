package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// Redis — необязательный внешний уровень кэша. Все операции best-effort:
// ошибки логируются и превращаются в промах, запрос продолжается на
// внутрипроцессном уровне.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis создаёт внешний уровень кэша.
func NewRedis(client *redis.Client, logger zerolog.Logger) *Redis {
	return &Redis{client: client, log: logger}
}

func timelineKey(viewerID string) string { return "timeline:" + viewerID }
func profileKey(viewerID string) string  { return "profile:" + viewerID }
func lastReadKey(viewerID string) string { return "lastread:" + viewerID }
func authorIdxKey(authorID string) string {
	return "authoridx:" + authorID
}

// Get возвращает кэшированную ленту зрителя.
func (r *Redis) Get(ctx context.Context, viewerID string) ([]domain.RankedItem, bool) {
	start := time.Now()
	payload, err := r.client.Get(ctx, timelineKey(viewerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "timeline", start, nil)
		return nil, false
	}
	if err != nil {
		metrics.ObserveNetworkRequest("redis", "get", "timeline", start, err)
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: чтение ленты из redis не удалось")
		return nil, false
	}
	metrics.ObserveNetworkRequest("redis", "get", "timeline", start, nil)
	var items []domain.RankedItem
	if err := json.Unmarshal(payload, &items); err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: повреждённая запись ленты в redis")
		return nil, false
	}
	return items, true
}

// Put сохраняет ленту зрителя и пополняет индекс авторов.
func (r *Redis) Put(ctx context.Context, viewerID string, items []domain.RankedItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTimelineTTL
	}
	payload, err := json.Marshal(items)
	if err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: сериализация ленты не удалась")
		return
	}
	start := time.Now()
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, timelineKey(viewerID), payload, ttl)
		for _, author := range distinctAuthors(items) {
			key := authorIdxKey(author)
			pipe.SAdd(ctx, key, viewerID)
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	metrics.ObserveNetworkRequest("redis", "put", "timeline", start, err)
	if err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: запись ленты в redis не удалась")
	}
}

// Invalidate удаляет ленту зрителя.
func (r *Redis) Invalidate(ctx context.Context, viewerID string) {
	start := time.Now()
	err := r.client.Del(ctx, timelineKey(viewerID)).Err()
	metrics.ObserveNetworkRequest("redis", "del", "timeline", start, err)
	if err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: инвалидация ленты в redis не удалась")
	}
}

// InvalidateAuthor удаляет все ленты из индекса автора.
func (r *Redis) InvalidateAuthor(ctx context.Context, authorID string) {
	start := time.Now()
	viewers, err := r.client.SMembers(ctx, authorIdxKey(authorID)).Result()
	metrics.ObserveNetworkRequest("redis", "smembers", "authoridx", start, err)
	if err != nil {
		r.log.Debug().Err(err).Str("author", authorID).Msg("cache: чтение индекса автора не удалось")
		return
	}
	if len(viewers) == 0 {
		return
	}
	keys := make([]string, 0, len(viewers)+1)
	for _, viewerID := range viewers {
		keys = append(keys, timelineKey(viewerID))
	}
	keys = append(keys, authorIdxKey(authorID))
	start = time.Now()
	err = r.client.Del(ctx, keys...).Err()
	metrics.ObserveNetworkRequest("redis", "del", "timeline", start, err)
	if err != nil {
		r.log.Debug().Err(err).Str("author", authorID).Msg("cache: инвалидация по автору в redis не удалась")
	}
}

// GetProfile возвращает кэшированный профиль зрителя.
func (r *Redis) GetProfile(ctx context.Context, viewerID string) (domain.ViewerProfile, bool) {
	start := time.Now()
	payload, err := r.client.Get(ctx, profileKey(viewerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "profile", start, nil)
		return domain.ViewerProfile{}, false
	}
	if err != nil {
		metrics.ObserveNetworkRequest("redis", "get", "profile", start, err)
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: чтение профиля из redis не удалось")
		return domain.ViewerProfile{}, false
	}
	metrics.ObserveNetworkRequest("redis", "get", "profile", start, nil)
	var profile domain.ViewerProfile
	if err := json.Unmarshal(payload, &profile); err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: повреждённый профиль в redis")
		return domain.ViewerProfile{}, false
	}
	return profile, true
}

// PutProfile сохраняет профиль зрителя.
func (r *Redis) PutProfile(ctx context.Context, viewerID string, profile domain.ViewerProfile, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	payload, err := json.Marshal(profile)
	if err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: сериализация профиля не удалась")
		return
	}
	start := time.Now()
	err = r.client.Set(ctx, profileKey(viewerID), payload, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "put", "profile", start, err)
	if err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: запись профиля в redis не удалась")
	}
}

// LastRead возвращает отметку прочтения зрителя.
func (r *Redis) LastRead(ctx context.Context, viewerID string) (time.Time, bool) {
	start := time.Now()
	raw, err := r.client.Get(ctx, lastReadKey(viewerID)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "lastread", start, nil)
		return time.Time{}, false
	}
	if err != nil {
		metrics.ObserveNetworkRequest("redis", "get", "lastread", start, err)
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: чтение отметки прочтения не удалось")
		return time.Time{}, false
	}
	metrics.ObserveNetworkRequest("redis", "get", "lastread", start, nil)
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// SetLastRead сохраняет отметку прочтения зрителя.
func (r *Redis) SetLastRead(ctx context.Context, viewerID string, at time.Time) {
	start := time.Now()
	err := r.client.Set(ctx, lastReadKey(viewerID), at.UTC().Format(time.RFC3339Nano), 0).Err()
	metrics.ObserveNetworkRequest("redis", "put", "lastread", start, err)
	if err != nil {
		r.log.Debug().Err(err).Str("viewer", viewerID).Msg("cache: запись отметки прочтения не удалась")
	}
}
