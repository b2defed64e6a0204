package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// RedisNoteEvents — транспорт событий на базе Redis lists. Доставка
// at-most-once: подтверждение с success=false возвращает событие в очередь.
type RedisNoteEvents struct {
	client *redis.Client
	key    string
}

// NewRedisNoteEvents создаёт транспорт по указанному ключу.
func NewRedisNoteEvents(client *redis.Client, key string) *RedisNoteEvents {
	return &RedisNoteEvents{client: client, key: key}
}

// Publish отправляет событие в очередь.
func (q *RedisNoteEvents) Publish(ctx context.Context, event domain.NoteEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает следующее событие.
func (q *RedisNoteEvents) Receive(ctx context.Context) (domain.NoteEvent, domain.EventAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.NoteEvent{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.NoteEvent{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.NoteEvent{}, nil, err
		}
		if len(res) != 2 {
			return domain.NoteEvent{}, nil, errors.New("redis queue: unexpected BRPOP response")
		}
		payload := res[1]
		var event domain.NoteEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return domain.NoteEvent{}, nil, fmt.Errorf("decode event: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return event, ack, nil
	}
}
