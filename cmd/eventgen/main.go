package main

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/config"
	logpkg "timeline-service/internal/infra/log"
	"timeline-service/internal/infra/queue"
)

var (
	authors  = []string{"alice", "bob", "carol", "dave", "erin", "frank"}
	hashtags = []string{"golang", "distributed", "ais", "music", "food", "travel"}
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher domain.NoteEventPublisher
	switch {
	case cfg.Rabbit.URL != "":
		rabbit, err := queue.NewRabbitNoteEvents(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("eventgen: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		publisher = rabbit
	case cfg.Redis.Addr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		publisher = queue.NewRedisNoteEvents(rdb, cfg.Rabbit.Queue)
	default:
		logger.Fatal().Msg("eventgen: не настроен ни RabbitMQ, ни Redis")
	}

	logger.Info().Dur("interval", cfg.Eventgen.Interval).Msg("eventgen: старт")

	gen := newGenerator()
	ticker := time.NewTicker(cfg.Eventgen.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("eventgen: остановка")
			return
		case <-ticker.C:
			event := gen.next()
			if err := publisher.Publish(ctx, event); err != nil {
				logger.Error().Err(err).Msg("eventgen: не удалось опубликовать событие")
				continue
			}
			logger.Info().
				Str("kind", string(event.Kind)).
				Str("note_id", event.Note.NoteID).
				Str("author_id", event.Note.AuthorID).
				Msg("eventgen: событие опубликовано")
		}
	}
}

// generator выпускает правдоподобный поток: в основном новые заметки,
// изредка правки и удаления уже выпущенных.
type generator struct {
	rng    *rand.Rand
	recent []domain.Note
	seq    int
}

func newGenerator() *generator {
	return &generator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *generator) next() domain.NoteEvent {
	now := time.Now().UTC()
	roll := g.rng.Intn(100)
	switch {
	case roll < 80 || len(g.recent) == 0:
		return g.created(now)
	case roll < 95:
		return g.updated(now)
	default:
		return g.deleted(now)
	}
}

func (g *generator) created(now time.Time) domain.NoteEvent {
	g.seq++
	tag := hashtags[g.rng.Intn(len(hashtags))]
	note := domain.Note{
		NoteID:    uuid.NewString(),
		AuthorID:  authors[g.rng.Intn(len(authors))],
		Text:      fmt.Sprintf("заметка %d про #%s", g.seq, tag),
		CreatedAt: now,
		HasMedia:  g.rng.Intn(4) == 0,
		Hashtags:  []string{tag},
		Views:     int64(g.rng.Intn(200)),
		Likes:     int64(g.rng.Intn(20)),
	}
	g.remember(note)
	return domain.NoteEvent{
		ID:         uuid.NewString(),
		Kind:       domain.EventNoteCreated,
		Note:       note,
		OccurredAt: now,
	}
}

func (g *generator) updated(now time.Time) domain.NoteEvent {
	i := g.rng.Intn(len(g.recent))
	note := g.recent[i]
	note.Views += int64(g.rng.Intn(500))
	note.Likes += int64(g.rng.Intn(50))
	note.Reshares += int64(g.rng.Intn(10))
	g.recent[i] = note
	return domain.NoteEvent{
		ID:         uuid.NewString(),
		Kind:       domain.EventNoteUpdated,
		Note:       note,
		OccurredAt: now,
	}
}

func (g *generator) deleted(now time.Time) domain.NoteEvent {
	i := g.rng.Intn(len(g.recent))
	note := g.recent[i]
	g.recent = append(g.recent[:i], g.recent[i+1:]...)
	return domain.NoteEvent{
		ID:         uuid.NewString(),
		Kind:       domain.EventNoteDeleted,
		Note:       note,
		OccurredAt: now,
	}
}

func (g *generator) remember(note domain.Note) {
	g.recent = append(g.recent, note)
	if len(g.recent) > 64 {
		g.recent = g.recent[1:]
	}
}
