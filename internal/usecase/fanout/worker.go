package fanout

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

const (
	defaultBatchSize   = 500
	defaultMaxAttempts = 3
	retryBackoff       = 250 * time.Millisecond
)

// UpdateSink принимает обновления для стриминговых подписчиков зрителя.
type UpdateSink interface {
	Push(viewerID string, update domain.TimelineUpdate)
}

// Worker — единственный потребитель очереди фан-аута. На каждое событие
// записи он обновляет хранилище заметок, сбрасывает кэши подписчиков автора
// и рассылает им стриминговые обновления.
type Worker struct {
	queue  *Queue
	graph  domain.FollowGraph
	cache  domain.TimelineCache
	hub    UpdateSink
	writer domain.NoteWriter // nil — заметки не материализуются
	log    zerolog.Logger

	batchSize   int
	maxAttempts int
	backoff     time.Duration
}

// NewWorker создаёт воркер фан-аута.
func NewWorker(queue *Queue, graph domain.FollowGraph, cache domain.TimelineCache, hub UpdateSink, writer domain.NoteWriter, logger zerolog.Logger, batchSize, maxAttempts int) *Worker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Worker{
		queue:       queue,
		graph:       graph,
		cache:       cache,
		hub:         hub,
		writer:      writer,
		log:         logger.With().Str("component", "fanout").Logger(),
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		backoff:     retryBackoff,
	}
}

// Run обрабатывает задачи до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Msg("fanout: воркер запущен")
	for {
		task, ok := w.queue.Pop(ctx)
		if !ok {
			w.log.Info().Msg("fanout: воркер остановлен")
			return
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task domain.FanoutTask) {
	event := task.Event
	authorID := event.Note.AuthorID

	// Хранилище обновляется до инвалидации, чтобы пересборки увидели
	// свежее состояние заметки.
	if w.writer != nil {
		var err error
		switch event.Kind {
		case domain.EventNoteCreated, domain.EventNoteUpdated:
			err = w.writer.UpsertNote(ctx, event.Note)
		case domain.EventNoteDeleted:
			err = w.writer.DeleteNote(ctx, event.Note.NoteID)
		}
		if err != nil {
			w.log.Warn().Err(err).Str("note_id", event.Note.NoteID).
				Msg("fanout: не удалось обновить хранилище заметок")
		}
	}

	followers, err := w.graph.Followers(ctx, authorID)
	if err != nil {
		w.retry(task, err)
		return
	}

	// Правки и удаления бьют и по лентам вне графа подписок: заметка могла
	// попасть к зрителю через trending или lists.
	if event.Kind != domain.EventNoteCreated {
		w.cache.InvalidateAuthor(ctx, authorID)
	}

	update := event.Update()
	for start := 0; start < len(followers); start += w.batchSize {
		if ctx.Err() != nil {
			metrics.FanoutTasks.WithLabelValues("cancelled").Inc()
			return
		}
		end := start + w.batchSize
		if end > len(followers) {
			end = len(followers)
		}
		for _, follower := range followers[start:end] {
			w.cache.Invalidate(ctx, follower)
			w.hub.Push(follower, update)
		}
	}

	metrics.FanoutTasks.WithLabelValues("ok").Inc()
	w.log.Debug().Str("note_id", event.Note.NoteID).Str("kind", string(event.Kind)).
		Int("followers", len(followers)).Msg("fanout: событие разослано")
}

// retry возвращает задачу в очередь с экспоненциальной задержкой; после
// maxAttempts попыток задача отбрасывается.
func (w *Worker) retry(task domain.FanoutTask, cause error) {
	task.Attempt++
	if task.Attempt >= w.maxAttempts {
		metrics.FanoutTasks.WithLabelValues("dropped").Inc()
		w.log.Error().Err(cause).Str("note_id", task.Event.Note.NoteID).
			Int("attempt", task.Attempt).Msg("fanout: задача отброшена после повторов")
		return
	}
	metrics.FanoutTasks.WithLabelValues("retried").Inc()
	delay := w.backoff * (1 << (task.Attempt - 1))
	w.log.Warn().Err(cause).Str("note_id", task.Event.Note.NoteID).
		Int("attempt", task.Attempt).Dur("delay", delay).Msg("fanout: повтор задачи")
	time.AfterFunc(delay, func() { w.queue.Push(task) })
}
