package source

import (
	"context"
	"sync"
	"time"

	"timeline-service/internal/domain"
)

// Following выдаёт свежие заметки авторов, на которых подписан зритель.
// Список подписок кэшируется на followTTL, чтобы не ходить в граф на
// каждый запрос ленты.
type Following struct {
	graph domain.FollowGraph
	notes domain.NoteStore

	followTTL time.Duration

	mu    sync.Mutex
	cache map[string]followEntry

	now func() time.Time
}

type followEntry struct {
	ids       []string
	fetchedAt time.Time
}

const defaultFollowTTL = 10 * time.Minute

// NewFollowing создаёт источник подписок.
func NewFollowing(graph domain.FollowGraph, notes domain.NoteStore, followTTL time.Duration) *Following {
	if followTTL <= 0 {
		followTTL = defaultFollowTTL
	}
	return &Following{
		graph:     graph,
		notes:     notes,
		followTTL: followTTL,
		cache:     make(map[string]followEntry),
		now:       time.Now,
	}
}

// Name реализует domain.CandidateSource.
func (f *Following) Name() string { return domain.SourceFollowing.String() }

// Source реализует domain.CandidateSource.
func (f *Following) Source() domain.Source { return domain.SourceFollowing }

// Fetch возвращает заметки подписок новее since. Зритель без подписок
// получает пустой результат без похода в хранилище.
func (f *Following) Fetch(ctx context.Context, viewerID string, cfg domain.TimelineConfig, since time.Time, max int) ([]domain.Note, error) {
	if max <= 0 {
		return nil, nil
	}
	ids, err := f.followingIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return f.notes.RecentByAuthors(ctx, ids, since, max)
}

func (f *Following) followingIDs(ctx context.Context, viewerID string) ([]string, error) {
	f.mu.Lock()
	entry, ok := f.cache[viewerID]
	fresh := ok && f.now().Sub(entry.fetchedAt) < f.followTTL
	f.mu.Unlock()
	if fresh {
		return entry.ids, nil
	}

	ids, err := f.graph.Following(ctx, viewerID)
	if err != nil {
		// Протухший список лучше отказа: гранично устаревшие подписки
		// приемлемы для ленты.
		if ok {
			return entry.ids, nil
		}
		return nil, err
	}

	f.mu.Lock()
	f.cache[viewerID] = followEntry{ids: ids, fetchedAt: f.now()}
	f.mu.Unlock()
	return ids, nil
}
