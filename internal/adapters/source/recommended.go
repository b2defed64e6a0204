package source

import (
	"context"
	"time"

	"timeline-service/internal/domain"
)

// Recommended выдаёт заметки незнакомых авторов для открытия нового
// контента. Хранилище отдаёт их по убыванию вовлечённости, поэтому
// дополнительная сортировка не нужна.
type Recommended struct {
	graph domain.FollowGraph
	notes domain.NoteStore
}

// NewRecommended создаёт источник рекомендаций.
func NewRecommended(graph domain.FollowGraph, notes domain.NoteStore) *Recommended {
	return &Recommended{graph: graph, notes: notes}
}

// Name реализует domain.CandidateSource.
func (r *Recommended) Name() string { return domain.SourceRecommended.String() }

// Source реализует domain.CandidateSource.
func (r *Recommended) Source() domain.Source { return domain.SourceRecommended }

// Fetch возвращает заметки авторов вне подписок зрителя. Сам зритель
// тоже исключается: собственные заметки не рекомендуются.
func (r *Recommended) Fetch(ctx context.Context, viewerID string, cfg domain.TimelineConfig, since time.Time, max int) ([]domain.Note, error) {
	if max <= 0 {
		return nil, nil
	}
	following, err := r.graph.Following(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	exclude := make([]string, 0, len(following)+1)
	exclude = append(exclude, viewerID)
	exclude = append(exclude, following...)
	return r.notes.RecentExcludingAuthors(ctx, exclude, since, max)
}
