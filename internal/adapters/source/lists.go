package source

import (
	"context"
	"time"

	"timeline-service/internal/domain"
)

// Lists выдаёт заметки участников кураторских списков зрителя.
type Lists struct {
	lists domain.ListStore
	notes domain.NoteStore
}

// NewLists создаёт источник списков.
func NewLists(lists domain.ListStore, notes domain.NoteStore) *Lists {
	return &Lists{lists: lists, notes: notes}
}

// Name реализует domain.CandidateSource.
func (l *Lists) Name() string { return domain.SourceLists.String() }

// Source реализует domain.CandidateSource.
func (l *Lists) Source() domain.Source { return domain.SourceLists }

// Fetch возвращает свежие заметки участников списков. Зритель без списков
// получает пустой результат.
func (l *Lists) Fetch(ctx context.Context, viewerID string, cfg domain.TimelineConfig, since time.Time, max int) ([]domain.Note, error) {
	if max <= 0 {
		return nil, nil
	}
	members, err := l.lists.ListMembers(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	return l.notes.RecentByAuthors(ctx, members, since, max)
}
