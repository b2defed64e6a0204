package domain

import (
	"context"
	"time"
)

// EventKind описывает вид события записи.
type EventKind string

const (
	// EventNoteCreated — автор опубликовал новую заметку.
	EventNoteCreated EventKind = "CREATED"
	// EventNoteUpdated — заметка изменена.
	EventNoteUpdated EventKind = "UPDATED"
	// EventNoteDeleted — заметка удалена.
	EventNoteDeleted EventKind = "DELETED"
)

// NoteEvent — событие записи, запускающее фан-аут по подписчикам автора.
type NoteEvent struct {
	ID         string    `json:"event_id,omitempty"`
	Kind       EventKind `json:"kind"`
	Note       Note      `json:"note"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Update строит сообщение подписчику для этого события.
func (e NoteEvent) Update() TimelineUpdate {
	t := UpdateNewNote
	switch e.Kind {
	case EventNoteUpdated:
		t = UpdateNoteEdited
	case EventNoteDeleted:
		t = UpdateNoteDeleted
	}
	return TimelineUpdate{
		Type:     t,
		NoteID:   e.Note.NoteID,
		AuthorID: e.Note.AuthorID,
		At:       e.OccurredAt,
	}
}

// FanoutTask — единица работы фан-аут воркера.
type FanoutTask struct {
	Event   NoteEvent
	Attempt int
}

// EventAckFunc подтверждает обработку события или запрашивает повтор доставки.
type EventAckFunc func(success bool) error

// NoteEventSource — входящий поток событий о заметках.
type NoteEventSource interface {
	Receive(ctx context.Context) (NoteEvent, EventAckFunc, error)
}

// NoteEventPublisher публикует события о заметках.
type NoteEventPublisher interface {
	Publish(ctx context.Context, event NoteEvent) error
}

// EngagementAction — действие зрителя над заметкой.
type EngagementAction string

const (
	ActionLike    EngagementAction = "like"
	ActionReshare EngagementAction = "reshare"
	ActionReply   EngagementAction = "reply"
	ActionFollow  EngagementAction = "follow"
	ActionHide    EngagementAction = "hide"
)

// AffinityDelta возвращает прибавку к аффинити зритель->автор за действие
// и признак того, что действие известно. Аффинити растёт монотонно, поэтому
// hide даёт нулевую прибавку.
func (a EngagementAction) AffinityDelta() (float64, bool) {
	switch a {
	case ActionLike:
		return 0.05, true
	case ActionReshare:
		return 0.10, true
	case ActionReply:
		return 0.15, true
	case ActionFollow:
		return 0.30, true
	case ActionHide:
		return 0, true
	default:
		return 0, false
	}
}
