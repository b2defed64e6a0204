package domain

import (
	"fmt"
	"time"
)

// Source указывает происхождение кандидата в ленте.
// Порядок значим: при дедупликации побеждает меньший ординал.
type Source int

const (
	SourceFollowing Source = iota
	SourceRecommended
	SourceTrending
	SourceLists
)

var sourceNames = [...]string{"following", "recommended", "trending", "lists"}

// Sources перечисляет источники в порядке приоритета.
func Sources() []Source {
	return []Source{SourceFollowing, SourceRecommended, SourceTrending, SourceLists}
}

// String возвращает строковое имя источника.
func (s Source) String() string {
	if s < 0 || int(s) >= len(sourceNames) {
		return "unknown"
	}
	return sourceNames[s]
}

// ParseSource разбирает строковое имя источника.
func ParseSource(name string) (Source, error) {
	for i, n := range sourceNames {
		if n == name {
			return Source(i), nil
		}
	}
	return 0, fmt.Errorf("неизвестный источник: %q", name)
}

// MarshalText сериализует источник строковым именем (в том числе в ключах map).
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает строковое имя источника.
func (s *Source) UnmarshalText(data []byte) error {
	parsed, err := ParseSource(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Note — неизменяемый снимок заметки. Ядро никогда не мутирует заметки.
type Note struct {
	NoteID          string    `json:"note_id"`
	AuthorID        string    `json:"author_id"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
	HasMedia        bool      `json:"has_media,omitempty"`
	Hashtags        []string  `json:"hashtags,omitempty"`
	Mentions        []string  `json:"mentions,omitempty"`
	Views           int64     `json:"views"`
	Likes           int64     `json:"likes"`
	Reshares        int64     `json:"reshares"`
	Replies         int64     `json:"replies"`
	Quotes          int64     `json:"quotes"`
	NSFW            bool      `json:"nsfw,omitempty"`
	AuthorSuspended bool      `json:"author_suspended,omitempty"`
}

// Engagements возвращает суммарное число взаимодействий; просмотры не считаются.
func (n Note) Engagements() int64 {
	return n.Likes + n.Reshares + n.Replies + n.Quotes
}

// EngagementRate возвращает долю взаимодействий на просмотр.
func (n Note) EngagementRate() float64 {
	views := n.Views
	if views < 1 {
		views = 1
	}
	return float64(n.Engagements()) / float64(views)
}

// SourcedNote связывает кандидата с источником до ранжирования.
type SourcedNote struct {
	Note   Note
	Source Source
}

// Signals — именованные компоненты оценки, каждая в диапазоне [0,1].
type Signals struct {
	AuthorAffinity     float64 `json:"author_affinity"`
	ContentQuality     float64 `json:"content_quality"`
	EngagementVelocity float64 `json:"engagement_velocity"`
	Recency            float64 `json:"recency"`
	Personalization    float64 `json:"personalization"`
}

// RankedItem — заметка с оценкой для конкретного зрителя.
// Оценки зритель-специфичны и между зрителями не переиспользуются.
type RankedItem struct {
	Note            Note      `json:"note"`
	Source          Source    `json:"source"`
	FinalScore      float64   `json:"final_score"`
	Signals         Signals   `json:"signals"`
	InjectedAt      time.Time `json:"injected_at"`
	InjectionReason string    `json:"injection_reason,omitempty"`
}

// FilterPreferences — сохранённые настройки фильтрации зрителя.
type FilterPreferences struct {
	MutedUsers    []string `json:"muted_users,omitempty"`
	MutedKeywords []string `json:"muted_keywords,omitempty"`
	ShowNSFW      bool     `json:"show_nsfw"`
}

// ViewerProfile агрегирует граф, интересы и настройки одного зрителя.
// Создаётся лениво при первом запросе, обогащается событиями вовлечённости,
// вымывается из кэша по TTL.
type ViewerProfile struct {
	ViewerID        string             `json:"viewer_id"`
	FollowSet       []string           `json:"follow_set,omitempty"`
	AuthorAffinity  map[string]float64 `json:"author_affinity,omitempty"`
	HashtagInterest map[string]float64 `json:"hashtag_interest,omitempty"`
	EngagedHashtags []string           `json:"engaged_hashtags,omitempty"`
	MutedUsers      []string           `json:"muted_users,omitempty"`
	MutedKeywords   []string           `json:"muted_keywords,omitempty"`
	ShowNSFW        bool               `json:"show_nsfw"`
	ActiveHourStart int                `json:"active_hour_start"`
	ActiveHourEnd   int                `json:"active_hour_end"`
	LastUpdated     time.Time          `json:"last_updated"`
}

// NewViewerProfile возвращает профиль с настройками по умолчанию.
func NewViewerProfile(viewerID string) ViewerProfile {
	return ViewerProfile{
		ViewerID:        viewerID,
		ActiveHourStart: 9,
		ActiveHourEnd:   23,
		LastUpdated:     time.Now().UTC(),
	}
}

// FollowLookup строит множество подписок для быстрых проверок.
func (p ViewerProfile) FollowLookup() map[string]struct{} {
	return toSet(p.FollowSet)
}

// MuteLookup строит множество заглушённых авторов.
func (p ViewerProfile) MuteLookup() map[string]struct{} {
	return toSet(p.MutedUsers)
}

// EngagedHashtagLookup строит множество хэштегов, с которыми зритель взаимодействовал.
func (p ViewerProfile) EngagedHashtagLookup() map[string]struct{} {
	return toSet(p.EngagedHashtags)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

// TimelineMetadata — сводка собранной ленты.
type TimelineMetadata struct {
	Algorithm              Algorithm     `json:"algorithm"`
	Weights                SignalWeights `json:"weights"`
	TotalItems             int           `json:"total_items"`
	NewItemsSinceLastFetch int           `json:"new_items_since_last_fetch"`
	LastUpdated            time.Time     `json:"last_updated"`
}

// Pagination описывает срез выдачи.
type Pagination struct {
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"total_count"`
	HasNext    bool `json:"has_next"`
}

// TimelinePage — страница ленты с метаданными.
type TimelinePage struct {
	Items      []RankedItem     `json:"items"`
	Metadata   TimelineMetadata `json:"metadata"`
	Pagination Pagination       `json:"pagination"`
}

// UpdateType классифицирует инкрементальное обновление ленты.
type UpdateType string

const (
	UpdateNewNote     UpdateType = "new_note"
	UpdateNoteEdited  UpdateType = "note_updated"
	UpdateNoteDeleted UpdateType = "note_deleted"
	UpdateHeartbeat   UpdateType = "heartbeat"
)

// TimelineUpdate — сообщение подписчику стриминга.
type TimelineUpdate struct {
	Type     UpdateType `json:"type"`
	NoteID   string     `json:"note_id,omitempty"`
	AuthorID string     `json:"author_id,omitempty"`
	At       time.Time  `json:"at"`
}
