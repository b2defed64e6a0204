package domain

import (
	"context"
	"time"
)

// CandidateSource выдаёт свежие заметки одного логического происхождения.
type CandidateSource interface {
	// Name — имя источника для логов и метрик.
	Name() string
	// Source — ординал источника для дедупликации и лимитов.
	Source() Source
	// Fetch возвращает не более max заметок новее since. Сбои источника
	// локализуются внутри конвейера и не валят запрос.
	Fetch(ctx context.Context, viewerID string, cfg TimelineConfig, since time.Time, max int) ([]Note, error)
}

// ContentFilter отсекает заметки, запрещённые настройками зрителя и
// правилами безопасности.
type ContentFilter interface {
	Filter(ctx context.Context, notes []Note, profile ViewerProfile) ([]Note, error)
}

// Ranker присваивает кандидатам оценку для зрителя и накапливает сигналы
// вовлечённости.
type Ranker interface {
	Score(ctx context.Context, notes []SourcedNote, profile ViewerProfile, cfg TimelineConfig) ([]RankedItem, error)
	RecordEngagement(viewerID string, note Note, action EngagementAction, duration time.Duration) error
	// Snapshot возвращает накопленные аффинити и хэштеги зрителя для сборки профиля.
	Snapshot(viewerID string) (map[string]float64, []string)
}

// RankedNoteScore — оценка внешнего тяжёлого ранкера для одной заметки.
type RankedNoteScore struct {
	NoteID string  `json:"note_id"`
	Score  float64 `json:"score"`
}

// HeavyRanker — внешний переранкер For-You выдачи. Необязателен: при
// недоступности конвейер сохраняет исходный порядок.
type HeavyRanker interface {
	RankForYou(ctx context.Context, viewerID string, noteIDs []string, limit int) ([]RankedNoteScore, error)
}

// TimelineCache — двухуровневый кэш собранных лент, профилей и отметок
// прочтения. Операции best-effort: сбой внешнего уровня не виден вызывающему.
type TimelineCache interface {
	Get(ctx context.Context, viewerID string) ([]RankedItem, bool)
	Put(ctx context.Context, viewerID string, items []RankedItem, ttl time.Duration)
	Invalidate(ctx context.Context, viewerID string)
	// InvalidateAuthor сбрасывает все кэшированные ленты, содержащие заметки автора.
	InvalidateAuthor(ctx context.Context, authorID string)
	GetProfile(ctx context.Context, viewerID string) (ViewerProfile, bool)
	PutProfile(ctx context.Context, viewerID string, profile ViewerProfile, ttl time.Duration)
	LastRead(ctx context.Context, viewerID string) (time.Time, bool)
	SetLastRead(ctx context.Context, viewerID string, at time.Time)
}

// FollowGraph — социальный граф подписок.
type FollowGraph interface {
	Following(ctx context.Context, viewerID string) ([]string, error)
	Followers(ctx context.Context, authorID string) ([]string, error)
}

// NoteStore — хранилище заметок.
type NoteStore interface {
	// RecentByAuthors возвращает заметки авторов новее since, свежие первыми.
	RecentByAuthors(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]Note, error)
	// RecentExcludingAuthors возвращает заметки чужих авторов новее since,
	// сначала самые вовлекающие.
	RecentExcludingAuthors(ctx context.Context, excludeAuthorIDs []string, since time.Time, limit int) ([]Note, error)
	// TrendingHashtags возвращает самые частые хэштеги окна.
	TrendingHashtags(ctx context.Context, since time.Time, limit int) ([]string, error)
	RecentByHashtags(ctx context.Context, hashtags []string, since time.Time, limit int) ([]Note, error)
	RecentWithMedia(ctx context.Context, since time.Time, limit int) ([]Note, error)
	// TopEngaged возвращает заметки с наибольшей скоростью вовлечения.
	TopEngaged(ctx context.Context, since time.Time, limit int) ([]Note, error)
	GetNote(ctx context.Context, noteID string) (Note, error)
}

// NoteWriter — запись заметок с пути событий и действий.
type NoteWriter interface {
	UpsertNote(ctx context.Context, n Note) error
	DeleteNote(ctx context.Context, noteID string) error
	// BumpEngagement увеличивает счётчик действия на заметке; действия без
	// счётчика игнорируются.
	BumpEngagement(ctx context.Context, noteID string, action EngagementAction) error
}

// ListStore — членство в кураторских списках зрителя.
type ListStore interface {
	ListMembers(ctx context.Context, viewerID string) ([]string, error)
}

// PreferenceStore — сохранённые настройки фильтрации.
type PreferenceStore interface {
	Preferences(ctx context.Context, viewerID string) (FilterPreferences, error)
	UpdatePreferences(ctx context.Context, viewerID string, prefs FilterPreferences) error
}
