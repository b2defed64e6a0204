package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// Postgres реализует хранилища на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.NoteStore       = (*Postgres)(nil)
	_ domain.FollowGraph     = (*Postgres)(nil)
	_ domain.ListStore       = (*Postgres)(nil)
	_ domain.PreferenceStore = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const noteColumns = `note_id, author_id, text, created_at, has_media, hashtags, mentions, views, likes, reshares, replies, quotes, nsfw, author_suspended`

// RecentByAuthors реализует domain.NoteStore.
func (p *Postgres) RecentByAuthors(ctx context.Context, authorIDs []string, since time.Time, limit int) ([]domain.Note, error) {
	if len(authorIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE author_id = ANY($1) AND created_at > $2
ORDER BY created_at DESC, note_id
LIMIT $3
`, authorIDs, since, limit)
	metrics.ObserveNetworkRequest("postgres", "notes_recent_by_authors", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

// RecentExcludingAuthors реализует domain.NoteStore: заметки чужих авторов,
// сначала самые вовлекающие.
func (p *Postgres) RecentExcludingAuthors(ctx context.Context, excludeAuthorIDs []string, since time.Time, limit int) ([]domain.Note, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE NOT (author_id = ANY($1)) AND created_at > $2
ORDER BY likes + reshares + replies + quotes DESC, created_at DESC, note_id
LIMIT $3
`, excludeAuthorIDs, since, limit)
	metrics.ObserveNetworkRequest("postgres", "notes_recent_excluding_authors", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

// TrendingHashtags реализует domain.NoteStore: самые частые хэштеги окна.
func (p *Postgres) TrendingHashtags(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT tag
FROM notes CROSS JOIN LATERAL unnest(hashtags) AS tag
WHERE created_at > $1
GROUP BY tag
ORDER BY count(*) DESC, tag
LIMIT $2
`, since, limit)
	metrics.ObserveNetworkRequest("postgres", "notes_trending_hashtags", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// RecentByHashtags реализует domain.NoteStore.
func (p *Postgres) RecentByHashtags(ctx context.Context, hashtags []string, since time.Time, limit int) ([]domain.Note, error) {
	if len(hashtags) == 0 || limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE hashtags && $1 AND created_at > $2
ORDER BY created_at DESC, note_id
LIMIT $3
`, hashtags, since, limit)
	metrics.ObserveNetworkRequest("postgres", "notes_recent_by_hashtags", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

// RecentWithMedia реализует domain.NoteStore.
func (p *Postgres) RecentWithMedia(ctx context.Context, since time.Time, limit int) ([]domain.Note, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE has_media AND created_at > $1
ORDER BY created_at DESC, note_id
LIMIT $2
`, since, limit)
	metrics.ObserveNetworkRequest("postgres", "notes_recent_with_media", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

// TopEngaged реализует domain.NoteStore: заметки с наибольшей скоростью
// вовлечения за окно. Возраст снизу ограничен шестью минутами, чтобы
// свежайшие заметки не делили на ноль.
func (p *Postgres) TopEngaged(ctx context.Context, since time.Time, limit int) ([]domain.Note, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE created_at > $1
ORDER BY (likes + reshares + replies + quotes)
  / GREATEST(EXTRACT(EPOCH FROM (now() - created_at)) / 3600.0, 0.1) DESC,
  created_at DESC, note_id
LIMIT $2
`, since, limit)
	metrics.ObserveNetworkRequest("postgres", "notes_top_engaged", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotes(rows)
}

// GetNote реализует domain.NoteStore.
func (p *Postgres) GetNote(ctx context.Context, noteID string) (domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+noteColumns+`
FROM notes
WHERE note_id = $1
`, noteID)
	n, err := scanNote(row)
	metrics.ObserveNetworkRequest("postgres", "notes_get", "notes", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Note{}, domain.Ef(domain.KindInvalidArgument, "заметка %s не найдена", noteID)
	}
	return n, err
}

// UpsertNote сохраняет заметку; повторная вставка обновляет содержимое и счётчики.
func (p *Postgres) UpsertNote(ctx context.Context, n domain.Note) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO notes (`+noteColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (note_id) DO UPDATE SET
  text = EXCLUDED.text,
  has_media = EXCLUDED.has_media,
  hashtags = EXCLUDED.hashtags,
  mentions = EXCLUDED.mentions,
  views = EXCLUDED.views,
  likes = EXCLUDED.likes,
  reshares = EXCLUDED.reshares,
  replies = EXCLUDED.replies,
  quotes = EXCLUDED.quotes,
  nsfw = EXCLUDED.nsfw,
  author_suspended = EXCLUDED.author_suspended
`, n.NoteID, n.AuthorID, n.Text, n.CreatedAt, n.HasMedia, n.Hashtags, n.Mentions,
		n.Views, n.Likes, n.Reshares, n.Replies, n.Quotes, n.NSFW, n.AuthorSuspended)
	metrics.ObserveNetworkRequest("postgres", "notes_upsert", "notes", start, err)
	return err
}

// DeleteNote удаляет заметку.
func (p *Postgres) DeleteNote(ctx context.Context, noteID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM notes WHERE note_id = $1`, noteID)
	metrics.ObserveNetworkRequest("postgres", "notes_delete", "notes", start, err)
	return err
}

// BumpEngagement атомарно увеличивает счётчик действия на заметке.
func (p *Postgres) BumpEngagement(ctx context.Context, noteID string, action domain.EngagementAction) error {
	column := ""
	switch action {
	case domain.ActionLike:
		column = "likes"
	case domain.ActionReshare:
		column = "reshares"
	case domain.ActionReply:
		column = "replies"
	default:
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE notes SET `+column+` = `+column+` + 1 WHERE note_id = $1`, noteID)
	metrics.ObserveNetworkRequest("postgres", "notes_bump_engagement", "notes", start, err)
	return err
}

// Following реализует domain.FollowGraph.
func (p *Postgres) Following(ctx context.Context, viewerID string) ([]string, error) {
	return p.follows(ctx, "follows_following", `
SELECT followee_id FROM follows WHERE follower_id = $1 ORDER BY followee_id
`, viewerID)
}

// Followers реализует domain.FollowGraph.
func (p *Postgres) Followers(ctx context.Context, authorID string) ([]string, error) {
	return p.follows(ctx, "follows_followers", `
SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY follower_id
`, authorID)
}

func (p *Postgres) follows(ctx context.Context, op, query, id string) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, id)
	metrics.ObserveNetworkRequest("postgres", op, "follows", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var out string
		if err := rows.Scan(&out); err != nil {
			return nil, err
		}
		ids = append(ids, out)
	}
	return ids, rows.Err()
}

// Follow добавляет подписку; повторная вставка безвредна.
func (p *Postgres) Follow(ctx context.Context, followerID, followeeID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, followerID, followeeID)
	metrics.ObserveNetworkRequest("postgres", "follows_insert", "follows", start, err)
	return err
}

// ListMembers реализует domain.ListStore: участники всех списков зрителя.
func (p *Postgres) ListMembers(ctx context.Context, viewerID string) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT member_id FROM list_members WHERE owner_id = $1 ORDER BY member_id
`, viewerID)
	metrics.ObserveNetworkRequest("postgres", "list_members_select", "list_members", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// Preferences реализует domain.PreferenceStore. Отсутствие строки означает
// настройки по умолчанию.
func (p *Postgres) Preferences(ctx context.Context, viewerID string) (domain.FilterPreferences, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var prefs domain.FilterPreferences
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT muted_users, muted_keywords, show_nsfw
FROM filter_preferences
WHERE viewer_id = $1
`, viewerID).Scan(&prefs.MutedUsers, &prefs.MutedKeywords, &prefs.ShowNSFW)
	metrics.ObserveNetworkRequest("postgres", "preferences_select", "filter_preferences", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FilterPreferences{}, nil
	}
	if err != nil {
		return domain.FilterPreferences{}, err
	}
	return prefs, nil
}

// UpdatePreferences реализует domain.PreferenceStore.
func (p *Postgres) UpdatePreferences(ctx context.Context, viewerID string, prefs domain.FilterPreferences) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	mutedUsers := prefs.MutedUsers
	if mutedUsers == nil {
		mutedUsers = []string{}
	}
	mutedKeywords := prefs.MutedKeywords
	if mutedKeywords == nil {
		mutedKeywords = []string{}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO filter_preferences (viewer_id, muted_users, muted_keywords, show_nsfw, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (viewer_id) DO UPDATE SET
  muted_users = EXCLUDED.muted_users,
  muted_keywords = EXCLUDED.muted_keywords,
  show_nsfw = EXCLUDED.show_nsfw,
  updated_at = now()
`, viewerID, mutedUsers, mutedKeywords, prefs.ShowNSFW)
	metrics.ObserveNetworkRequest("postgres", "preferences_upsert", "filter_preferences", start, err)
	return err
}

func scanNotes(rows pgx.Rows) ([]domain.Note, error) {
	var notes []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func scanNote(row pgx.Row) (domain.Note, error) {
	var n domain.Note
	err := row.Scan(
		&n.NoteID, &n.AuthorID, &n.Text, &n.CreatedAt, &n.HasMedia,
		&n.Hashtags, &n.Mentions, &n.Views, &n.Likes, &n.Reshares,
		&n.Replies, &n.Quotes, &n.NSFW, &n.AuthorSuspended,
	)
	return n, err
}
