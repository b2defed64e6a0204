package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"timeline-service/internal/adapters/repo"
	"timeline-service/internal/domain"
	"timeline-service/internal/infra/config"
	"timeline-service/internal/infra/db"
	logpkg "timeline-service/internal/infra/log"
)

// Схема повторяет запросы adapters/repo: TEXT[] под хэштеги и упоминания,
// GIN-индекс под выборку trending.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notes (
		note_id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		has_media BOOLEAN NOT NULL DEFAULT FALSE,
		hashtags TEXT[] NOT NULL DEFAULT '{}',
		mentions TEXT[] NOT NULL DEFAULT '{}',
		views BIGINT NOT NULL DEFAULT 0,
		likes BIGINT NOT NULL DEFAULT 0,
		reshares BIGINT NOT NULL DEFAULT 0,
		replies BIGINT NOT NULL DEFAULT 0,
		quotes BIGINT NOT NULL DEFAULT 0,
		nsfw BOOLEAN NOT NULL DEFAULT FALSE,
		author_suspended BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS notes_author_created_idx ON notes (author_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS notes_created_idx ON notes (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS notes_hashtags_idx ON notes USING GIN (hashtags)`,
	`CREATE TABLE IF NOT EXISTS follows (
		follower_id TEXT NOT NULL,
		followee_id TEXT NOT NULL,
		PRIMARY KEY (follower_id, followee_id)
	)`,
	`CREATE INDEX IF NOT EXISTS follows_followee_idx ON follows (followee_id)`,
	`CREATE TABLE IF NOT EXISTS list_members (
		owner_id TEXT NOT NULL,
		list_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		PRIMARY KEY (owner_id, list_id, member_id)
	)`,
	`CREATE TABLE IF NOT EXISTS filter_preferences (
		viewer_id TEXT PRIMARY KEY,
		muted_users TEXT[] NOT NULL DEFAULT '{}',
		muted_keywords TEXT[] NOT NULL DEFAULT '{}',
		show_nsfw BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed: нет подключения к БД")
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			logger.Fatal().Err(err).Msg("seed: не удалось применить схему")
		}
	}
	logger.Info().Msg("seed: схема готова")

	store := repo.NewPostgres(pool)
	now := time.Now().UTC()
	rng := rand.New(rand.NewSource(42))

	notes := demoNotes(now, rng)
	for _, n := range notes {
		if err := store.UpsertNote(ctx, n); err != nil {
			logger.Fatal().Err(err).Str("note_id", n.NoteID).Msg("seed: не удалось записать заметку")
		}
	}
	logger.Info().Int("notes", len(notes)).Msg("seed: заметки записаны")

	follows := [][2]string{
		{"viewer_a", "alice"},
		{"viewer_a", "bob"},
		{"viewer_b", "alice"},
		{"viewer_b", "carol"},
		{"alice", "bob"},
		{"bob", "carol"},
	}
	for _, f := range follows {
		if err := store.Follow(ctx, f[0], f[1]); err != nil {
			logger.Fatal().Err(err).Msg("seed: не удалось записать подписку")
		}
	}
	logger.Info().Int("follows", len(follows)).Msg("seed: граф подписок записан")

	lists := [][3]string{
		{"viewer_a", "tech", "dave"},
		{"viewer_a", "tech", "erin"},
		{"viewer_b", "art", "dave"},
	}
	for _, l := range lists {
		if _, err := pool.Exec(ctx, `
INSERT INTO list_members (owner_id, list_id, member_id) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`, l[0], l[1], l[2]); err != nil {
			logger.Fatal().Err(err).Msg("seed: не удалось записать список")
		}
	}
	logger.Info().Int("members", len(lists)).Msg("seed: списки записаны")

	if err := store.UpdatePreferences(ctx, "viewer_a", domain.FilterPreferences{
		MutedUsers:    []string{"carol"},
		MutedKeywords: []string{"crypto"},
	}); err != nil {
		logger.Fatal().Err(err).Msg("seed: не удалось записать настройки")
	}
	logger.Info().Msg("seed: настройки фильтрации записаны")
}

// demoNotes распределяет заметки по авторам и последним суткам: у alice и bob
// плотный свежий поток, у dave хэштеги под trending, у carol — заметки,
// которые у viewer_a отфильтруются.
func demoNotes(now time.Time, rng *rand.Rand) []domain.Note {
	type authorPlan struct {
		id    string
		count int
		tags  []string
		nsfw  bool
	}
	plans := []authorPlan{
		{id: "alice", count: 8, tags: []string{"golang", "distributed"}},
		{id: "bob", count: 6, tags: []string{"music"}},
		{id: "carol", count: 5, tags: []string{"crypto"}},
		{id: "dave", count: 7, tags: []string{"golang", "food"}},
		{id: "erin", count: 4, tags: []string{"travel"}, nsfw: true},
	}

	var notes []domain.Note
	for _, plan := range plans {
		for i := 0; i < plan.count; i++ {
			age := time.Duration(rng.Intn(20*60)) * time.Minute
			tag := plan.tags[rng.Intn(len(plan.tags))]
			views := int64(rng.Intn(5000) + 50)
			likes := int64(rng.Intn(300))
			notes = append(notes, domain.Note{
				NoteID:    uuid.NewString(),
				AuthorID:  plan.id,
				Text:      fmt.Sprintf("%s пишет про #%s (%d)", plan.id, tag, i),
				CreatedAt: now.Add(-age),
				HasMedia:  rng.Intn(3) == 0,
				Hashtags:  []string{tag},
				Views:     views,
				Likes:     likes,
				Reshares:  int64(rng.Intn(60)),
				Replies:   int64(rng.Intn(40)),
				Quotes:    int64(rng.Intn(15)),
				NSFW:      plan.nsfw && i%2 == 0,
			})
		}
	}
	return notes
}
