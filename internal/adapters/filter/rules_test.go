package filter

import (
	"context"
	"strings"
	"testing"
	"time"

	"timeline-service/internal/domain"
)

func note(id, author, text string, tags ...string) domain.Note {
	return domain.Note{
		NoteID:    id,
		AuthorID:  author,
		Text:      text,
		Hashtags:  tags,
		CreatedAt: time.Now().UTC(),
	}
}

func filterOne(t *testing.T, n domain.Note, profile domain.ViewerProfile) bool {
	t.Helper()
	out, err := NewRules().Filter(context.Background(), []domain.Note{n}, profile)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return len(out) == 1
}

func TestFilterMutedAuthor(t *testing.T) {
	profile := domain.NewViewerProfile("v1")
	profile.MutedUsers = []string{"spammer"}

	if filterOne(t, note("n1", "spammer", "обычный текст без сюрпризов"), profile) {
		t.Fatal("заметка заглушённого автора прошла фильтр")
	}
	if !filterOne(t, note("n2", "friend", "обычный текст без сюрпризов"), profile) {
		t.Fatal("заметка обычного автора отфильтрована")
	}
}

func TestFilterMutedKeywordInText(t *testing.T) {
	profile := domain.NewViewerProfile("v1")
	profile.MutedKeywords = []string{"Crypto"}

	if filterOne(t, note("n1", "a1", "новости про CRYPTO рынок"), profile) {
		t.Fatal("слово в тексте не сработало без учёта регистра")
	}
}

func TestFilterMutedKeywordInHashtag(t *testing.T) {
	profile := domain.NewViewerProfile("v1")
	profile.MutedKeywords = []string{"politics"}

	if filterOne(t, note("n1", "a1", "нейтральный текст", "Politics"), profile) {
		t.Fatal("слово в хэштеге не сработало")
	}
}

func TestFilterNSFW(t *testing.T) {
	n := note("n1", "a1", "обычный текст без сюрпризов")
	n.NSFW = true

	restricted := domain.NewViewerProfile("v1")
	if filterOne(t, n, restricted) {
		t.Fatal("NSFW заметка прошла без согласия зрителя")
	}

	permissive := domain.NewViewerProfile("v2")
	permissive.ShowNSFW = true
	if !filterOne(t, n, permissive) {
		t.Fatal("NSFW заметка отфильтрована несмотря на согласие")
	}
}

func TestFilterSuspendedAuthor(t *testing.T) {
	n := note("n1", "a1", "обычный текст без сюрпризов")
	n.AuthorSuspended = true

	if filterOne(t, n, domain.NewViewerProfile("v1")) {
		t.Fatal("заметка заблокированного автора прошла фильтр")
	}
}

func TestFilterSpamHeuristics(t *testing.T) {
	profile := domain.NewViewerProfile("v1")
	cases := []struct {
		name string
		note domain.Note
	}{
		{"фраза", note("n1", "a1", "Click HERE to win a prize")},
		{"доллары", note("n2", "a1", "earn $$ fast with this trick")},
		{"пунктуация", note("n3", "a1", "amazing deal!!!!")},
		{"хэштеги", note("n4", "a1", "пост", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10", "t11")},
		{"капс", note("n5", "a1", strings.Repeat("ОЧЕНЬ ВАЖНО ", 3))},
	}
	for _, tc := range cases {
		if filterOne(t, tc.note, profile) {
			t.Fatalf("%s: спам прошёл фильтр: %q", tc.name, tc.note.Text)
		}
	}
}

func TestFilterShortUppercaseAllowed(t *testing.T) {
	// Короткие аббревиатуры не считаются капсом.
	if !filterOne(t, note("n1", "a1", "OK"), domain.NewViewerProfile("v1")) {
		t.Fatal("короткая аббревиатура отфильтрована как капс")
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	profile := domain.NewViewerProfile("v1")
	profile.MutedUsers = []string{"bad"}
	notes := []domain.Note{
		note("n1", "a1", "первый нормальный текст"),
		note("n2", "bad", "этот выпадет"),
		note("n3", "a2", "второй нормальный текст"),
	}

	out, err := NewRules().Filter(context.Background(), notes, profile)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(out) != 2 || out[0].NoteID != "n1" || out[1].NoteID != "n3" {
		t.Fatalf("порядок нарушен: %+v", out)
	}
}

func TestFilterCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRules().Filter(ctx, []domain.Note{note("n1", "a1", "текст")}, domain.NewViewerProfile("v1"))
	if err == nil {
		t.Fatal("ожидали ошибку отменённого контекста")
	}
}
