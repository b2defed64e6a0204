package filter

import (
	"context"
	"strings"
	"unicode"

	"timeline-service/internal/domain"
)

// RuleFilter отсекает заметки по настройкам зрителя и эвристикам спама.
// Порядок проверок фиксирован: заглушённый автор, заглушённое слово,
// NSFW без согласия, заблокированный автор, спам.
type RuleFilter struct{}

// NewRules создаёт фильтр.
func NewRules() *RuleFilter {
	return &RuleFilter{}
}

var spamPhrases = []string{
	"click here",
	"buy now",
	"limited time",
	"act fast",
	"free money",
}

// Filter возвращает заметки, прошедшие все проверки. Порядок входа сохраняется.
func (f *RuleFilter) Filter(ctx context.Context, notes []domain.Note, profile domain.ViewerProfile) ([]domain.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	muted := profile.MuteLookup()
	out := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if _, ok := muted[n.AuthorID]; ok {
			continue
		}
		if hasMutedKeyword(n, profile.MutedKeywords) {
			continue
		}
		if n.NSFW && !profile.ShowNSFW {
			continue
		}
		if n.AuthorSuspended {
			continue
		}
		if looksLikeSpam(n) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// hasMutedKeyword ищет слово без учёта регистра в тексте и хэштегах.
func hasMutedKeyword(n domain.Note, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	text := strings.ToLower(n.Text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return true
		}
		for _, tag := range n.Hashtags {
			if strings.Contains(strings.ToLower(tag), kw) {
				return true
			}
		}
	}
	return false
}

func looksLikeSpam(n domain.Note) bool {
	text := strings.ToLower(n.Text)
	for _, phrase := range spamPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	if strings.Contains(n.Text, "$$") {
		return true
	}
	if hasRepeatedPunct(n.Text, 4) {
		return true
	}
	if len(n.Hashtags) > 10 {
		return true
	}
	if capsRatio(n.Text) > 0.7 {
		return true
	}
	return false
}

// hasRepeatedPunct ловит серии одинаковой пунктуации длиной не короче run.
func hasRepeatedPunct(text string, run int) bool {
	var prev rune
	count := 0
	for _, r := range text {
		if unicode.IsPunct(r) && r == prev {
			count++
			if count >= run {
				return true
			}
			continue
		}
		prev = r
		if unicode.IsPunct(r) {
			count = 1
		} else {
			count = 0
		}
	}
	return false
}

// capsRatio возвращает долю заглавных среди букв. Короткие тексты
// (меньше 10 рун) не считаются: аббревиатуры дают ложные срабатывания.
func capsRatio(text string) float64 {
	runes := 0
	letters := 0
	upper := 0
	for _, r := range text {
		runes++
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if runes < 10 || letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
