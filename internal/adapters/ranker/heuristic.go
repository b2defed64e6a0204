package ranker

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"timeline-service/internal/domain"
)

// Heuristic оценивает кандидатов пятью сигналами и накапливает вовлечённость
// зрителей в памяти. Diversity-вес конфигурации работает множителем
// шейпинга и в свёртку сигналов не входит.
type Heuristic struct {
	mu      sync.Mutex
	viewers map[string]*viewerState
	global  map[string]float64

	now func() time.Time
}

type viewerState struct {
	affinity map[string]float64
	hashtags map[string]struct{}
}

// NewHeuristic создаёт ранкер с пустой историей вовлечённости.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		viewers: make(map[string]*viewerState),
		global:  make(map[string]float64),
		now:     time.Now,
	}
}

const (
	recencyHalfLifeHours = 6.0
	velocitySaturation   = 10.0
	affinityFollowedBase = 0.8
	affinityStrangerBase = 0.1
	globalAuthorWeight   = 0.2
	globalAuthorStep     = 0.01
)

// Score оценивает кандидатов для зрителя. Хронологический режим не считает
// сигналы: оценкой служит время публикации в секундах эпохи, что даёт
// сортировку от новых к старым тем же компаратором.
func (h *Heuristic) Score(ctx context.Context, notes []domain.SourcedNote, profile domain.ViewerProfile, cfg domain.TimelineConfig) ([]domain.RankedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := h.now().UTC()
	items := make([]domain.RankedItem, 0, len(notes))

	if cfg.Algorithm == domain.AlgorithmChronological {
		for _, sn := range notes {
			items = append(items, domain.RankedItem{
				Note:            sn.Note,
				Source:          sn.Source,
				FinalScore:      float64(sn.Note.CreatedAt.Unix()),
				InjectedAt:      now,
				InjectionReason: injectionReason(sn.Source),
			})
		}
		sortRanked(items)
		return items, nil
	}

	follows := profile.FollowLookup()
	engaged := profile.EngagedHashtagLookup()
	globalAuthors := h.globalSnapshot(notes)

	for _, sn := range notes {
		sig := domain.Signals{
			AuthorAffinity:     affinityScore(sn.Note.AuthorID, profile, follows, globalAuthors),
			ContentQuality:     qualityScore(sn.Note),
			EngagementVelocity: velocityScore(sn.Note, now),
			Recency:            recencyScore(sn.Note, now),
			Personalization:    personalizationScore(sn.Note, profile, engaged, now),
		}
		score := cfg.Weights.Recency*sig.Recency +
			cfg.Weights.Engagement*sig.EngagementVelocity +
			cfg.Weights.AuthorAffinity*sig.AuthorAffinity +
			cfg.Weights.ContentQuality*sig.ContentQuality +
			cfg.Weights.Personalization*sig.Personalization

		if cfg.Algorithm == domain.AlgorithmHybrid {
			if age := now.Sub(sn.Note.CreatedAt); age >= 0 && age <= 30*time.Minute {
				score += 0.02
			}
			if _, followed := follows[sn.Note.AuthorID]; !followed {
				score += 0.01
			}
		}

		items = append(items, domain.RankedItem{
			Note:            sn.Note,
			Source:          sn.Source,
			FinalScore:      score,
			Signals:         sig,
			InjectedAt:      now,
			InjectionReason: injectionReason(sn.Source),
		})
	}

	applyDiversityShaping(items, cfg.Weights.Diversity)
	applyRepetitionControl(items)
	for i := range items {
		if items[i].FinalScore < 0 {
			items[i].FinalScore = 0
		}
	}
	sortRanked(items)
	return items, nil
}

// RecordEngagement наращивает аффинити зритель->автор и глобальную оценку
// автора. Скрытие заметки фиксируется, но аффинити не меняет: история
// растёт монотонно.
func (h *Heuristic) RecordEngagement(viewerID string, note domain.Note, action domain.EngagementAction, duration time.Duration) error {
	delta, ok := action.AffinityDelta()
	if !ok {
		return domain.Ef(domain.KindInvalidArgument, "неизвестное действие: %q", action)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.viewers[viewerID]
	if state == nil {
		state = &viewerState{
			affinity: make(map[string]float64),
			hashtags: make(map[string]struct{}),
		}
		h.viewers[viewerID] = state
	}
	if delta > 0 {
		state.affinity[note.AuthorID] = clip1(state.affinity[note.AuthorID] + delta)
		for _, tag := range note.Hashtags {
			if tag != "" {
				state.hashtags[strings.ToLower(tag)] = struct{}{}
			}
		}
		h.global[note.AuthorID] = clip1(h.global[note.AuthorID] + globalAuthorStep)
	}
	return nil
}

// Snapshot возвращает копии накопленных аффинити и хэштегов зрителя.
// Хэштеги отсортированы для детерминизма сборки профиля.
func (h *Heuristic) Snapshot(viewerID string) (map[string]float64, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.viewers[viewerID]
	if state == nil {
		return map[string]float64{}, nil
	}
	affinity := make(map[string]float64, len(state.affinity))
	for author, v := range state.affinity {
		affinity[author] = v
	}
	hashtags := make([]string, 0, len(state.hashtags))
	for tag := range state.hashtags {
		hashtags = append(hashtags, tag)
	}
	sort.Strings(hashtags)
	return affinity, hashtags
}

func (h *Heuristic) globalSnapshot(notes []domain.SourcedNote) map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]float64, len(notes))
	for _, sn := range notes {
		if v, ok := h.global[sn.Note.AuthorID]; ok {
			out[sn.Note.AuthorID] = v
		}
	}
	return out
}

func injectionReason(src domain.Source) string {
	if src == domain.SourceFollowing {
		return ""
	}
	return src.String()
}

// affinityScore: база 0.8 для подписок и 0.1 для чужих, исторический
// аффинити берёт верх над базой, глобальная популярность автора добавляет
// до 0.2.
func affinityScore(authorID string, profile domain.ViewerProfile, follows map[string]struct{}, global map[string]float64) float64 {
	base := affinityStrangerBase
	if _, ok := follows[authorID]; ok {
		base = affinityFollowedBase
	}
	if hist := profile.AuthorAffinity[authorID]; hist > base {
		base = hist
	}
	return clip1(base + globalAuthorWeight*global[authorID])
}

func qualityScore(n domain.Note) float64 {
	score := 0.5
	length := utf8.RuneCountInString(n.Text)
	switch {
	case length >= 50 && length <= 280:
		score += 0.1
	case length < 10:
		score -= 0.2
	}
	if n.HasMedia {
		score += 0.15
	}
	if strings.Contains(n.Text, "http") {
		score -= 0.05
	}
	tags := len(n.Hashtags)
	switch {
	case tags >= 1 && tags <= 5:
		score += 0.08
	case tags > 10:
		score -= 0.1
	}
	if m := len(n.Mentions); m >= 1 && m <= 3 {
		score += 0.12
	}
	score += math.Min(0.3, n.EngagementRate()*2.0)
	if score < 0 {
		return 0
	}
	return clip1(score)
}

func velocityScore(n domain.Note, now time.Time) float64 {
	age := now.Sub(n.CreatedAt).Hours()
	if age <= 0 {
		return 0
	}
	perHour := float64(n.Engagements()) / age
	return clip1(perHour / velocitySaturation)
}

// recencyScore затухает экспоненциально с полупериодом 6 часов.
func recencyScore(n domain.Note, now time.Time) float64 {
	age := now.Sub(n.CreatedAt).Hours()
	if age < 0 {
		return 1
	}
	return math.Exp(-age * math.Ln2 / recencyHalfLifeHours)
}

func personalizationScore(n domain.Note, profile domain.ViewerProfile, engaged map[string]struct{}, now time.Time) float64 {
	score := 0.0
	hour := now.Hour()
	if hour >= profile.ActiveHourStart && hour <= profile.ActiveHourEnd {
		score += 0.1
	}
	for _, tag := range n.Hashtags {
		if _, ok := engaged[strings.ToLower(tag)]; ok {
			score += 0.05
		}
	}
	return clip1(score)
}

// applyDiversityShaping штрафует авторов с четвёртого вхождения и поощряет
// первые появления хэштегов. Поправки масштабируются diversity-весом.
func applyDiversityShaping(items []domain.RankedItem, weight float64) {
	if weight <= 0 {
		return
	}
	authorSeen := make(map[string]int)
	tagSeen := make(map[string]struct{})
	for i := range items {
		adj := 0.0
		authorSeen[items[i].Note.AuthorID]++
		if n := authorSeen[items[i].Note.AuthorID]; n > 3 {
			adj -= 0.05 * float64(n-3)
		}
		for _, tag := range items[i].Note.Hashtags {
			tag = strings.ToLower(tag)
			if _, ok := tagSeen[tag]; !ok {
				tagSeen[tag] = struct{}{}
				adj += 0.02
			}
		}
		items[i].FinalScore += adj * weight
	}
}

// applyRepetitionControl сглаживает повторы: мягкий лимит в две заметки на
// автора, штраф за подряд идущих одинаковых авторов, бонус новизны первого
// вхождения, штраф заезженных и бонус редких хэштегов.
func applyRepetitionControl(items []domain.RankedItem) {
	tagFreq := make(map[string]int)
	for i := range items {
		for _, tag := range items[i].Note.Hashtags {
			tagFreq[strings.ToLower(tag)]++
		}
	}
	authorSeen := make(map[string]int)
	prevAuthor := ""
	for i := range items {
		author := items[i].Note.AuthorID
		authorSeen[author]++
		n := authorSeen[author]
		if n > 2 {
			items[i].FinalScore -= 0.06 * float64(n-2)
		}
		if author == prevAuthor {
			items[i].FinalScore -= 0.05
		}
		if n == 1 {
			items[i].FinalScore += 0.04
		}
		for _, tag := range items[i].Note.Hashtags {
			switch freq := tagFreq[strings.ToLower(tag)]; {
			case freq > 4:
				items[i].FinalScore -= 0.01
			case freq == 1:
				items[i].FinalScore += 0.02
			}
		}
		prevAuthor = author
	}
}

// sortRanked упорядочивает стабильно: оценка по убыванию, затем время
// публикации по убыванию, затем идентификатор по возрастанию.
func sortRanked(items []domain.RankedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FinalScore != items[j].FinalScore {
			return items[i].FinalScore > items[j].FinalScore
		}
		if !items[i].Note.CreatedAt.Equal(items[j].Note.CreatedAt) {
			return items[i].Note.CreatedAt.After(items[j].Note.CreatedAt)
		}
		return items[i].Note.NoteID < items[j].Note.NoteID
	})
}

func clip1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
