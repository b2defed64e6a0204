package domain

import "fmt"

// Algorithm задаёт режим сборки ленты.
type Algorithm string

const (
	AlgorithmUnspecified   Algorithm = ""
	AlgorithmChronological Algorithm = "chronological"
	AlgorithmHybrid        Algorithm = "hybrid"
)

// ParseAlgorithm разбирает режим из строки запроса. Пустая строка и
// "unspecified" означают режим по умолчанию.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "unspecified":
		return AlgorithmUnspecified, nil
	case "chronological":
		return AlgorithmChronological, nil
	case "hybrid":
		return AlgorithmHybrid, nil
	default:
		return AlgorithmUnspecified, fmt.Errorf("неизвестный алгоритм: %q", s)
	}
}

// SignalWeights — веса сигналов при свёртке итоговой оценки. Diversity
// участвует только как множитель шейпинга, не в свёртке.
type SignalWeights struct {
	Recency         float64 `json:"recency"`
	Engagement      float64 `json:"engagement"`
	AuthorAffinity  float64 `json:"author_affinity"`
	ContentQuality  float64 `json:"content_quality"`
	Diversity       float64 `json:"diversity"`
	Personalization float64 `json:"personalization"`
}

// TimelineConfig — разрешённая конфигурация одного запроса.
type TimelineConfig struct {
	Algorithm         Algorithm          `json:"algorithm"`
	MaxItems          int                `json:"max_items"`
	MaxAgeHours       int                `json:"max_age_hours"`
	MinScoreThreshold float64            `json:"min_score_threshold"`
	Weights           SignalWeights      `json:"weights"`
	Ratios            map[Source]float64 `json:"ratios"`
	Caps              map[Source]int     `json:"caps"`
	ABWeights         map[Source]float64 `json:"ab_weights"`
}

// DefaultTimelineConfig возвращает конфигурацию по умолчанию.
func DefaultTimelineConfig() TimelineConfig {
	return TimelineConfig{
		Algorithm:         AlgorithmHybrid,
		MaxItems:          50,
		MaxAgeHours:       24,
		MinScoreThreshold: 0.1,
		Weights: SignalWeights{
			Recency:         0.30,
			Engagement:      0.25,
			AuthorAffinity:  0.20,
			ContentQuality:  0.15,
			Diversity:       0.10,
			Personalization: 0.10,
		},
		Ratios: map[Source]float64{
			SourceFollowing:   0.70,
			SourceRecommended: 0.20,
			SourceTrending:    0.08,
			SourceLists:       0.02,
		},
		Caps: map[Source]int{
			SourceFollowing:   100,
			SourceRecommended: 50,
			SourceTrending:    30,
			SourceLists:       20,
		},
		ABWeights: map[Source]float64{
			SourceFollowing:   1.0,
			SourceRecommended: 1.0,
			SourceTrending:    1.0,
			SourceLists:       1.0,
		},
	}
}

// Clone возвращает глубокую копию конфигурации.
func (c TimelineConfig) Clone() TimelineConfig {
	out := c
	out.Ratios = make(map[Source]float64, len(c.Ratios))
	for k, v := range c.Ratios {
		out.Ratios[k] = v
	}
	out.Caps = make(map[Source]int, len(c.Caps))
	for k, v := range c.Caps {
		out.Caps[k] = v
	}
	out.ABWeights = make(map[Source]float64, len(c.ABWeights))
	for k, v := range c.ABWeights {
		out.ABWeights[k] = v
	}
	return out
}

// Merge накладывает переопределения поверх копии c: учитываются только
// положительные значения, остальные поля остаются прежними.
func (c TimelineConfig) Merge(o TimelineConfig) TimelineConfig {
	out := c.Clone()
	if o.Algorithm != AlgorithmUnspecified {
		out.Algorithm = o.Algorithm
	}
	if o.MaxItems > 0 {
		out.MaxItems = o.MaxItems
	}
	if o.MaxAgeHours > 0 {
		out.MaxAgeHours = o.MaxAgeHours
	}
	if o.MinScoreThreshold > 0 {
		out.MinScoreThreshold = o.MinScoreThreshold
	}
	mergeWeight := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	mergeWeight(&out.Weights.Recency, o.Weights.Recency)
	mergeWeight(&out.Weights.Engagement, o.Weights.Engagement)
	mergeWeight(&out.Weights.AuthorAffinity, o.Weights.AuthorAffinity)
	mergeWeight(&out.Weights.ContentQuality, o.Weights.ContentQuality)
	mergeWeight(&out.Weights.Diversity, o.Weights.Diversity)
	mergeWeight(&out.Weights.Personalization, o.Weights.Personalization)
	for src, v := range o.Ratios {
		if v > 0 {
			out.Ratios[src] = v
		}
	}
	for src, v := range o.Caps {
		if v > 0 {
			out.Caps[src] = v
		}
	}
	for src, v := range o.ABWeights {
		if v > 0 {
			out.ABWeights[src] = v
		}
	}
	return out
}

// Validate отклоняет отрицательные доли, веса и лимиты.
func (c TimelineConfig) Validate() error {
	if c.MaxItems < 0 {
		return fmt.Errorf("max_items отрицателен: %d", c.MaxItems)
	}
	if c.MaxAgeHours < 0 {
		return fmt.Errorf("max_age_hours отрицателен: %d", c.MaxAgeHours)
	}
	for _, w := range []float64{
		c.Weights.Recency, c.Weights.Engagement, c.Weights.AuthorAffinity,
		c.Weights.ContentQuality, c.Weights.Diversity, c.Weights.Personalization,
	} {
		if w < 0 {
			return fmt.Errorf("вес сигнала отрицателен: %f", w)
		}
	}
	for src, r := range c.Ratios {
		if r < 0 {
			return fmt.Errorf("доля источника %s отрицательна: %f", src, r)
		}
	}
	for src, limit := range c.Caps {
		if limit < 0 {
			return fmt.Errorf("лимит источника %s отрицателен: %d", src, limit)
		}
	}
	for src, w := range c.ABWeights {
		if w < 0 {
			return fmt.Errorf("A/B вес источника %s отрицателен: %f", src, w)
		}
	}
	return nil
}

// ApplyDiscoveryShare перераспределяет доли: не-following источники
// масштабируются так, чтобы их сумма равнялась share, following получает
// остаток. Share за пределами [0,1] обрезается.
func (c TimelineConfig) ApplyDiscoveryShare(share float64) TimelineConfig {
	if share < 0 {
		share = 0
	}
	if share > 1 {
		share = 1
	}
	out := c.Clone()
	var rest float64
	for src, r := range out.Ratios {
		if src != SourceFollowing {
			rest += r
		}
	}
	if rest <= 0 {
		// Нечего масштабировать: делим share поровну между не-following.
		others := 0
		for _, src := range Sources() {
			if src != SourceFollowing {
				others++
			}
		}
		for _, src := range Sources() {
			if src != SourceFollowing {
				out.Ratios[src] = share / float64(others)
			}
		}
	} else {
		scale := share / rest
		for src, r := range out.Ratios {
			if src != SourceFollowing {
				out.Ratios[src] = r * scale
			}
		}
	}
	out.Ratios[SourceFollowing] = 1 - share
	return out
}
