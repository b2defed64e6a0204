package timeline

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// Request — разобранный запрос ленты.
type Request struct {
	ViewerID  string
	Algorithm domain.Algorithm
	Offset    int
	Limit     int
	// LimitSet отличает отсутствующий limit (страница по умолчанию) от
	// нулевого (пустая страница).
	LimitSet bool
	// Overrides — заголовочные переопределения конфигурации; учитываются
	// только положительные значения.
	Overrides domain.TimelineConfig
	// DiscoveryShare перераспределяет доли не-following источников,
	// только для For-You.
	DiscoveryShare *float64
	// UseOverdrive включает внешний переранкер, только для For-You.
	UseOverdrive bool
}

// Deps — зависимости конвейера.
type Deps struct {
	Sources     []domain.CandidateSource
	Filter      domain.ContentFilter
	Ranker      domain.Ranker
	Heavy       domain.HeavyRanker // nil — переранкер выключен
	Cache       domain.TimelineCache
	Graph       domain.FollowGraph
	Preferences domain.PreferenceStore
	Notes       domain.NoteStore
	Writer      domain.NoteWriter // nil — счётчики заметок не обновляются
	Logger      zerolog.Logger
}

// Options — настройки конвейера.
type Options struct {
	RequestTimeout  time.Duration
	TimelineTTL     time.Duration
	ProfileTTL      time.Duration
	DefaultPageSize int
}

// Service собирает ленты: выборка кандидатов, дедупликация, фильтрация,
// ранжирование, лимиты источников, кэширование и пагинация.
type Service struct {
	sources  []domain.CandidateSource
	filter   domain.ContentFilter
	ranker   domain.Ranker
	heavy    domain.HeavyRanker
	cache    domain.TimelineCache
	graph    domain.FollowGraph
	prefs    domain.PreferenceStore
	notes    domain.NoteStore
	writer   domain.NoteWriter
	log      zerolog.Logger
	defaults domain.TimelineConfig

	requestTimeout  time.Duration
	timelineTTL     time.Duration
	profileTTL      time.Duration
	defaultPageSize int

	now func() time.Time
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPageSize       = 20
	// Жёсткий потолок на размер пересборки, чтобы max_items из тела
	// запроса не превращался в полный скан.
	maxRebuildItems = 500
	// Доля остатка бюджета запроса, отводимая каждому источнику.
	sourceBudgetShare = 0.4
)

// NewService создаёт конвейер ленты.
func NewService(deps Deps, opts Options) *Service {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaultPageSize
	}
	return &Service{
		sources:         deps.Sources,
		filter:          deps.Filter,
		ranker:          deps.Ranker,
		heavy:           deps.Heavy,
		cache:           deps.Cache,
		graph:           deps.Graph,
		prefs:           deps.Preferences,
		notes:           deps.Notes,
		writer:          deps.Writer,
		log:             deps.Logger.With().Str("component", "timeline").Logger(),
		defaults:        domain.DefaultTimelineConfig(),
		requestTimeout:  opts.RequestTimeout,
		timelineTTL:     opts.TimelineTTL,
		profileTTL:      opts.ProfileTTL,
		defaultPageSize: opts.DefaultPageSize,
		now:             time.Now,
	}
}

// Get собирает общую ленту. Кэшированная сборка отдаётся сразу; промах
// запускает полный конвейер с записью результата в кэш.
func (s *Service) Get(ctx context.Context, req Request) (domain.TimelinePage, error) {
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	cfg, err := s.resolveConfig(req)
	if err != nil {
		return domain.TimelinePage{}, err
	}

	if items, ok := s.cache.Get(ctx, req.ViewerID); ok {
		return s.page(ctx, req, cfg, items), nil
	}

	items, err := s.rebuild(ctx, req.ViewerID, cfg)
	if err != nil {
		return domain.TimelinePage{}, err
	}
	s.cache.Put(ctx, req.ViewerID, items, s.timelineTTL)
	return s.page(ctx, req, cfg, items), nil
}

// GetForYou собирает For-You выдачу: всегда гибридный алгоритм, доля
// открытий из запроса, опциональный внешний переранкер. Кэш общих лент
// не используется: конфигурация варианта с ним несовместима.
func (s *Service) GetForYou(ctx context.Context, req Request) (domain.TimelinePage, error) {
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	cfg, err := s.resolveConfig(req)
	if err != nil {
		return domain.TimelinePage{}, err
	}
	cfg.Algorithm = domain.AlgorithmHybrid
	if req.DiscoveryShare != nil {
		cfg = cfg.ApplyDiscoveryShare(*req.DiscoveryShare)
	}

	items, err := s.rebuild(ctx, req.ViewerID, cfg)
	if err != nil {
		return domain.TimelinePage{}, err
	}

	if req.UseOverdrive && s.heavy != nil && len(items) > 0 {
		ids := make([]string, len(items))
		for i := range items {
			ids[i] = items[i].Note.NoteID
		}
		scores, err := s.heavy.RankForYou(ctx, req.ViewerID, ids, len(ids))
		if err != nil {
			metrics.OverdriveFallbacks.Inc()
			s.log.Warn().Err(err).Str("viewer_id", req.ViewerID).
				Msg("timeline: внешний переранкер отказал, порядок сохранён")
		} else {
			items = applyHeavyScores(items, scores)
		}
	}
	return s.page(ctx, req, cfg, items), nil
}

// GetFollowing собирает хронологическую ленту подписок: единственный
// источник following с долей 1 и лимитом в размер ленты.
func (s *Service) GetFollowing(ctx context.Context, req Request) (domain.TimelinePage, error) {
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	cfg, err := s.resolveConfig(req)
	if err != nil {
		return domain.TimelinePage{}, err
	}
	cfg.Algorithm = domain.AlgorithmChronological
	for _, src := range domain.Sources() {
		if src != domain.SourceFollowing {
			cfg.Ratios[src] = 0
		}
	}
	cfg.Ratios[domain.SourceFollowing] = 1
	cfg.Caps[domain.SourceFollowing] = cfg.MaxItems

	items, err := s.rebuild(ctx, req.ViewerID, cfg)
	if err != nil {
		return domain.TimelinePage{}, err
	}
	return s.page(ctx, req, cfg, items), nil
}

// Refresh сбрасывает кэш зрителя, пересобирает ленту и возвращает только
// заметки новее since.
func (s *Service) Refresh(ctx context.Context, viewerID string, since time.Time, maxItems int) (domain.TimelinePage, error) {
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	cfg, err := s.resolveConfig(Request{ViewerID: viewerID})
	if err != nil {
		return domain.TimelinePage{}, err
	}
	if maxItems > 0 {
		if maxItems > maxRebuildItems {
			maxItems = maxRebuildItems
		}
		cfg.MaxItems = maxItems
	}

	s.cache.Invalidate(ctx, viewerID)
	items, err := s.rebuild(ctx, viewerID, cfg)
	if err != nil {
		return domain.TimelinePage{}, err
	}
	s.cache.Put(ctx, viewerID, items, s.timelineTTL)

	fresh := items
	if !since.IsZero() {
		fresh = fresh[:0:0]
		for _, it := range items {
			if it.Note.CreatedAt.After(since) {
				fresh = append(fresh, it)
			}
		}
	}
	return domain.TimelinePage{
		Items:    fresh,
		Metadata: s.metadata(ctx, viewerID, cfg, fresh),
		Pagination: domain.Pagination{
			Offset:     0,
			Limit:      len(fresh),
			TotalCount: len(fresh),
			HasNext:    false,
		},
	}, nil
}

// MarkRead сохраняет отметку прочтения. Отметка движется только вперёд:
// попытка отката молча игнорируется.
func (s *Service) MarkRead(ctx context.Context, viewerID string, readUntil time.Time) error {
	if viewerID == "" {
		return domain.E(domain.KindInvalidArgument, "viewer_id обязателен")
	}
	if readUntil.IsZero() {
		return domain.E(domain.KindInvalidArgument, "read_until обязателен")
	}
	if current, ok := s.cache.LastRead(ctx, viewerID); ok && !readUntil.After(current) {
		return nil
	}
	s.cache.SetLastRead(ctx, viewerID, readUntil)
	return nil
}

// RecordEngagement фиксирует действие зрителя: аффинити в ранкере, счётчик
// на заметке и обновлённый снимок в кэше профиля.
func (s *Service) RecordEngagement(ctx context.Context, viewerID, noteID string, action domain.EngagementAction, duration time.Duration) error {
	if viewerID == "" {
		return domain.E(domain.KindInvalidArgument, "viewer_id обязателен")
	}
	if noteID == "" {
		return domain.E(domain.KindInvalidArgument, "note_id обязателен")
	}
	if _, ok := action.AffinityDelta(); !ok {
		return domain.Ef(domain.KindInvalidArgument, "неизвестное действие: %q", action)
	}
	if duration < 0 {
		return domain.E(domain.KindInvalidArgument, "duration не может быть отрицательной")
	}

	note, err := s.notes.GetNote(ctx, noteID)
	if err != nil {
		if domain.KindOf(err) == domain.KindInvalidArgument {
			return err
		}
		return domain.WrapE(domain.KindUnavailable, "хранилище заметок недоступно", err)
	}
	if err := s.ranker.RecordEngagement(viewerID, note, action, duration); err != nil {
		return err
	}
	metrics.EngagementsRecorded.WithLabelValues(string(action)).Inc()

	if s.writer != nil {
		if err := s.writer.BumpEngagement(ctx, noteID, action); err != nil {
			s.log.Warn().Err(err).Str("note_id", noteID).
				Msg("timeline: не удалось обновить счётчик вовлечённости")
		}
	}

	// Кэшированный профиль получает свежий снимок, чтобы следующая сборка
	// увидела новый аффинити до истечения TTL.
	if profile, ok := s.cache.GetProfile(ctx, viewerID); ok {
		affinity, hashtags := s.ranker.Snapshot(viewerID)
		profile.AuthorAffinity = affinity
		profile.EngagedHashtags = hashtags
		profile.LastUpdated = s.now().UTC()
		s.cache.PutProfile(ctx, viewerID, profile, s.profileTTL)
	}
	return nil
}

// Preferences возвращает сохранённые настройки фильтрации.
func (s *Service) Preferences(ctx context.Context, viewerID string) (domain.FilterPreferences, error) {
	if viewerID == "" {
		return domain.FilterPreferences{}, domain.E(domain.KindInvalidArgument, "viewer_id обязателен")
	}
	prefs, err := s.prefs.Preferences(ctx, viewerID)
	if err != nil {
		return domain.FilterPreferences{}, domain.WrapE(domain.KindUnavailable, "хранилище настроек недоступно", err)
	}
	return prefs, nil
}

// UpdatePreferences сохраняет настройки фильтрации и сбрасывает устаревшие
// кэши зрителя.
func (s *Service) UpdatePreferences(ctx context.Context, viewerID string, prefs domain.FilterPreferences) error {
	if viewerID == "" {
		return domain.E(domain.KindInvalidArgument, "viewer_id обязателен")
	}
	prefs.MutedUsers = normalizeTerms(prefs.MutedUsers)
	prefs.MutedKeywords = normalizeTerms(prefs.MutedKeywords)

	if err := s.prefs.UpdatePreferences(ctx, viewerID, prefs); err != nil {
		return domain.WrapE(domain.KindUnavailable, "хранилище настроек недоступно", err)
	}

	s.cache.Invalidate(ctx, viewerID)
	if profile, ok := s.cache.GetProfile(ctx, viewerID); ok {
		profile.MutedUsers = prefs.MutedUsers
		profile.MutedKeywords = prefs.MutedKeywords
		profile.ShowNSFW = prefs.ShowNSFW
		profile.LastUpdated = s.now().UTC()
		s.cache.PutProfile(ctx, viewerID, profile, s.profileTTL)
	}
	return nil
}

func (s *Service) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

// resolveConfig: значения по умолчанию, поверх — положительные
// переопределения запроса, затем алгоритм запроса.
func (s *Service) resolveConfig(req Request) (domain.TimelineConfig, error) {
	if req.ViewerID == "" {
		return domain.TimelineConfig{}, domain.E(domain.KindInvalidArgument, "viewer_id обязателен")
	}
	cfg := s.defaults.Merge(req.Overrides)
	if req.Algorithm != domain.AlgorithmUnspecified {
		cfg.Algorithm = req.Algorithm
	}
	if err := cfg.Validate(); err != nil {
		return domain.TimelineConfig{}, domain.WrapE(domain.KindInvalidArgument, "некорректная конфигурация", err)
	}
	return cfg, nil
}

// rebuild выполняет полный конвейер сборки: профиль, выборка, дедупликация,
// фильтр, ранжирование, лимиты.
func (s *Service) rebuild(ctx context.Context, viewerID string, cfg domain.TimelineConfig) ([]domain.RankedItem, error) {
	build := time.Now()
	profile, err := s.profile(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.fetchCandidates(ctx, viewerID, cfg)
	if err != nil {
		return nil, err
	}

	plain := make([]domain.Note, len(candidates))
	origin := make(map[string]domain.Source, len(candidates))
	for i, sn := range candidates {
		plain[i] = sn.Note
		origin[sn.Note.NoteID] = sn.Source
	}
	kept, err := s.filter.Filter(ctx, plain, profile)
	if err != nil {
		return nil, domain.WrapE(domain.KindInternal, "фильтр контента отказал", err)
	}
	filtered := make([]domain.SourcedNote, len(kept))
	for i, n := range kept {
		filtered[i] = domain.SourcedNote{Note: n, Source: origin[n.NoteID]}
	}

	items, err := s.ranker.Score(ctx, filtered, profile, cfg)
	if err != nil {
		metrics.RankerFallbacks.Inc()
		s.log.Warn().Err(err).Str("viewer_id", viewerID).
			Msg("timeline: ранкер отказал, хронологический фолбэк")
		items = chronoFallback(filtered, s.now().UTC())
	}

	items = enforceCaps(items, cfg)
	metrics.TimelineBuildSeconds.WithLabelValues(string(cfg.Algorithm)).Observe(time.Since(build).Seconds())
	return items, nil
}

// fetchCandidates опрашивает источники параллельно. Сбой источника даёт
// пустой вклад; DEADLINE_EXCEEDED возвращается только когда дедлайн истёк
// и не ответил ни один источник.
func (s *Service) fetchCandidates(ctx context.Context, viewerID string, cfg domain.TimelineConfig) ([]domain.SourcedNote, error) {
	since := s.now().UTC().Add(-time.Duration(cfg.MaxAgeHours) * time.Hour)

	type result struct {
		src   domain.Source
		notes []domain.Note
		err   error
	}
	results := make(chan result, len(s.sources))
	var wg sync.WaitGroup
	for _, src := range s.sources {
		quota := sourceQuota(cfg, src.Source())
		if quota <= 0 {
			continue
		}
		wg.Add(1)
		go func(src domain.CandidateSource, quota int) {
			defer wg.Done()
			srcCtx, cancel := s.sourceCtx(ctx)
			defer cancel()

			start := time.Now()
			notes, err := src.Fetch(srcCtx, viewerID, cfg, since, quota)
			metrics.SourceFetchSeconds.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.SourceFailures.WithLabelValues(src.Name()).Inc()
				s.log.Warn().Err(err).Str("source", src.Name()).Str("viewer_id", viewerID).
					Msg("timeline: источник кандидатов отказал")
			}
			if len(notes) > quota {
				notes = notes[:quota]
			}
			results <- result{src: src.Source(), notes: notes, err: err}
		}(src, quota)
	}
	wg.Wait()
	close(results)

	bySource := make(map[domain.Source][]domain.Note, len(s.sources))
	succeeded := 0
	for r := range results {
		if r.err != nil {
			continue
		}
		succeeded++
		bySource[r.src] = r.notes
	}
	if succeeded == 0 && ctx.Err() != nil {
		return nil, domain.WrapE(domain.KindDeadlineExceeded, "сборка ленты не уложилась в срок", ctx.Err())
	}

	// Слияние в порядке ординалов: при дубликате note_id побеждает источник
	// с меньшим ординалом.
	seen := make(map[string]struct{})
	var candidates []domain.SourcedNote
	for _, src := range domain.Sources() {
		for _, n := range bySource[src] {
			if _, ok := seen[n.NoteID]; ok {
				continue
			}
			seen[n.NoteID] = struct{}{}
			candidates = append(candidates, domain.SourcedNote{Note: n, Source: src})
		}
	}
	return candidates, nil
}

func (s *Service) sourceCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	budget := time.Duration(float64(time.Until(deadline)) * sourceBudgetShare)
	return context.WithTimeout(ctx, budget)
}

// profile возвращает профиль из кэша или собирает его лениво. Без кэша
// сбой графа или хранилища настроек означает UNAVAILABLE.
func (s *Service) profile(ctx context.Context, viewerID string) (domain.ViewerProfile, error) {
	if profile, ok := s.cache.GetProfile(ctx, viewerID); ok {
		return profile, nil
	}

	following, err := s.graph.Following(ctx, viewerID)
	if err != nil {
		return domain.ViewerProfile{}, domain.WrapE(domain.KindUnavailable, "граф подписок недоступен", err)
	}
	prefs, err := s.prefs.Preferences(ctx, viewerID)
	if err != nil {
		return domain.ViewerProfile{}, domain.WrapE(domain.KindUnavailable, "хранилище настроек недоступно", err)
	}
	affinity, hashtags := s.ranker.Snapshot(viewerID)

	profile := domain.NewViewerProfile(viewerID)
	profile.FollowSet = following
	profile.MutedUsers = prefs.MutedUsers
	profile.MutedKeywords = prefs.MutedKeywords
	profile.ShowNSFW = prefs.ShowNSFW
	profile.AuthorAffinity = affinity
	profile.EngagedHashtags = hashtags
	profile.LastUpdated = s.now().UTC()

	s.cache.PutProfile(ctx, viewerID, profile, s.profileTTL)
	return profile, nil
}

func (s *Service) page(ctx context.Context, req Request, cfg domain.TimelineConfig, items []domain.RankedItem) domain.TimelinePage {
	limit := s.defaultPageSize
	if req.LimitSet {
		limit = req.Limit
	}
	pageItems, pagination := paginate(items, req.Offset, limit)
	return domain.TimelinePage{
		Items:      pageItems,
		Metadata:   s.metadata(ctx, req.ViewerID, cfg, items),
		Pagination: pagination,
	}
}

func (s *Service) metadata(ctx context.Context, viewerID string, cfg domain.TimelineConfig, items []domain.RankedItem) domain.TimelineMetadata {
	lastUpdated := s.now().UTC()
	if len(items) > 0 {
		lastUpdated = items[0].InjectedAt
		for _, it := range items[1:] {
			if it.InjectedAt.After(lastUpdated) {
				lastUpdated = it.InjectedAt
			}
		}
	}
	newItems := len(items)
	if lastRead, ok := s.cache.LastRead(ctx, viewerID); ok {
		newItems = 0
		for _, it := range items {
			if it.Note.CreatedAt.After(lastRead) {
				newItems++
			}
		}
	}
	return domain.TimelineMetadata{
		Algorithm:              cfg.Algorithm,
		Weights:                cfg.Weights,
		TotalItems:             len(items),
		NewItemsSinceLastFetch: newItems,
		LastUpdated:            lastUpdated,
	}
}

// sourceQuota: floor(maxItems · ratio · abWeight), сверху лимит источника.
func sourceQuota(cfg domain.TimelineConfig, src domain.Source) int {
	quota := int(math.Floor(float64(cfg.MaxItems) * cfg.Ratios[src] * cfg.ABWeights[src]))
	if limit, ok := cfg.Caps[src]; ok && limit > 0 && quota > limit {
		quota = limit
	}
	return quota
}

// enforceCaps обходит отсортированную выдачу, пропуская заметки поверх
// лимита их источника, и останавливается на размере ленты или пороге оценки.
func enforceCaps(items []domain.RankedItem, cfg domain.TimelineConfig) []domain.RankedItem {
	out := make([]domain.RankedItem, 0, len(items))
	counts := make(map[domain.Source]int)
	for _, it := range items {
		if len(out) >= cfg.MaxItems {
			break
		}
		if it.FinalScore < cfg.MinScoreThreshold {
			break
		}
		if limit, ok := cfg.Caps[it.Source]; ok && limit > 0 && counts[it.Source] >= limit {
			continue
		}
		counts[it.Source]++
		out = append(out, it)
	}
	return out
}

func chronoFallback(candidates []domain.SourcedNote, now time.Time) []domain.RankedItem {
	items := make([]domain.RankedItem, 0, len(candidates))
	for _, sn := range candidates {
		reason := ""
		if sn.Source != domain.SourceFollowing {
			reason = sn.Source.String()
		}
		items = append(items, domain.RankedItem{
			Note:            sn.Note,
			Source:          sn.Source,
			FinalScore:      float64(sn.Note.CreatedAt.Unix()),
			InjectedAt:      now,
			InjectionReason: reason,
		})
	}
	sortItems(items)
	return items
}

// applyHeavyScores накладывает оценки внешнего переранкера: совпавшие
// заметки получают новую оценку, остальные сохраняют прежнюю, затем
// стабильная пересортировка.
func applyHeavyScores(items []domain.RankedItem, scores []domain.RankedNoteScore) []domain.RankedItem {
	if len(scores) == 0 {
		return items
	}
	byID := make(map[string]float64, len(scores))
	for _, sc := range scores {
		byID[sc.NoteID] = sc.Score
	}
	out := make([]domain.RankedItem, len(items))
	copy(out, items)
	for i := range out {
		if score, ok := byID[out[i].Note.NoteID]; ok {
			out[i].FinalScore = score
		}
	}
	sortItems(out)
	return out
}

func sortItems(items []domain.RankedItem) {
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

// paginate вырезает страницу: offset прижимается к [0, size], limit меньше
// нуля трактуется как ноль.
func paginate(items []domain.RankedItem, offset, limit int) ([]domain.RankedItem, domain.Pagination) {
	size := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}
	if limit < 0 {
		limit = 0
	}
	end := offset + limit
	if end > size {
		end = size
	}
	page := items[offset:end]
	return page, domain.Pagination{
		Offset:     offset,
		Limit:      limit,
		TotalCount: size,
		HasNext:    offset+limit < size,
	}
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
