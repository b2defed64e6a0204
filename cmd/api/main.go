package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timeline-service/internal/adapters/filter"
	"timeline-service/internal/adapters/httpapi"
	"timeline-service/internal/adapters/ranker"
	"timeline-service/internal/adapters/repo"
	"timeline-service/internal/adapters/source"
	"timeline-service/internal/domain"
	"timeline-service/internal/infra/cache"
	"timeline-service/internal/infra/config"
	"timeline-service/internal/infra/db"
	httpinfra "timeline-service/internal/infra/http"
	logpkg "timeline-service/internal/infra/log"
	"timeline-service/internal/infra/metrics"
	"timeline-service/internal/infra/overdrive"
	"timeline-service/internal/infra/queue"
	"timeline-service/internal/infra/ratelimit"
	"timeline-service/internal/usecase/fanout"
	"timeline-service/internal/usecase/stream"
	"timeline-service/internal/usecase/timeline"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	pings := map[string]func(context.Context) error{
		"postgres": pool.Ping,
	}

	// Локальный LRU всегда на месте; Redis добавляет общий уровень, когда
	// инстансов несколько.
	local := cache.NewMemory(cfg.Timeline.CacheEntries)
	var remote domain.TimelineCache
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		remote = cache.NewRedis(rdb, logger)
		pings["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	timelineCache := cache.NewTwoTier(remote, local, cfg.Timeline.CacheTTL, cfg.Timeline.ProfileTTL)

	sources := []domain.CandidateSource{
		source.NewFollowing(store, store, cfg.Timeline.FollowSetTTL),
		source.NewRecommended(store, store),
		source.NewTrending(store, cfg.Timeline.TrendingRefresh),
		source.NewLists(store, store),
	}

	var heavy domain.HeavyRanker
	if cfg.Overdrive.BaseURL != "" {
		heavy = overdrive.NewClient(cfg.Overdrive.BaseURL, cfg.Overdrive.Timeout)
	}

	svc := timeline.NewService(timeline.Deps{
		Sources:     sources,
		Filter:      filter.NewRules(),
		Ranker:      ranker.NewHeuristic(),
		Heavy:       heavy,
		Cache:       timelineCache,
		Graph:       store,
		Preferences: store,
		Notes:       store,
		Writer:      store,
		Logger:      logger,
	}, timeline.Options{
		RequestTimeout:  cfg.Timeline.RequestTimeout,
		TimelineTTL:     cfg.Timeline.CacheTTL,
		ProfileTTL:      cfg.Timeline.ProfileTTL,
		DefaultPageSize: cfg.Timeline.DefaultPageSize,
	})

	hub := stream.NewHub(cfg.Stream.QueueSize, float64(cfg.Stream.RatePerSecond), cfg.Stream.Heartbeat, cfg.Stream.IdleTTL)
	fanQueue := fanout.NewQueue(cfg.Fanout.QueueSize)
	worker := fanout.NewWorker(fanQueue, store, timelineCache, hub, store, logger, cfg.Fanout.BatchSize, cfg.Fanout.MaxAttempts)
	go worker.Run(ctx)

	// Входящий поток событий: RabbitMQ в приоритете, Redis как запасной
	// вариант. Без обоих события принимаются только через HTTP.
	var events domain.NoteEventSource
	if cfg.Rabbit.URL != "" {
		rabbit, err := queue.NewRabbitNoteEvents(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		events = rabbit
	} else if rdb != nil {
		events = queue.NewRedisNoteEvents(rdb, cfg.Rabbit.Queue)
	}
	if events != nil {
		go relayNoteEvents(ctx, events, fanQueue, logger)
	}

	limiter := ratelimit.NewLimiter(map[string]ratelimit.Limit{
		ratelimit.ClassTimeline:    {RPM: cfg.Rate.TimelineRPM, Burst: cfg.Rate.TimelineBurst},
		ratelimit.ClassRefresh:     {RPM: cfg.Rate.RefreshRPM, Burst: cfg.Rate.RefreshBurst},
		ratelimit.ClassEngagement:  {RPM: cfg.Rate.EngagementRPM, Burst: cfg.Rate.EngagementBurst},
		ratelimit.ClassRead:        {RPM: cfg.Rate.ReadRPM, Burst: cfg.Rate.ReadBurst},
		ratelimit.ClassPreferences: {RPM: cfg.Rate.PreferencesRPM, Burst: cfg.Rate.PreferencesBurst},
		ratelimit.ClassStream:      {RPM: cfg.Rate.StreamRPM, Burst: cfg.Rate.StreamBurst},
		ratelimit.ClassEvents:      {RPM: cfg.Rate.EventsRPM, Burst: cfg.Rate.EventsBurst},
	})
	go limiter.Janitor(ctx, time.Minute, 10*time.Minute)

	handler := httpapi.NewHandler(svc, hub, limiter, fanQueue, pings, cfg.Auth.Token, logger)
	server := httpinfra.NewServer(logger)
	handler.RegisterRoutes(server.Router)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")

	// Сначала закрываем стриминговые сессии, иначе Shutdown будет ждать
	// вечные SSE-соединения.
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: сервер не остановился корректно")
	}
}

// relayNoteEvents перекладывает события из внешней очереди во внутреннюю
// очередь фан-аута.
func relayNoteEvents(ctx context.Context, events domain.NoteEventSource, sink *fanout.Queue, logger zerolog.Logger) {
	log := logger.With().Str("component", "events").Logger()
	for {
		event, ack, err := events.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("events: сбой чтения очереди")
			time.Sleep(time.Second)
			continue
		}
		sink.Push(domain.FanoutTask{Event: event})
		if ack != nil {
			if err := ack(true); err != nil {
				log.Warn().Err(err).Msg("events: не удалось подтвердить доставку")
			}
		}
	}
}
