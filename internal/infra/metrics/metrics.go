package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TimelineRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_requests_total",
		Help: "Количество запросов к ленте",
	}, []string{"endpoint", "status"})

	TimelineBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timeline_build_seconds",
		Help:    "Время сборки ленты",
		Buckets: prometheus.DefBuckets,
	}, []string{"algorithm"})

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_cache_hits_total",
		Help: "Попадания в кэш лент по уровням",
	}, []string{"tier"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_cache_misses_total",
		Help: "Промахи кэша лент по уровням",
	}, []string{"tier"})

	SourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_source_failures_total",
		Help: "Сбои источников кандидатов",
	}, []string{"source"})

	SourceFetchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timeline_source_fetch_seconds",
		Help:    "Время выборки кандидатов из источника",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	RankerFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_ranker_fallbacks_total",
		Help: "Срабатывания хронологического фолбэка при сбое ранкера",
	})

	OverdriveFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_overdrive_fallbacks_total",
		Help: "Сбои внешнего переранкера с сохранением исходного порядка",
	})

	FanoutQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_queue_depth",
		Help: "Текущая глубина очереди фан-аута",
	})

	FanoutShed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_shed_total",
		Help: "Задачи фан-аута, вытесненные при переполнении очереди",
	})

	FanoutTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_tasks_total",
		Help: "Обработанные задачи фан-аута по исходу",
	}, []string{"result"})

	StreamSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_sessions",
		Help: "Количество открытых стриминговых сессий",
	})

	StreamUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_updates_total",
		Help: "Доставка обновлений подписчикам по исходу",
	}, []string{"result"})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_rate_limited_total",
		Help: "Запросы, отклонённые лимитером",
	}, []string{"class"})

	EngagementsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagements_recorded_total",
		Help: "Зафиксированные действия вовлечённости",
	}, []string{"action"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TimelineRequests,
		TimelineBuildSeconds,
		CacheHits,
		CacheMisses,
		SourceFailures,
		SourceFetchSeconds,
		RankerFallbacks,
		OverdriveFallbacks,
		FanoutQueueDepth,
		FanoutShed,
		FanoutTasks,
		StreamSessions,
		StreamUpdates,
		RateLimited,
		EngagementsRecorded,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveTimelineRequest записывает исход запроса к ленте.
func ObserveTimelineRequest(endpoint string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	TimelineRequests.WithLabelValues(endpoint, status).Inc()
}
