package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	} `envconfig:""`

	Rabbit struct {
		URL   string `envconfig:"RABBITMQ_URL"`
		Queue string `envconfig:"NOTE_EVENTS_QUEUE" default:"note_events"`
	} `envconfig:""`

	Auth struct {
		// Общий токен деплоя; пустое значение отключает проверку x-auth-token.
		Token string `envconfig:"AUTH_TOKEN"`
	} `envconfig:""`

	Overdrive struct {
		BaseURL string        `envconfig:"OVERDRIVE_BASE_URL"`
		Timeout time.Duration `envconfig:"OVERDRIVE_TIMEOUT" default:"2s"`
	} `envconfig:""`

	Timeline struct {
		RequestTimeout  time.Duration `envconfig:"TIMELINE_REQUEST_TIMEOUT" default:"30s"`
		CacheTTL        time.Duration `envconfig:"TIMELINE_CACHE_TTL" default:"60m"`
		ProfileTTL      time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"30m"`
		CacheEntries    int           `envconfig:"TIMELINE_CACHE_ENTRIES" default:"10000"`
		DefaultPageSize int           `envconfig:"TIMELINE_PAGE_SIZE" default:"20"`
		FollowSetTTL    time.Duration `envconfig:"FOLLOW_SET_TTL" default:"10m"`
		TrendingRefresh time.Duration `envconfig:"TRENDING_REFRESH" default:"1h"`
	} `envconfig:""`

	Rate struct {
		TimelineRPM      int `envconfig:"RATE_TIMELINE_RPM" default:"600"`
		TimelineBurst    int `envconfig:"RATE_TIMELINE_BURST" default:"60"`
		RefreshRPM       int `envconfig:"RATE_REFRESH_RPM" default:"120"`
		RefreshBurst     int `envconfig:"RATE_REFRESH_BURST" default:"12"`
		EngagementRPM    int `envconfig:"RATE_ENGAGEMENT_RPM" default:"300"`
		EngagementBurst  int `envconfig:"RATE_ENGAGEMENT_BURST" default:"30"`
		ReadRPM          int `envconfig:"RATE_READ_RPM" default:"300"`
		ReadBurst        int `envconfig:"RATE_READ_BURST" default:"30"`
		PreferencesRPM   int `envconfig:"RATE_PREFERENCES_RPM" default:"120"`
		PreferencesBurst int `envconfig:"RATE_PREFERENCES_BURST" default:"12"`
		StreamRPM        int `envconfig:"RATE_STREAM_RPM" default:"60"`
		StreamBurst      int `envconfig:"RATE_STREAM_BURST" default:"10"`
		EventsRPM        int `envconfig:"RATE_EVENTS_RPM" default:"120"`
		EventsBurst      int `envconfig:"RATE_EVENTS_BURST" default:"12"`
	} `envconfig:""`

	Fanout struct {
		QueueSize   int `envconfig:"FANOUT_QUEUE_SIZE" default:"1024"`
		BatchSize   int `envconfig:"FANOUT_BATCH_SIZE" default:"500"`
		MaxAttempts int `envconfig:"FANOUT_MAX_ATTEMPTS" default:"3"`
	} `envconfig:""`

	Stream struct {
		QueueSize     int           `envconfig:"STREAM_QUEUE_SIZE" default:"16"`
		RatePerSecond int           `envconfig:"STREAM_RATE_PER_SECOND" default:"5"`
		Heartbeat     time.Duration `envconfig:"STREAM_HEARTBEAT" default:"500ms"`
		IdleTTL       time.Duration `envconfig:"STREAM_IDLE_TTL" default:"5m"`
	} `envconfig:""`

	Eventgen struct {
		Interval time.Duration `envconfig:"EVENTGEN_INTERVAL" default:"2s"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
