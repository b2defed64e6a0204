package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Классы эндпоинтов с собственными пределами.
const (
	ClassTimeline    = "timeline"
	ClassRefresh     = "refresh"
	ClassEngagement  = "engagement"
	ClassRead        = "read"
	ClassPreferences = "preferences"
	ClassStream      = "stream"
	ClassEvents      = "events"
)

// Limit задаёт пределы одного класса эндпоинтов.
type Limit struct {
	RPM   int
	Burst int
}

// Limiter — токен-бакеты по ключу (класс, вызывающий). Пополнение rpm/60
// токенов в секунду, ёмкость равна burst. Запрос может понизить предел
// заголовком, повысить — нет.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillPerS float64
	rpm        int
	lastRefill time.Time
	lastUsed   time.Time
}

// NewLimiter создаёт лимитер с пределами по классам.
func NewLimiter(limits map[string]Limit) *Limiter {
	copied := make(map[string]Limit, len(limits))
	for class, lim := range limits {
		copied[class] = lim
	}
	return &Limiter{
		limits:  copied,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow потребляет один токен бакета (class, caller). overrideRPM > 0
// понижает предел запроса; значения выше настроенного игнорируются.
// Неизвестный класс не ограничивается.
func (l *Limiter) Allow(class, caller string, overrideRPM int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[class]
	if !ok {
		return true
	}
	rpm := lim.RPM
	if overrideRPM > 0 && overrideRPM < rpm {
		rpm = overrideRPM
	}
	if rpm <= 0 {
		return false
	}

	now := l.now()
	key := class + ":" + caller
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lastRefill: now}
		b.setLimit(rpm, lim.Burst)
		b.tokens = b.capacity
		l.buckets[key] = b
	} else if b.rpm != rpm {
		b.setLimit(rpm, lim.Burst)
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillPerS
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	b.lastUsed = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// setLimit переключает бакет на эффективный предел. Ёмкость не превышает
// rpm, чтобы пониженный предел не раздавался пачкой настроенного burst.
func (b *bucket) setLimit(rpm, burst int) {
	capacity := float64(burst)
	if capacity > float64(rpm) {
		capacity = float64(rpm)
	}
	if capacity < 1 {
		capacity = 1
	}
	b.rpm = rpm
	b.capacity = capacity
	b.refillPerS = float64(rpm) / 60
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Prune удаляет бакеты, не использовавшиеся дольше idle.
func (l *Limiter) Prune(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	for key, b := range l.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Janitor периодически чистит неиспользуемые бакеты до отмены контекста.
func (l *Limiter) Janitor(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune(idle)
		}
	}
}

func (l *Limiter) bucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
