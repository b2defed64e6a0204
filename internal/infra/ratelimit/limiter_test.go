package ratelimit

import (
	"testing"
	"time"
)

func TestAllowSingleTokenBucket(t *testing.T) {
	l := NewLimiter(map[string]Limit{ClassTimeline: {RPM: 1, Burst: 1}})

	if !l.Allow(ClassTimeline, "v1", 0) {
		t.Fatal("первый запрос должен пройти")
	}
	if l.Allow(ClassTimeline, "v1", 0) {
		t.Fatal("второй запрос в ту же минуту должен быть отклонён")
	}
}

func TestAllowRefill(t *testing.T) {
	l := NewLimiter(map[string]Limit{ClassTimeline: {RPM: 60, Burst: 1}})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow(ClassTimeline, "v1", 0) {
		t.Fatal("первый запрос должен пройти")
	}
	if l.Allow(ClassTimeline, "v1", 0) {
		t.Fatal("бакет пуст, запрос должен быть отклонён")
	}
	// rpm=60 означает один токен в секунду.
	now = now.Add(time.Second)
	if !l.Allow(ClassTimeline, "v1", 0) {
		t.Fatal("через секунду токен должен восстановиться")
	}
}

func TestAllowOverrideOnlyDownward(t *testing.T) {
	l := NewLimiter(map[string]Limit{ClassTimeline: {RPM: 600, Burst: 60}})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	// Понижение до одного запроса в минуту.
	if !l.Allow(ClassTimeline, "v1", 1) {
		t.Fatal("первый запрос с пониженным пределом должен пройти")
	}
	if l.Allow(ClassTimeline, "v1", 1) {
		t.Fatal("пониженный предел должен отклонить второй запрос")
	}

	// Попытка повысить предел игнорируется: у другого зрителя burst = 60.
	allowed := 0
	for i := 0; i < 100; i++ {
		if l.Allow(ClassTimeline, "v2", 100000) {
			allowed++
		}
	}
	if allowed != 60 {
		t.Fatalf("ожидали ровно настроенный burst 60, прошло %d", allowed)
	}
}

func TestAllowCallersIndependent(t *testing.T) {
	l := NewLimiter(map[string]Limit{ClassTimeline: {RPM: 1, Burst: 1}})

	if !l.Allow(ClassTimeline, "v1", 0) {
		t.Fatal("первый запрос v1 должен пройти")
	}
	if !l.Allow(ClassTimeline, "v2", 0) {
		t.Fatal("бакеты вызывающих независимы")
	}
}

func TestAllowUnknownClass(t *testing.T) {
	l := NewLimiter(map[string]Limit{ClassTimeline: {RPM: 1, Burst: 1}})

	for i := 0; i < 10; i++ {
		if !l.Allow("unknown", "v1", 0) {
			t.Fatal("класс без настроенного предела не ограничивается")
		}
	}
}

func TestPruneRemovesIdleBuckets(t *testing.T) {
	l := NewLimiter(map[string]Limit{ClassTimeline: {RPM: 10, Burst: 10}})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow(ClassTimeline, "v1", 0)
	l.Allow(ClassTimeline, "v2", 0)
	if got := l.bucketCount(); got != 2 {
		t.Fatalf("ожидали 2 бакета, получили %d", got)
	}

	now = now.Add(time.Hour)
	l.Allow(ClassTimeline, "v2", 0)
	l.Prune(10 * time.Minute)

	if got := l.bucketCount(); got != 1 {
		t.Fatalf("после чистки должен остаться один бакет, получили %d", got)
	}
}
