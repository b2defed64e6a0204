package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"timeline-service/internal/domain"
)

const (
	defaultTimelineTTL = time.Hour
	defaultProfileTTL  = 30 * time.Minute
	defaultMaxEntries  = 10000
)

// Memory — обязательный внутрипроцессный уровень кэша: ограниченное число
// записей с LRU-вытеснением, ленивый TTL на чтении и обратный индекс
// автор -> зрители для инвалидации по автору.
type Memory struct {
	maxEntries int

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	authors map[string]map[string]struct{}

	profileMu sync.Mutex
	profiles  map[string]profileEntry

	readMu    sync.Mutex
	lastReads map[string]time.Time
}

type timelineEntry struct {
	viewerID  string
	items     []domain.RankedItem
	expiresAt time.Time
	authors   []string
}

type profileEntry struct {
	profile   domain.ViewerProfile
	expiresAt time.Time
}

// NewMemory создаёт внутрипроцессный кэш на maxEntries лент.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		authors:    make(map[string]map[string]struct{}),
		profiles:   make(map[string]profileEntry),
		lastReads:  make(map[string]time.Time),
	}
}

// Get возвращает кэшированную ленту зрителя. Просроченная запись
// выбрасывается и считается промахом.
func (m *Memory) Get(ctx context.Context, viewerID string) ([]domain.RankedItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[viewerID]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*timelineEntry)
	if time.Now().After(ent.expiresAt) {
		m.removeLocked(el)
		return nil, false
	}
	m.lru.MoveToFront(el)
	items := make([]domain.RankedItem, len(ent.items))
	copy(items, ent.items)
	return items, true
}

// Put сохраняет ленту зрителя и обновляет обратный индекс авторов.
func (m *Memory) Put(ctx context.Context, viewerID string, items []domain.RankedItem, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTimelineTTL
	}
	stored := make([]domain.RankedItem, len(items))
	copy(stored, items)
	authors := distinctAuthors(stored)

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[viewerID]; ok {
		m.removeLocked(el)
	}
	ent := &timelineEntry{
		viewerID:  viewerID,
		items:     stored,
		expiresAt: time.Now().Add(ttl),
		authors:   authors,
	}
	m.entries[viewerID] = m.lru.PushFront(ent)
	for _, author := range authors {
		viewers, ok := m.authors[author]
		if !ok {
			viewers = make(map[string]struct{})
			m.authors[author] = viewers
		}
		viewers[viewerID] = struct{}{}
	}
	for m.lru.Len() > m.maxEntries {
		m.removeLocked(m.lru.Back())
	}
}

// Invalidate удаляет ленту зрителя.
func (m *Memory) Invalidate(ctx context.Context, viewerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[viewerID]; ok {
		m.removeLocked(el)
	}
}

// InvalidateAuthor удаляет все ленты, содержащие заметки автора.
func (m *Memory) InvalidateAuthor(ctx context.Context, authorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	viewers := m.authors[authorID]
	if len(viewers) == 0 {
		return
	}
	ids := make([]string, 0, len(viewers))
	for viewerID := range viewers {
		ids = append(ids, viewerID)
	}
	for _, viewerID := range ids {
		if el, ok := m.entries[viewerID]; ok {
			m.removeLocked(el)
		}
	}
	delete(m.authors, authorID)
}

func (m *Memory) removeLocked(el *list.Element) {
	ent := el.Value.(*timelineEntry)
	m.lru.Remove(el)
	delete(m.entries, ent.viewerID)
	for _, author := range ent.authors {
		viewers, ok := m.authors[author]
		if !ok {
			continue
		}
		delete(viewers, ent.viewerID)
		if len(viewers) == 0 {
			delete(m.authors, author)
		}
	}
}

// GetProfile возвращает кэшированный профиль зрителя.
func (m *Memory) GetProfile(ctx context.Context, viewerID string) (domain.ViewerProfile, bool) {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	ent, ok := m.profiles[viewerID]
	if !ok {
		return domain.ViewerProfile{}, false
	}
	if time.Now().After(ent.expiresAt) {
		delete(m.profiles, viewerID)
		return domain.ViewerProfile{}, false
	}
	return ent.profile, true
}

// PutProfile сохраняет профиль зрителя.
func (m *Memory) PutProfile(ctx context.Context, viewerID string, profile domain.ViewerProfile, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	if len(m.profiles) >= m.maxEntries {
		now := time.Now()
		for id, ent := range m.profiles {
			if now.After(ent.expiresAt) {
				delete(m.profiles, id)
			}
		}
	}
	m.profiles[viewerID] = profileEntry{profile: profile, expiresAt: time.Now().Add(ttl)}
}

// LastRead возвращает отметку прочтения зрителя.
func (m *Memory) LastRead(ctx context.Context, viewerID string) (time.Time, bool) {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	at, ok := m.lastReads[viewerID]
	return at, ok
}

// SetLastRead сохраняет отметку прочтения зрителя.
func (m *Memory) SetLastRead(ctx context.Context, viewerID string, at time.Time) {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	m.lastReads[viewerID] = at
}

func distinctAuthors(items []domain.RankedItem) []string {
	seen := make(map[string]struct{}, len(items))
	authors := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.Note.AuthorID]; ok {
			continue
		}
		seen[it.Note.AuthorID] = struct{}{}
		authors = append(authors, it.Note.AuthorID)
	}
	return authors
}
