package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/phrases"
)

var errInjected = errors.New("injected failure")

type fixedPhrases struct {
	texts []string
	next  int
}

func (f *fixedPhrases) Generate(used *phrases.UsedSet) (string, error) {
	for attempt := 0; attempt < len(f.texts); attempt++ {
		text := f.texts[f.next%len(f.texts)]
		f.next++
		if !used.Has(text) {
			return text, nil
		}
	}
	return "", phrases.ErrExhausted
}

type memoryCache struct {
	mu          sync.Mutex
	list        []string
	counters    map[string]int64
	appendErr   error
	getAllErr   error
	appendStart chan struct{}
	appendGate  chan struct{}
}

func newMemoryCache() *memoryCache {
	return &memoryCache{counters: make(map[string]int64)}
}

func (c *memoryCache) GetAll(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getAllErr != nil {
		return nil, c.getAllErr
	}
	return append([]string(nil), c.list...), nil
}

func (c *memoryCache) Append(ctx context.Context, text string) error {
	if c.appendStart != nil {
		c.appendStart <- struct{}{}
	}
	if c.appendGate != nil {
		<-c.appendGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appendErr != nil {
		return c.appendErr
	}
	c.list = append(c.list, text)
	return nil
}

func (c *memoryCache) Remove(ctx context.Context, text string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for index, stored := range c.list {
		if stored == text {
			c.list = append(c.list[:index], c.list[index+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (c *memoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = nil
	return nil
}

func (c *memoryCache) GetCounter(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key], nil
}

func (c *memoryCache) SetCounter(ctx context.Context, key string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key] = value
	return nil
}

func (c *memoryCache) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.list...)
}

type memoryStore struct {
	mu        sync.Mutex
	records   map[string]ideas.Idea
	next      int
	clock     func() time.Time
	insertErr error
	queryErr  error
	recentErr error
	deleteErr error
	updateErr error
	deleted   []string
}

func newMemoryStore(clock func() time.Time) *memoryStore {
	return &memoryStore{records: make(map[string]ideas.Idea), clock: clock}
}

func (s *memoryStore) seed(ownerID, text string, createdAt time.Time) ideas.Idea {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	idea := ideas.Idea{
		ID:        fmt.Sprintf("remote-%03d", s.next),
		Text:      text,
		OwnerID:   ownerID,
		CreatedAt: createdAt,
	}
	s.records[idea.ID] = idea
	return idea
}

func (s *memoryStore) Insert(ctx context.Context, idea ideas.Idea) (ideas.Idea, error) {
	if s.insertErr != nil {
		return ideas.Idea{}, s.insertErr
	}
	stored := s.seed(idea.OwnerID, idea.Text, s.clock())
	s.mu.Lock()
	defer s.mu.Unlock()
	stored.OwnerDisplayName = idea.OwnerDisplayName
	s.records[stored.ID] = stored
	return stored, nil
}

func (s *memoryStore) QueryByOwner(ctx context.Context, ownerID string) ([]ideas.Idea, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]ideas.Idea, 0)
	for _, idea := range s.records {
		if idea.OwnerID == ownerID {
			result = append(result, idea)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *memoryStore) QueryRecent(ctx context.Context, limit int) ([]ideas.Idea, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]ideas.Idea, 0, len(s.records))
	for _, idea := range s.records {
		result = append(result, idea)
	}
	sortNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *memoryStore) Get(ctx context.Context, ideaID string) (ideas.Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.records[ideaID]
	if !ok {
		return ideas.Idea{}, ideas.ErrIdeaNotFound
	}
	return idea, nil
}

func (s *memoryStore) DeleteByID(ctx context.Context, ownerID, ideaID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.records[ideaID]
	if !ok || idea.OwnerID != ownerID {
		return ideas.ErrIdeaNotFound
	}
	delete(s.records, ideaID)
	s.deleted = append(s.deleted, ideaID)
	return nil
}

func (s *memoryStore) UpdateImageURL(ctx context.Context, ownerID, ideaID, imageURL string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.records[ideaID]
	if !ok || idea.OwnerID != ownerID {
		return ideas.ErrIdeaNotFound
	}
	if idea.ImageURL != "" {
		return ideas.ErrImageAlreadySet
	}
	idea.ImageURL = imageURL
	s.records[ideaID] = idea
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sortNewestFirst(list []ideas.Idea) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(step)
}
