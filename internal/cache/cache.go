// Package cache wraps an in-memory TTL cache for hot data: assembled feed
// views and story-ownership lookups.
package cache

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"storyfeed/internal/models"
)

type Manager struct {
	cache *cache.Cache
	mu    sync.RWMutex
}

func NewManager(defaultTTL time.Duration) *Manager {
	return &Manager{
		cache: cache.New(defaultTTL, 10*time.Minute),
	}
}

func (m *Manager) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Get(key)
}

func (m *Manager) Set(key string, value interface{}, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(key, value, ttl)
}

func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(key)
}

func (m *Manager) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Flush()
}

// GetFeedView returns a cached assembled feed view for a topic.
func (m *Manager) GetFeedView(topic string) (*models.FeedView, bool) {
	if v, ok := m.Get("feed:" + topic); ok {
		if view, ok := v.(*models.FeedView); ok {
			return view, true
		}
	}
	return nil, false
}

// SetFeedView caches an assembled feed view under the topic key.
func (m *Manager) SetFeedView(topic string, view *models.FeedView, ttl time.Duration) {
	m.Set("feed:"+topic, view, ttl)
}

// InvalidateFeedView drops the cached view for a topic.
func (m *Manager) InvalidateFeedView(topic string) {
	m.Delete("feed:" + topic)
}

// GetOwner returns a cached story→topic ownership result.
func (m *Manager) GetOwner(storyID string) (string, bool) {
	if v, ok := m.Get("owner:" + storyID); ok {
		if topicID, ok := v.(string); ok {
			return topicID, true
		}
	}
	return "", false
}

// SetOwner caches a story→topic ownership result. Ownership rarely changes,
// so a long TTL keeps duplicate realtime events from re-querying.
func (m *Manager) SetOwner(storyID, topicID string) {
	m.Set("owner:"+storyID, topicID, time.Hour)
}
