// Package realtime consumes push change notifications over a websocket
// channel and triggers scoped or full re-synchronization of a topic feed.
// Delivery is at-least-once, so everything here is idempotent: duplicate
// events collapse into the single-slot resync debounce and id-keyed merges.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"storyfeed/internal/cache"
	"storyfeed/internal/models"
)

// Event is a typed change notification from the push channel.
type Event struct {
	Type    string `json:"type"` // "story_changed", "slide_changed", "topic_changed"
	StoryID string `json:"story_id,omitempty"`
	SlideID string `json:"slide_id,omitempty"`
	TopicID string `json:"topic_id,omitempty"`
}

const (
	EventStoryChanged = "story_changed"
	EventSlideChanged = "slide_changed"
	EventTopicChanged = "topic_changed"
)

// Feed is the slice of the engine the reconciler drives.
type Feed interface {
	HasStory(id string) bool
	Topic() models.Topic
	Resync(ctx context.Context) error
	ApplyTopic(topic models.Topic) bool
}

// Lookup resolves ownership and topic records remotely.
type Lookup interface {
	CheckOwnership(ctx context.Context, storyID string) (string, error)
	FetchTopic(ctx context.Context, topicID string) (*models.Topic, error)
}

// IndexRebuilder rebuilds the filter index after a material vocabulary
// change.
type IndexRebuilder interface {
	Build(ctx context.Context, topic models.Topic) error
}

// Reconciler owns one topic's push subscription.
type Reconciler struct {
	url     string
	feed    Feed
	lookup  Lookup
	builder IndexRebuilder
	cache   *cache.Manager

	debounceDelay time.Duration
	redialDelay   time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	subID   string
	pending *time.Timer // single-slot debounce for the realtime trigger class
	closed  bool
	done    chan struct{}
}

// New creates a Reconciler for the given realtime endpoint.
func New(url string, feed Feed, lookup Lookup, builder IndexRebuilder, cacheMgr *cache.Manager) *Reconciler {
	return &Reconciler{
		url:           url,
		feed:          feed,
		lookup:        lookup,
		builder:       builder,
		cache:         cacheMgr,
		debounceDelay: 2 * time.Second,
		redialDelay:   5 * time.Second,
	}
}

// SetDebounce overrides the resync debounce, mainly for tests.
func (r *Reconciler) SetDebounce(d time.Duration) { r.debounceDelay = d }

// Subscribe establishes the push subscription. Any existing subscription is
// torn down first, so re-subscribing on topic change is idempotent.
func (r *Reconciler) Subscribe(ctx context.Context) error {
	r.teardown()

	r.mu.Lock()
	r.closed = false
	r.subID = uuid.NewString()
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}

	go r.readLoop(conn, done)
	return nil
}

func (r *Reconciler) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, err
	}

	topic := r.feed.Topic()
	sub := map[string]any{
		"action":          "subscribe",
		"subscription_id": r.subscriptionID(),
		"topic_id":        topic.ID,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		// Close landed while the dial was in flight; adopting the fresh
		// socket would leak it and the read loop past shutdown.
		r.mu.Unlock()
		conn.Close()
		return nil, errors.New("subscription closed")
	}
	r.conn = conn
	r.mu.Unlock()
	log.Printf("Subscribed to realtime changes for topic '%s'", topic.Slug)
	return conn, nil
}

func (r *Reconciler) subscriptionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subID
}

// readLoop consumes events until the socket fails or Close is called,
// redialing with a fixed delay in between.
func (r *Reconciler) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			log.Printf("Warning: realtime connection lost: %v, redialing in %v", err, r.redialDelay)
			select {
			case <-done:
				return
			case <-time.After(r.redialDelay):
			}
			next, derr := r.dial(context.Background())
			if derr != nil {
				log.Printf("Warning: realtime redial failed: %v", derr)
				continue
			}
			conn = next
			continue
		}

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("Warning: malformed realtime event dropped: %v", err)
			continue
		}
		r.Handle(context.Background(), ev)
	}
}

// Handle processes one change notification. Exported so transports other
// than the websocket (and tests) can inject events.
func (r *Reconciler) Handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventStoryChanged, EventSlideChanged:
		if !r.owns(ctx, ev.StoryID) {
			return
		}
		r.scheduleResync()
	case EventTopicChanged:
		if ev.TopicID != r.feed.Topic().ID {
			return
		}
		r.reloadTopic(ctx, ev.TopicID)
	default:
		log.Printf("Warning: unknown realtime event type '%s' ignored", ev.Type)
	}
}

// owns verifies the affected story belongs to the current topic: first the
// cached id set, then a targeted ownership query. Records owned by other
// topics never trigger reloads.
func (r *Reconciler) owns(ctx context.Context, storyID string) bool {
	if storyID == "" {
		return false
	}
	if r.feed.HasStory(storyID) {
		return true
	}
	topicID := r.feed.Topic().ID
	if owner, ok := r.cache.GetOwner(storyID); ok {
		return owner == topicID
	}

	owner, err := r.lookup.CheckOwnership(ctx, storyID)
	if err != nil {
		// Unknown ownership: resync rather than miss a new story for this
		// topic. The id-keyed merge keeps a spurious reload harmless.
		log.Printf("Warning: ownership check for story %s failed: %v", storyID, err)
		return true
	}
	r.cache.SetOwner(storyID, owner)
	return owner == topicID
}

// scheduleResync arms the single-slot debounce; a new trigger replaces any
// pending one rather than queueing behind it.
func (r *Reconciler) scheduleResync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(r.debounceDelay, func() {
		if err := r.feed.Resync(context.Background()); err != nil {
			log.Printf("Warning: realtime-triggered resync failed: %v", err)
		}
	})
}

// reloadTopic reloads only the topic entity, never content. A material
// vocabulary change additionally rebuilds the filter index.
func (r *Reconciler) reloadTopic(ctx context.Context, topicID string) {
	topic, err := r.lookup.FetchTopic(ctx, topicID)
	if err != nil {
		log.Printf("Warning: topic reload for '%s' failed: %v", topicID, err)
		return
	}
	vocabChanged := r.feed.ApplyTopic(*topic)
	log.Printf("Reloaded topic '%s' (vocabulary changed: %v)", topic.Slug, vocabChanged)
	if vocabChanged && r.builder != nil {
		go func() {
			if err := r.builder.Build(context.Background(), *topic); err != nil {
				log.Printf("Warning: filter index rebuild for topic '%s' failed: %v", topic.Slug, err)
			}
		}()
	}
}

// Close tears down the subscription. Safe to call repeatedly.
func (r *Reconciler) Close() {
	r.teardown()
}

func (r *Reconciler) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
