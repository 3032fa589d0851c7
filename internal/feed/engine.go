// Package feed implements the synchronization and hybrid filtering engine:
// it owns the baseline and filtered collections, performs immediate local
// filtering on every toggle, debounces remote filtered queries, discards
// stale responses via a monotonic version token, and degrades through the
// fallback chain when the remote source fails.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"storyfeed/internal/cache"
	"storyfeed/internal/filter"
	"storyfeed/internal/findex"
	"storyfeed/internal/merge"
	"storyfeed/internal/models"
	"storyfeed/internal/snapshot"
)

// Source is the remote content source contract the engine consumes.
type Source interface {
	FetchPage(ctx context.Context, topicKey string, keywords, sources []string, limit, offset int) ([]models.StoryRow, error)
	FetchPageWithRetry(ctx context.Context, topicKey string, limit, offset int) ([]models.StoryRow, error)
	FetchLegacyPage(ctx context.Context, topicSlug string, limit, offset int) ([]models.StoryRow, error)
	FetchFullSlides(ctx context.Context, storyIDs []string) ([]models.Slide, error)
}

// ErrPaginationDisabled is returned by LoadMore while the engine presents a
// locally filtered view of a partial collection: no further pages are
// knowable in that mode.
var ErrPaginationDisabled = errors.New("pagination disabled in degraded mode")

// Options tune the engine. Zero values pick the defaults.
type Options struct {
	PageSize        int           // rows per page, default 30
	DebounceDelay   time.Duration // remote filter dispatch debounce, default 400ms
	RepairMinSlides int           // completeness threshold, default merge.DefaultMinCompleteSlides
}

func (o *Options) defaults() {
	if o.PageSize <= 0 {
		o.PageSize = 30
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = 400 * time.Millisecond
	}
	if o.RepairMinSlides <= 0 {
		o.RepairMinSlides = merge.DefaultMinCompleteSlides
	}
}

// Engine drives one topic's feed. The baseline collection and the filtered
// collection are owned here exclusively; everything outside reads through
// accessors.
type Engine struct {
	source Source
	store  snapshot.Store
	cache  *cache.Manager
	index  *findex.Index
	opts   Options

	mu    sync.Mutex
	topic models.Topic

	baseline *merge.Baseline
	filtered []models.FeedItem
	sel      filter.Selection

	// token is the FilterVersionToken: bumped on every selection change,
	// captured when a remote filter request dispatches, compared when its
	// response lands. Stale responses never win.
	token int64

	serverConfirmed bool
	degraded        bool // local-filter fallback mode, pagination disabled
	legacyMode      bool // baseline adopted from the legacy feed

	offset          int
	hasMore         bool
	filteredOffset  int
	filteredHasMore bool

	syncing bool
	pending *time.Timer // single-slot debounce for the filter trigger class
	lastErr error
	updated time.Time
}

// New creates an engine for a topic. Call ColdStart before serving.
func New(topic models.Topic, source Source, store snapshot.Store, cacheMgr *cache.Manager, index *findex.Index, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		source:   source,
		store:    store,
		cache:    cacheMgr,
		index:    index,
		opts:     opts,
		topic:    topic,
		baseline: merge.NewBaseline(),
		sel:      filter.NewSelection(),
	}
}

// ColdStart renders the last-known-good snapshot immediately, then performs
// the session-initialization sync with bounded retry. A failed sync only
// degrades freshness: the snapshot view stays available.
func (e *Engine) ColdStart(ctx context.Context) {
	if snap, err := e.store.Load(e.topic.Slug); err == nil {
		e.mu.Lock()
		e.baseline.Replace(snap.Items)
		e.hasMore = true // unknown until the first real sync; allow paging
		e.updated = snap.SavedAt
		e.mu.Unlock()
		log.Printf("Loaded snapshot for topic '%s': %d items (saved %v)", e.topic.Slug, len(snap.Items), snap.SavedAt)
	}

	if err := e.sync(ctx, true); err != nil {
		log.Printf("Warning: initial sync for topic '%s' failed: %v", e.topic.Slug, err)
	}
}

// Resync performs a full unfiltered reload. Used by the realtime reconciler
// and the manual refresh affordance.
func (e *Engine) Resync(ctx context.Context) error {
	return e.sync(ctx, false)
}

// sync fetches the first unfiltered page, rebuilds the baseline from it and
// persists the snapshot. withRetry applies the bounded session-init backoff.
func (e *Engine) sync(ctx context.Context, withRetry bool) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	topic := e.topic
	pageSize := e.opts.PageSize
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	var rows []models.StoryRow
	var err error
	if withRetry {
		rows, err = e.source.FetchPageWithRetry(ctx, topic.Slug, pageSize, 0)
	} else {
		rows, err = e.source.FetchPage(ctx, topic.Slug, nil, nil, pageSize, 0)
	}
	if err != nil {
		return e.fallbackUnfiltered(ctx, err)
	}

	items := merge.GroupRows(rows)
	items = e.repair(ctx, items)

	e.mu.Lock()
	e.baseline.Replace(items)
	e.offset = len(rows)
	e.hasMore = len(rows) == pageSize
	e.degraded = false
	e.legacyMode = false
	e.serverConfirmed = false
	e.lastErr = nil
	e.updated = time.Now()
	if e.sel.Active() {
		e.refilterLocked()
	}
	snap := &models.Snapshot{Topic: e.topic, Items: e.baseline.Items(), SavedAt: e.updated}
	e.mu.Unlock()

	e.cache.InvalidateFeedView(topic.Slug)
	if err := e.store.Save(topic.Slug, snap); err != nil {
		log.Printf("Warning: failed to save snapshot for topic '%s': %v", topic.Slug, err)
	}
	return nil
}

// repair backfills slide sets for stories that failed validation or look
// truncated by a page split. Repairs are best-effort: a failed backfill
// leaves the story flagged but surfaced.
func (e *Engine) repair(ctx context.Context, items []models.FeedItem) []models.FeedItem {
	e.mu.Lock()
	filtersActive := e.sel.Active()
	minSlides := e.opts.RepairMinSlides
	e.mu.Unlock()

	var ids []string
	for i := range items {
		story := &items[i].Story
		if story.Defective || merge.NeedsRepair(story, filtersActive, minSlides) {
			ids = append(ids, story.ID)
		}
	}
	if len(ids) == 0 {
		return items
	}

	log.Printf("Repairing slide sets for %d stories in topic '%s'", len(ids), e.topic.Slug)
	slides, err := e.source.FetchFullSlides(ctx, ids)
	if err != nil {
		log.Printf("Warning: slide backfill failed: %v", err)
		return items
	}

	byStory := make(map[string][]models.Slide)
	for _, sl := range slides {
		byStory[sl.StoryID] = append(byStory[sl.StoryID], sl)
	}
	for i := range items {
		story := &items[i].Story
		full, ok := byStory[story.ID]
		if !ok {
			continue
		}
		replacement := models.Story{
			ID: story.ID, Title: story.Title, Author: story.Author,
			SourceURL: story.SourceURL, CreatedAt: story.CreatedAt,
			IsParliamentary: story.IsParliamentary, Entities: story.Entities,
			Slides: full,
		}
		merge.SortSlides(replacement.Slides)
		if defects := merge.Validate(&replacement); len(defects) > 0 {
			for _, d := range defects {
				log.Printf("Warning: story %s after repair: %s", story.ID, d)
			}
			replacement.Defective = true
		}
		*story = replacement
	}
	return items
}

// Toggle flips one filter term. The visible set is recomputed locally at
// once; the authoritative remote query is debounced behind a single slot.
func (e *Engine) Toggle(category filter.Category, term string) {
	e.mu.Lock()
	e.sel = e.sel.Toggle(category, term)
	e.token++

	topic := e.topic.Slug
	if !e.sel.Active() {
		// Toggling the last filter off is a clear. The confirmation flag is
		// read before anything resets it: a confirmed filtered state means
		// the baseline may be a stale partial window and must be re-fetched.
		wasConfirmed := e.clearStateLocked()
		e.mu.Unlock()
		e.cache.InvalidateFeedView(topic)
		if wasConfirmed {
			go func() {
				if err := e.sync(context.Background(), false); err != nil {
					log.Printf("Warning: baseline re-fetch after filter clear failed: %v", err)
				}
			}()
		}
		return
	}

	e.serverConfirmed = false
	e.refilterLocked()
	expected := e.token
	e.schedule(func() { e.dispatchFiltered(expected) })
	e.mu.Unlock()

	e.cache.InvalidateFeedView(topic)
}

// ClearFilters drops the whole selection. When the previous state was
// server-confirmed the baseline may be a stale partial window, so a full
// re-fetch replaces it; otherwise the baseline view is restored without a
// network round trip.
func (e *Engine) ClearFilters(ctx context.Context) error {
	e.mu.Lock()
	e.sel = filter.NewSelection()
	e.token++
	wasConfirmed := e.clearStateLocked()
	topic := e.topic.Slug
	e.mu.Unlock()

	e.cache.InvalidateFeedView(topic)
	if wasConfirmed {
		return e.sync(ctx, false)
	}
	return nil
}

// clearStateLocked resets the filtered view and reports whether the prior
// state was server-confirmed, in which case the baseline may be a partial
// pagination window and callers must re-fetch it. Caller holds e.mu.
func (e *Engine) clearStateLocked() bool {
	e.cancelPendingLocked()
	e.filtered = nil
	e.degraded = false
	wasConfirmed := e.serverConfirmed
	e.serverConfirmed = false
	return wasConfirmed
}

// refilterLocked recomputes the filtered collection by evaluating the local
// predicate over the full baseline. Caller holds e.mu.
func (e *Engine) refilterLocked() {
	items := e.baseline.Items()
	out := items[:0:0]
	for _, item := range items {
		entry, _ := e.index.Entry(item.Story.ID)
		if e.sel.Matches(&item.Story, entry) {
			out = append(out, item)
		}
	}
	e.filtered = out
}

// schedule arms the single debounce slot, replacing any pending dispatch.
// Caller holds e.mu.
func (e *Engine) schedule(fn func()) {
	e.cancelPendingLocked()
	e.pending = time.AfterFunc(e.opts.DebounceDelay, fn)
}

func (e *Engine) cancelPendingLocked() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

// dispatchFiltered issues the remote filtered query for the selection as it
// stands when the debounce fires. The expected token decides, on
// completion, whether the response may still be applied.
func (e *Engine) dispatchFiltered(expected int64) {
	e.mu.Lock()
	if e.token != expected {
		e.mu.Unlock()
		return
	}
	topic := e.topic.Slug
	terms := e.sel.TermList()
	sources := e.sel.SourceList()
	pageSize := e.opts.PageSize
	e.mu.Unlock()

	rows, err := e.source.FetchPage(context.Background(), topic, terms, sources, pageSize, 0)

	e.mu.Lock()
	if e.token != expected {
		e.mu.Unlock()
		log.Printf("Discarding stale filtered response for topic '%s' (token %d, current %d)", topic, expected, e.token)
		return
	}
	if err != nil {
		e.mu.Unlock()
		if ferr := e.fallbackFiltered(context.Background(), err, expected); ferr != nil {
			log.Printf("Warning: filtered fetch for topic '%s' failed beyond fallback: %v", topic, ferr)
		}
		return
	}

	items := merge.GroupRows(rows)
	merge.SortItems(items)
	e.filtered = dedupeItems(items)
	e.serverConfirmed = true
	e.degraded = false
	e.filteredOffset = len(rows)
	e.filteredHasMore = len(rows) == pageSize
	e.updated = time.Now()
	e.mu.Unlock()

	e.cache.InvalidateFeedView(topic)
}

// LoadMore appends the next page. Once a filtered state is
// server-confirmed, pagination carries the filters; otherwise it extends
// the unfiltered baseline and the local filter is re-applied.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.mu.Lock()
	if e.degraded {
		e.mu.Unlock()
		return ErrPaginationDisabled
	}
	topic := e.topic.Slug
	pageSize := e.opts.PageSize
	filteredPath := e.serverConfirmed && e.sel.Active()
	legacyPath := e.legacyMode
	terms := e.sel.TermList()
	sources := e.sel.SourceList()
	offset := e.offset
	if filteredPath {
		offset = e.filteredOffset
	}
	e.mu.Unlock()

	var rows []models.StoryRow
	var err error
	switch {
	case filteredPath:
		rows, err = e.source.FetchPage(ctx, topic, terms, sources, pageSize, offset)
	case legacyPath:
		rows, err = e.source.FetchLegacyPage(ctx, topic, pageSize, offset)
	default:
		rows, err = e.source.FetchPage(ctx, topic, nil, nil, pageSize, offset)
	}
	if err != nil {
		if filteredPath {
			return e.fallbackFiltered(ctx, err, e.Token())
		}
		return e.fallbackUnfiltered(ctx, err)
	}

	items := merge.GroupRows(rows)
	if !filteredPath {
		items = e.repair(ctx, items)
	}

	e.mu.Lock()
	if filteredPath {
		merged := append(e.filtered, items...)
		merge.SortItems(merged)
		e.filtered = dedupeItems(merged)
		e.filteredOffset += len(rows)
		e.filteredHasMore = len(rows) == pageSize
	} else {
		e.baseline.Union(items)
		e.offset += len(rows)
		e.hasMore = len(rows) == pageSize
		if e.sel.Active() {
			e.refilterLocked()
		}
	}
	e.updated = time.Now()
	e.mu.Unlock()

	e.cache.InvalidateFeedView(topic)
	return nil
}

// dedupeItems keeps the first occurrence per story id, preserving order.
func dedupeItems(items []models.FeedItem) []models.FeedItem {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, item := range items {
		if seen[item.Story.ID] {
			log.Printf("Warning: duplicate story %s dropped from merge", item.Story.ID)
			continue
		}
		seen[item.Story.ID] = true
		out = append(out, item)
	}
	return out
}

// View assembles the visible feed with pagination bounds applied.
func (e *Engine) View(limit, offset int) *models.FeedView {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.visibleLocked()
	total := len(items)
	if offset > 0 {
		if offset >= total {
			items = nil
		} else {
			items = items[offset:]
		}
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	hasMore := e.hasMore
	if e.sel.Active() && e.serverConfirmed {
		hasMore = e.filteredHasMore
	}
	if e.degraded {
		hasMore = false
	}

	return &models.FeedView{
		Topic:           e.topic.Slug,
		Items:           items,
		Count:           len(items),
		HasMore:         hasMore,
		ServerConfirmed: e.serverConfirmed,
		Degraded:        e.degraded,
		Updated:         e.updated,
	}
}

func (e *Engine) visibleLocked() []models.FeedItem {
	if e.sel.Active() {
		out := make([]models.FeedItem, len(e.filtered))
		copy(out, e.filtered)
		return out
	}
	return e.baseline.Items()
}

// Visible returns the currently visible items: the filtered collection when
// any filter is active, the baseline otherwise.
func (e *Engine) Visible() []models.FeedItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visibleLocked()
}

// Selection returns a copy of the active filter selection.
func (e *Engine) Selection() filter.Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.Clone()
}

// ServerConfirmed reports whether the visible filtered set has been
// validated by a successful remote filtered query.
func (e *Engine) ServerConfirmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.serverConfirmed
}

// Degraded reports whether the engine is presenting a locally filtered view
// of a partial collection.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// LastError returns the surfaced error after an exhausted fallback chain,
// nil otherwise. The state is retryable via Refresh.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Refresh is the manual retry affordance: it clears the surfaced error and
// runs a full unfiltered sync.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()
	return e.sync(ctx, false)
}

// HasStory reports whether the baseline currently holds a story id. Used by
// the realtime reconciler's ownership check.
func (e *Engine) HasStory(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline.Has(id)
}

// Topic returns the current topic record.
func (e *Engine) Topic() models.Topic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topic
}

// TopicID returns the topic slug the engine serves.
func (e *Engine) TopicID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topic.Slug
}

// ApplyTopic swaps in a reloaded topic record without touching content.
// It reports whether the filter vocabulary changed materially, in which
// case the caller rebuilds the filter index.
func (e *Engine) ApplyTopic(topic models.Topic) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := !e.topic.VocabularyEqual(&topic)
	e.topic = topic
	return changed
}

// Token returns the current filter version token. Exposed for tests and
// status reporting.
func (e *Engine) Token() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

// SnapshotInfo surfaces freshness metadata for the stored snapshot.
func (e *Engine) SnapshotInfo() (*models.SnapshotInfo, error) {
	return e.store.Info(e.TopicID())
}

// Close releases the debounce slot.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelPendingLocked()
}

// errExhausted wraps the original failure once every fallback strategy has
// been tried.
func errExhausted(cause error) error {
	return fmt.Errorf("feed unavailable, retry manually: %w", cause)
}
