// Package findex builds the in-memory inverted filter index: for every
// story in a topic, the vocabulary terms matched in its text and its source
// domain. The index is rebuilt wholesale when the topic vocabulary changes
// and is queried, never mutated in place.
package findex

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"storyfeed/internal/filter"
	"storyfeed/internal/merge"
	"storyfeed/internal/models"
)

// Source is the slice of the remote client the builder needs.
type Source interface {
	FetchPage(ctx context.Context, topicKey string, keywords, sources []string, limit, offset int) ([]models.StoryRow, error)
	FetchLegacyPage(ctx context.Context, topicSlug string, limit, offset int) ([]models.StoryRow, error)
}

const (
	// indexPageSize is deliberately large: indexing pages through the whole
	// topic once, so fewer round trips beat smaller responses.
	indexPageSize = 500

	// DefaultCeiling bounds how long a build may run before the partial
	// index is published and filtering proceeds best-effort.
	DefaultCeiling = 20 * time.Second
)

// Index is the read side: per-story entries, safe for concurrent reads
// while a rebuild swaps the entry set underneath.
type Index struct {
	mu      sync.RWMutex
	entries map[string]models.FilterIndexEntry
	ready   bool
}

// NewIndex returns an empty, not-ready index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]models.FilterIndexEntry)}
}

// Entry returns the index entry for a story, if present.
func (ix *Index) Entry(storyID string) (*models.FilterIndexEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[storyID]
	if !ok {
		return nil, false
	}
	return &e, true
}

// Ready reports whether filtering controls may rely on the index. True once
// a build finishes or its ceiling expires with a partial result.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ready
}

// Len returns the number of indexed stories.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) publish(entries map[string]models.FilterIndexEntry, ready bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = entries
	ix.ready = ready
}

// Builder pages through the remote source once per topic-vocabulary change
// and produces the full entry set. Concurrent Build calls are rejected by a
// build-in-progress flag; the caller just keeps the existing index.
type Builder struct {
	source  Source
	index   *Index
	ceiling time.Duration

	mu       sync.Mutex
	building bool
}

// NewBuilder creates a Builder publishing into the given index.
func NewBuilder(source Source, index *Index) *Builder {
	return &Builder{source: source, index: index, ceiling: DefaultCeiling}
}

// SetCeiling overrides the build deadline, mainly for tests.
func (b *Builder) SetCeiling(d time.Duration) { b.ceiling = d }

// Building reports whether a build is currently running.
func (b *Builder) Building() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.building
}

// Build constructs the index for the topic. Re-entrant calls while a build
// is running return immediately. The index is published even when the
// ceiling expires mid-build, so filtering degrades instead of blocking.
func (b *Builder) Build(ctx context.Context, topic models.Topic) error {
	b.mu.Lock()
	if b.building {
		b.mu.Unlock()
		log.Printf("Filter index build already in progress for topic '%s'", topic.Slug)
		return nil
	}
	b.building = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.building = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.ceiling)
	defer cancel()

	vocab := topic.Vocabulary()
	entries := make(map[string]models.FilterIndexEntry)

	offset := 0
	firstPage := true
	for {
		rows, err := b.source.FetchPage(ctx, topic.Slug, nil, nil, indexPageSize, offset)
		if err != nil || (firstPage && len(rows) == 0) {
			if err != nil {
				log.Printf("Warning: index paging failed for topic '%s': %v, falling back to direct query", topic.Slug, err)
			}
			if ctx.Err() != nil {
				// Ceiling hit: publish whatever was gathered.
				b.index.publish(entries, true)
				return ctx.Err()
			}
			return b.buildFromFallback(ctx, topic, vocab, entries)
		}
		firstPage = false

		indexRows(entries, rows, vocab)

		if len(rows) < indexPageSize {
			break
		}
		offset += len(rows)

		if ctx.Err() != nil {
			log.Printf("Warning: filter index build for topic '%s' hit ceiling with %d stories indexed", topic.Slug, len(entries))
			b.index.publish(entries, true)
			return ctx.Err()
		}
	}

	b.index.publish(entries, true)
	log.Printf("Filter index built for topic '%s': %d stories", topic.Slug, len(entries))
	return nil
}

// buildFromFallback indexes from the legacy structured query. Stories with
// zero slides arrive pre-flattened as single placeholder rows.
func (b *Builder) buildFromFallback(ctx context.Context, topic models.Topic, vocab []string, entries map[string]models.FilterIndexEntry) error {
	rows, err := b.source.FetchLegacyPage(ctx, topic.Slug, indexPageSize, 0)
	if err != nil {
		// Publish the partial result so filter controls unblock anyway.
		b.index.publish(entries, true)
		return err
	}
	indexRows(entries, rows, vocab)
	b.index.publish(entries, true)
	log.Printf("Filter index built from fallback for topic '%s': %d stories", topic.Slug, len(entries))
	return nil
}

// indexRows groups a page of rows by story and records matched terms and
// source domain per story. Stories never get mutated here; only index
// entries are produced.
func indexRows(entries map[string]models.FilterIndexEntry, rows []models.StoryRow, vocab []string) {
	for _, item := range merge.GroupRows(rows) {
		story := item.Story
		text := story.Text()

		var matched []string
		for _, term := range vocab {
			if filter.MatchTerm(text, term) {
				matched = append(matched, strings.ToLower(term))
			}
		}
		sort.Strings(matched)

		entries[story.ID] = models.FilterIndexEntry{
			StoryID:      story.ID,
			SourceDomain: filter.SourceDomain(story.SourceURL),
			Terms:        matched,
		}
	}
}
