// Package merge turns raw joined query rows into content records and owns
// the baseline collection: deduplicated by story id, sorted by content date
// descending.
package merge

import (
	"fmt"
	"log"
	"sort"
	"time"

	"storyfeed/internal/models"
)

// DefaultMinCompleteSlides is the heuristic slide count below which an
// unfiltered story is treated as a likely page-split and scheduled for a
// slide backfill. Tunable, not a correctness guarantee.
const DefaultMinCompleteSlides = 3

// dateLayouts are tried in order when parsing content dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseContentDate parses a content date string. ok is false when no known
// layout matches; such items sort as oldest.
func ParseContentDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// GroupRows groups denormalized rows into feed items in a single
// left-to-right pass. Duplicate slide ids within a story are dropped, and
// the slide list is re-sorted by sequence index on every insertion rather
// than assumed pre-sorted. The first row of a story supplies its metadata
// and content date.
func GroupRows(rows []models.StoryRow) []models.FeedItem {
	byID := make(map[string]*models.FeedItem)
	slideSeen := make(map[string]map[string]bool)
	var order []string

	for _, row := range rows {
		item, ok := byID[row.StoryID]
		if !ok {
			item = &models.FeedItem{
				Story: models.Story{
					ID:              row.StoryID,
					Title:           row.Title,
					Author:          row.Author,
					SourceURL:       row.SourceURL,
					CreatedAt:       row.CreatedAt,
					IsParliamentary: row.IsParliamentary,
					Entities:        row.Entities,
				},
				ContentDate: row.ContentDate,
			}
			byID[row.StoryID] = item
			slideSeen[row.StoryID] = make(map[string]bool)
			order = append(order, row.StoryID)
		}

		if row.SlideID == "" {
			// Placeholder row for a slide-less story.
			continue
		}
		if slideSeen[row.StoryID][row.SlideID] {
			log.Printf("Warning: duplicate slide %s for story %s dropped", row.SlideID, row.StoryID)
			continue
		}
		slideSeen[row.StoryID][row.SlideID] = true

		item.Story.Slides = append(item.Story.Slides, models.Slide{
			ID:        row.SlideID,
			StoryID:   row.StoryID,
			Index:     row.SlideIndex,
			Content:   row.SlideContent,
			WordCount: row.WordCount,
		})
		sort.SliceStable(item.Story.Slides, func(i, j int) bool {
			return item.Story.Slides[i].Index < item.Story.Slides[j].Index
		})
	}

	items := make([]models.FeedItem, 0, len(order))
	for _, id := range order {
		item := byID[id]
		if defects := Validate(&item.Story); len(defects) > 0 {
			for _, d := range defects {
				log.Printf("Warning: story %s: %s", id, d)
			}
			item.Story.Defective = true
		}
		items = append(items, *item)
	}
	return items
}

// Validate checks the slide sequence invariant: indices unique, contiguous,
// starting at 1. Returned defect descriptions are logged by callers; a
// defective story is flagged, never dropped.
func Validate(story *models.Story) []string {
	if len(story.Slides) == 0 {
		return nil
	}
	var defects []string
	seen := make(map[int]bool, len(story.Slides))
	for _, sl := range story.Slides {
		if seen[sl.Index] {
			defects = append(defects, fmt.Sprintf("duplicate slide index %d", sl.Index))
		}
		seen[sl.Index] = true
	}
	if !seen[1] {
		defects = append(defects, "first slide index is not 1")
	}
	for i := 1; i <= len(story.Slides); i++ {
		if !seen[i] {
			defects = append(defects, fmt.Sprintf("gap in slide sequence at index %d", i))
			break
		}
	}
	return defects
}

// NeedsRepair reports whether a story's slide set looks truncated by a page
// split and should be backfilled before finalizing. The heuristic only
// applies while no filters are active, matching how truncation occurs.
func NeedsRepair(story *models.Story, filtersActive bool, minSlides int) bool {
	if filtersActive {
		return false
	}
	if minSlides <= 0 {
		minSlides = DefaultMinCompleteSlides
	}
	return len(story.Slides) < minSlides
}

// Baseline is the full unfiltered content collection: id-keyed for
// idempotent unions, kept sorted by content date descending.
type Baseline struct {
	byID  map[string]models.FeedItem
	items []models.FeedItem
	now   func() time.Time
}

// NewBaseline returns an empty baseline.
func NewBaseline() *Baseline {
	return &Baseline{byID: make(map[string]models.FeedItem), now: time.Now}
}

// Union merges items into the baseline by story id. The first occurrence of
// an id wins; later duplicates are dropped and logged. Items dated in the
// future are excluded. The whole collection is re-sorted after the union —
// deliberately O(n log n) per page instead of a sorted insert, which removes
// an entire class of ordering bugs.
func (b *Baseline) Union(items []models.FeedItem) int {
	added := 0
	now := b.now()
	for _, item := range items {
		if _, exists := b.byID[item.Story.ID]; exists {
			log.Printf("Warning: duplicate story %s dropped from merge", item.Story.ID)
			continue
		}
		if t, ok := ParseContentDate(item.ContentDate); ok && t.After(now) {
			log.Printf("Warning: story %s has future content date %s, excluded", item.Story.ID, item.ContentDate)
			continue
		}
		b.byID[item.Story.ID] = item
		b.items = append(b.items, item)
		added++
	}
	SortItems(b.items)
	return added
}

// Replace resets the baseline to exactly the given items (deduplicated,
// future-dated excluded, sorted).
func (b *Baseline) Replace(items []models.FeedItem) {
	b.byID = make(map[string]models.FeedItem, len(items))
	b.items = b.items[:0]
	b.Union(items)
}

// UpdateStory swaps the story payload of an existing item in place without
// touching its content date, so a repair never reorders the feed.
func (b *Baseline) UpdateStory(story models.Story) {
	item, ok := b.byID[story.ID]
	if !ok {
		return
	}
	item.Story = story
	b.byID[story.ID] = item
	for i := range b.items {
		if b.items[i].Story.ID == story.ID {
			b.items[i].Story = story
			return
		}
	}
}

// Items returns a copy of the sorted collection.
func (b *Baseline) Items() []models.FeedItem {
	out := make([]models.FeedItem, len(b.items))
	copy(out, b.items)
	return out
}

// Has reports whether a story id is present.
func (b *Baseline) Has(id string) bool {
	_, ok := b.byID[id]
	return ok
}

// IDs returns the set of story ids currently held.
func (b *Baseline) IDs() map[string]bool {
	ids := make(map[string]bool, len(b.byID))
	for id := range b.byID {
		ids[id] = true
	}
	return ids
}

// Len returns the number of items held.
func (b *Baseline) Len() int {
	return len(b.items)
}

// SortSlides sorts a slide list by sequence index.
func SortSlides(slides []models.Slide) {
	sort.SliceStable(slides, func(i, j int) bool {
		return slides[i].Index < slides[j].Index
	})
}

// SortItems sorts feed items by content date descending. Items with
// unparsable dates sort as oldest; ties break on story id for determinism.
func SortItems(items []models.FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, _ := ParseContentDate(items[i].ContentDate)
		tj, _ := ParseContentDate(items[j].ContentDate)
		if ti.Equal(tj) {
			return items[i].Story.ID < items[j].Story.ID
		}
		return ti.After(tj)
	})
}
