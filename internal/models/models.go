package models

import (
	"strings"
	"time"
)

// Topic represents a configured content topic. It is loaded once per session
// and only replaced wholesale when a topic-configuration change notification
// arrives for its own record.
type Topic struct {
	ID             string          `json:"id"`
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	Classification string          `json:"classification"` // "regional" or "keyword"
	Keywords       []string        `json:"keywords"`
	Landmarks      []string        `json:"landmarks"`
	Organizations  []string        `json:"organizations"`
	Region         string          `json:"region"`
	Flags          map[string]bool `json:"flags,omitempty"`
}

// Vocabulary returns the full filter vocabulary of the topic: keywords,
// landmarks and organizations combined.
func (t *Topic) Vocabulary() []string {
	vocab := make([]string, 0, len(t.Keywords)+len(t.Landmarks)+len(t.Organizations))
	vocab = append(vocab, t.Keywords...)
	vocab = append(vocab, t.Landmarks...)
	vocab = append(vocab, t.Organizations...)
	return vocab
}

// VocabularyEqual reports whether another topic carries the same filter
// vocabulary, ignoring order and case. Used to decide whether a topic
// reload requires a filter index rebuild.
func (t *Topic) VocabularyEqual(other *Topic) bool {
	a := t.Vocabulary()
	b := other.Vocabulary()
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, term := range a {
		seen[strings.ToLower(term)]++
	}
	for _, term := range b {
		seen[strings.ToLower(term)]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// Slide is one unit of story content. Within a story, slide indices are
// unique and form a contiguous run starting at 1.
type Slide struct {
	ID        string `json:"id"`
	StoryID   string `json:"story_id"`
	Index     int    `json:"slide_index"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// Story is a content record with its ordered slide sequence.
type Story struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	SourceURL       string   `json:"source_url"`
	CreatedAt       string   `json:"created_at"`
	IsParliamentary bool     `json:"is_parliamentary,omitempty"`
	Entities        []string `json:"entities,omitempty"`
	Slides          []Slide  `json:"slides"`

	// Defective marks a story whose slide sequence failed validation.
	// Defective stories are still surfaced, just flagged.
	Defective bool `json:"defective,omitempty"`
}

// Text returns the lowercased title plus slide contents, the blob that
// filter terms are matched against.
func (s *Story) Text() string {
	parts := make([]string, 0, len(s.Slides)+1)
	parts = append(parts, s.Title)
	for _, sl := range s.Slides {
		parts = append(parts, sl.Content)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// FeedItem is the envelope a story travels in through the feed. ContentDate
// is used strictly for ordering and never changes on unrelated edits.
type FeedItem struct {
	Story       Story  `json:"story"`
	ContentDate string `json:"content_date"`
}

// StoryRow is one denormalized row from the paginated query: one story ×
// slide pair, or a placeholder row (empty SlideID) for a slide-less story.
type StoryRow struct {
	StoryID         string   `json:"story_id"`
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	SourceURL       string   `json:"source_url"`
	CreatedAt       string   `json:"created_at"`
	ContentDate     string   `json:"content_date"`
	IsParliamentary bool     `json:"is_parliamentary,omitempty"`
	Entities        []string `json:"entities,omitempty"`

	SlideID      string `json:"slide_id,omitempty"`
	SlideIndex   int    `json:"slide_index,omitempty"`
	SlideContent string `json:"slide_content,omitempty"`
	WordCount    int    `json:"word_count,omitempty"`
}

// FilterIndexEntry is the per-story derived record the filter index holds:
// the story's source domain (empty when unknown) and the vocabulary terms
// matched in its title and slide text.
type FilterIndexEntry struct {
	StoryID      string   `json:"story_id"`
	SourceDomain string   `json:"source_domain,omitempty"`
	Terms        []string `json:"terms"`
}

// Snapshot is the cold-start view persisted per topic: the topic itself plus
// the last-known-good baseline with full slides. It is always written whole,
// never patched.
type Snapshot struct {
	Topic   Topic      `json:"topic"`
	Items   []FeedItem `json:"items"`
	SavedAt time.Time  `json:"saved_at"`
}

// SnapshotInfo is metadata about a stored snapshot.
type SnapshotInfo struct {
	TopicKey  string    `json:"topic_key"`
	SavedAt   time.Time `json:"saved_at"`
	ItemCount int       `json:"item_count"`
	Size      int64     `json:"size"`
}

// FeedView is the assembled response shape for a topic feed.
type FeedView struct {
	Topic           string     `json:"topic"`
	Items           []FeedItem `json:"items"`
	Count           int        `json:"count"`
	HasMore         bool       `json:"has_more"`
	ServerConfirmed bool       `json:"server_confirmed"`
	Degraded        bool       `json:"degraded"`
	Updated         time.Time  `json:"updated"`
}
