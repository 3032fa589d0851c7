// Package filter holds the active filter selection and the local matching
// predicate used for instant, client-side filtering of the baseline.
package filter

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"storyfeed/internal/models"
)

// Category identifies one of the independently toggled filter groups.
type Category string

const (
	CategoryKeyword      Category = "keyword"
	CategoryLandmark     Category = "landmark"
	CategoryOrganization Category = "organization"
	CategorySource       Category = "source"
)

// ValidCategory reports whether s names a known filter category.
func ValidCategory(s string) bool {
	switch Category(s) {
	case CategoryKeyword, CategoryLandmark, CategoryOrganization, CategorySource:
		return true
	}
	return false
}

// Selection is the active filter state: disjoint sets of selected keywords,
// landmarks, organizations and source domains.
//
// Composition semantics: OR within a category, AND across active categories.
// A story is visible when, for every category with at least one selection,
// it matches at least one selected entry of that category. Inactive
// categories do not constrain. This is enforced only in Matches.
type Selection struct {
	Keywords      map[string]bool
	Landmarks     map[string]bool
	Organizations map[string]bool
	Sources       map[string]bool
}

// NewSelection returns an empty selection.
func NewSelection() Selection {
	return Selection{
		Keywords:      make(map[string]bool),
		Landmarks:     make(map[string]bool),
		Organizations: make(map[string]bool),
		Sources:       make(map[string]bool),
	}
}

func (s Selection) set(c Category) map[string]bool {
	switch c {
	case CategoryKeyword:
		return s.Keywords
	case CategoryLandmark:
		return s.Landmarks
	case CategoryOrganization:
		return s.Organizations
	case CategorySource:
		return s.Sources
	}
	return nil
}

// Toggle returns a copy of the selection with the given term added to or
// removed from the category. The receiver is not modified.
func (s Selection) Toggle(c Category, term string) Selection {
	next := s.Clone()
	set := next.set(c)
	if set == nil {
		return next
	}
	key := strings.ToLower(strings.TrimSpace(term))
	if key == "" {
		return next
	}
	if set[key] {
		delete(set, key)
	} else {
		set[key] = true
	}
	return next
}

// Clone returns a deep copy of the selection.
func (s Selection) Clone() Selection {
	next := NewSelection()
	for _, c := range []Category{CategoryKeyword, CategoryLandmark, CategoryOrganization, CategorySource} {
		dst, src := next.set(c), s.set(c)
		for k := range src {
			dst[k] = true
		}
	}
	return next
}

// Active reports whether any category has at least one selection.
func (s Selection) Active() bool {
	return len(s.Keywords) > 0 || len(s.Landmarks) > 0 || len(s.Organizations) > 0 || len(s.Sources) > 0
}

// TermList returns all selected text terms (keywords, landmarks and
// organizations) sorted, the shape the remote filtered query expects.
func (s Selection) TermList() []string {
	terms := make([]string, 0, len(s.Keywords)+len(s.Landmarks)+len(s.Organizations))
	for k := range s.Keywords {
		terms = append(terms, k)
	}
	for k := range s.Landmarks {
		terms = append(terms, k)
	}
	for k := range s.Organizations {
		terms = append(terms, k)
	}
	sort.Strings(terms)
	return terms
}

// SourceList returns the selected source domains sorted.
func (s Selection) SourceList() []string {
	sources := make([]string, 0, len(s.Sources))
	for k := range s.Sources {
		sources = append(sources, k)
	}
	sort.Strings(sources)
	return sources
}

// Matches evaluates the local filter predicate against a story. The optional
// index entry supplies the precomputed source domain and matched vocabulary
// terms; when nil, both are derived from the story directly.
func (s Selection) Matches(story *models.Story, entry *models.FilterIndexEntry) bool {
	text := ""
	textFor := func() string {
		if text == "" {
			text = story.Text()
		}
		return text
	}

	matchAny := func(set map[string]bool) bool {
		if entry != nil {
			for _, term := range entry.Terms {
				if set[strings.ToLower(term)] {
					return true
				}
			}
		}
		for term := range set {
			if MatchTerm(textFor(), term) {
				return true
			}
		}
		return false
	}

	if len(s.Keywords) > 0 && !matchAny(s.Keywords) {
		return false
	}
	if len(s.Landmarks) > 0 && !matchAny(s.Landmarks) {
		return false
	}
	if len(s.Organizations) > 0 && !matchAny(s.Organizations) {
		return false
	}
	if len(s.Sources) > 0 {
		domain := ""
		if entry != nil {
			domain = entry.SourceDomain
		}
		if domain == "" {
			domain = SourceDomain(story.SourceURL)
		}
		if !s.Sources[domain] {
			return false
		}
	}
	return true
}

// MatchTerm reports whether term occurs in text at a word boundary,
// case-insensitively. Multi-word terms match as phrases. A bare substring
// inside a longer word does not match ("art" does not match "charter").
func MatchTerm(text, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	text = strings.ToLower(text)

	for start := 0; ; {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		if boundaryBefore(text, i) && boundaryAfter(text, i+len(term)) {
			return true
		}
		start = i + 1
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// SourceDomain extracts the canonical source domain from a URL: the host,
// lowercased, with any "www." prefix stripped. Empty when the URL does not
// parse or has no host.
func SourceDomain(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
