package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"storyfeed/internal/models"
)

func TestMatchTerm(t *testing.T) {
	tests := []struct {
		name string
		text string
		term string
		want bool
	}{
		{"simple word", "the harbor bridge reopened", "harbor", true},
		{"case insensitive", "The Harbor Bridge reopened", "HARBOR", true},
		{"phrase", "works at the old lighthouse now", "old lighthouse", true},
		{"substring inside word does not match", "the charter was signed", "art", false},
		{"prefix of longer word does not match", "harborside development", "harbor", false},
		{"term at start", "harbor traffic is up", "harbor", true},
		{"term at end", "boats left the harbor", "harbor", true},
		{"punctuation boundary", "the harbor, and beyond", "harbor", true},
		{"second occurrence matches after embedded first", "harborside and the harbor itself", "harbor", true},
		{"empty term", "anything", "", false},
		{"absent term", "the bridge reopened", "harbor", false},
		{"multibyte letter continues the word", "café harbor", "caf", false},
		{"multibyte word matches whole", "the café closed", "café", true},
		{"term after multibyte word", "café harbor tour", "harbor", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchTerm(tt.text, tt.term); got != tt.want {
				t.Errorf("MatchTerm(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
			}
		})
	}
}

func TestSourceDomain(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.example.com/story/1", "example.com"},
		{"https://news.example.co.uk/a", "news.example.co.uk"},
		{"http://example.com:8080/x", "example.com"},
		{"", ""},
		{"not a url", ""},
		{"https://WWW.Example.COM/", "example.com"},
	}

	for _, tt := range tests {
		if got := SourceDomain(tt.raw); got != tt.want {
			t.Errorf("SourceDomain(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestSelectionToggle(t *testing.T) {
	sel := NewSelection()

	sel = sel.Toggle(CategoryKeyword, "Harbor")
	if !sel.Keywords["harbor"] {
		t.Error("expected 'harbor' selected after toggle")
	}
	if !sel.Active() {
		t.Error("expected selection active")
	}

	// Toggling again removes it
	sel = sel.Toggle(CategoryKeyword, "harbor")
	if sel.Keywords["harbor"] {
		t.Error("expected 'harbor' deselected after second toggle")
	}
	if sel.Active() {
		t.Error("expected selection inactive")
	}
}

func TestSelectionToggleDoesNotMutateReceiver(t *testing.T) {
	orig := NewSelection().Toggle(CategoryKeyword, "harbor")
	next := orig.Toggle(CategoryKeyword, "bridge")

	if len(orig.Keywords) != 1 {
		t.Errorf("original selection mutated: %v", orig.Keywords)
	}
	if len(next.Keywords) != 2 {
		t.Errorf("expected 2 keywords in new selection, got %v", next.Keywords)
	}
}

func TestSelectionTermList(t *testing.T) {
	sel := NewSelection().
		Toggle(CategoryKeyword, "harbor").
		Toggle(CategoryLandmark, "old lighthouse").
		Toggle(CategoryOrganization, "city council").
		Toggle(CategorySource, "example.com")

	want := []string{"city council", "harbor", "old lighthouse"}
	if diff := cmp.Diff(want, sel.TermList()); diff != "" {
		t.Errorf("TermList mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"example.com"}, sel.SourceList()); diff != "" {
		t.Errorf("SourceList mismatch (-want +got):\n%s", diff)
	}
}

func story(title, sourceURL string, slides ...string) models.Story {
	st := models.Story{ID: "s1", Title: title, SourceURL: sourceURL}
	for i, content := range slides {
		st.Slides = append(st.Slides, models.Slide{Index: i + 1, Content: content})
	}
	return st
}

func TestSelectionMatches(t *testing.T) {
	harborStory := story("Harbor bridge reopens", "https://www.example.com/1", "The city council approved the plan.")
	ferryStory := story("Ferry timetable changes", "https://other.org/2", "New departures from the north pier.")

	tests := []struct {
		name  string
		sel   Selection
		story models.Story
		want  bool
	}{
		{
			name:  "keyword OR within category",
			sel:   NewSelection().Toggle(CategoryKeyword, "harbor").Toggle(CategoryKeyword, "ferry"),
			story: ferryStory,
			want:  true,
		},
		{
			name:  "AND across categories fails when one category misses",
			sel:   NewSelection().Toggle(CategoryKeyword, "harbor").Toggle(CategoryLandmark, "north pier"),
			story: harborStory,
			want:  false,
		},
		{
			name:  "AND across categories passes when all match",
			sel:   NewSelection().Toggle(CategoryKeyword, "ferry").Toggle(CategoryLandmark, "north pier"),
			story: ferryStory,
			want:  true,
		},
		{
			name:  "source category matches by domain",
			sel:   NewSelection().Toggle(CategorySource, "example.com"),
			story: harborStory,
			want:  true,
		},
		{
			name:  "source category rejects other domain",
			sel:   NewSelection().Toggle(CategorySource, "example.com"),
			story: ferryStory,
			want:  false,
		},
		{
			name:  "organization matched in slide text",
			sel:   NewSelection().Toggle(CategoryOrganization, "city council"),
			story: harborStory,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Matches(&tt.story, nil); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectionMatchesWithIndexEntry(t *testing.T) {
	st := story("Untitled", "", "no matching text here")
	entry := &models.FilterIndexEntry{
		StoryID:      "s1",
		SourceDomain: "example.com",
		Terms:        []string{"harbor"},
	}

	sel := NewSelection().Toggle(CategoryKeyword, "harbor")
	if !sel.Matches(&st, entry) {
		t.Error("expected match via index entry terms")
	}

	sel = NewSelection().Toggle(CategorySource, "example.com")
	if !sel.Matches(&st, entry) {
		t.Error("expected match via index entry source domain")
	}
}

func TestValidCategory(t *testing.T) {
	for _, valid := range []string{"keyword", "landmark", "organization", "source"} {
		if !ValidCategory(valid) {
			t.Errorf("expected %q valid", valid)
		}
	}
	if ValidCategory("genre") {
		t.Error("expected 'genre' invalid")
	}
}
