package models

import (
	"strings"
	"testing"
)

func TestVocabulary(t *testing.T) {
	topic := Topic{
		Keywords:      []string{"harbor", "ferry"},
		Landmarks:     []string{"north pier"},
		Organizations: []string{"city council"},
	}
	vocab := topic.Vocabulary()
	if len(vocab) != 4 {
		t.Fatalf("expected 4 terms, got %d: %v", len(vocab), vocab)
	}
}

func TestVocabularyEqual(t *testing.T) {
	a := Topic{Keywords: []string{"Harbor", "ferry"}, Landmarks: []string{"north pier"}}

	reordered := Topic{Keywords: []string{"ferry"}, Landmarks: []string{"north pier", "harbor"}}
	if !a.VocabularyEqual(&reordered) {
		t.Error("order and category placement must not matter")
	}

	recased := Topic{Keywords: []string{"HARBOR", "FERRY"}, Landmarks: []string{"North Pier"}}
	if !a.VocabularyEqual(&recased) {
		t.Error("case must not matter")
	}

	extra := Topic{Keywords: []string{"harbor", "ferry", "bridge"}, Landmarks: []string{"north pier"}}
	if a.VocabularyEqual(&extra) {
		t.Error("added term must be detected")
	}

	swapped := Topic{Keywords: []string{"harbor", "harbor"}, Landmarks: []string{"north pier"}}
	if a.VocabularyEqual(&swapped) {
		t.Error("multiset comparison must catch duplicated terms replacing distinct ones")
	}
}

func TestStoryText(t *testing.T) {
	story := Story{
		Title: "Harbor Bridge",
		Slides: []Slide{
			{Index: 1, Content: "First PARAGRAPH"},
			{Index: 2, Content: "second"},
		},
	}
	text := story.Text()
	if text != strings.ToLower(text) {
		t.Error("text must be lowercased")
	}
	for _, want := range []string{"harbor bridge", "first paragraph", "second"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q: %s", want, text)
		}
	}
}
