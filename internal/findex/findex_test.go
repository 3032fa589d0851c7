package findex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storyfeed/internal/models"
)

type fakeSource struct {
	mu        sync.Mutex
	pageFn    func(limit, offset int) ([]models.StoryRow, error)
	legacyFn  func(limit, offset int) ([]models.StoryRow, error)
	pageCalls []int // offsets
	legacy    int
}

func (f *fakeSource) FetchPage(_ context.Context, _ string, _, _ []string, limit, offset int) ([]models.StoryRow, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, offset)
	fn := f.pageFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(limit, offset)
}

func (f *fakeSource) FetchLegacyPage(_ context.Context, _ string, limit, offset int) ([]models.StoryRow, error) {
	f.mu.Lock()
	f.legacy++
	fn := f.legacyFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("legacy unavailable")
	}
	return fn(limit, offset)
}

var indexTopic = models.Topic{
	ID:       "t1",
	Slug:     "harbor-city",
	Keywords: []string{"Harbor", "ferry"},
	Landmarks: []string{
		"old lighthouse",
	},
}

func slideRow(storyID, text, sourceURL string) models.StoryRow {
	return models.StoryRow{
		StoryID:      storyID,
		Title:        "Story " + storyID,
		SourceURL:    sourceURL,
		ContentDate:  "2026-01-01T00:00:00Z",
		SlideID:      storyID + "#1",
		SlideIndex:   1,
		SlideContent: text,
	}
}

func TestBuildIndexesVocabularyMatches(t *testing.T) {
	src := &fakeSource{pageFn: func(_, offset int) ([]models.StoryRow, error) {
		if offset > 0 {
			return nil, nil
		}
		return []models.StoryRow{
			slideRow("s1", "the harbor and the old lighthouse", "https://www.example.com/1"),
			slideRow("s2", "nothing relevant here", "https://other.org/2"),
		}, nil
	}}
	index := NewIndex()
	b := NewBuilder(src, index)

	if err := b.Build(context.Background(), indexTopic); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !index.Ready() {
		t.Fatal("index should be ready after build")
	}
	if index.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", index.Len())
	}

	entry, ok := index.Entry("s1")
	if !ok {
		t.Fatal("missing entry for s1")
	}
	if diff := cmp.Diff([]string{"harbor", "old lighthouse"}, entry.Terms); diff != "" {
		t.Errorf("terms mismatch (-want +got):\n%s", diff)
	}
	if entry.SourceDomain != "example.com" {
		t.Errorf("source domain = %q, want example.com", entry.SourceDomain)
	}

	entry, ok = index.Entry("s2")
	if !ok {
		t.Fatal("missing entry for s2")
	}
	if len(entry.Terms) != 0 {
		t.Errorf("expected no terms for s2, got %v", entry.Terms)
	}
}

func TestBuildPagesUntilShortPage(t *testing.T) {
	src := &fakeSource{pageFn: func(limit, offset int) ([]models.StoryRow, error) {
		if offset == 0 {
			rows := make([]models.StoryRow, 0, limit)
			for i := 0; i < limit; i++ {
				rows = append(rows, slideRow(fmt.Sprintf("p0-%d", i), "text", ""))
			}
			return rows, nil
		}
		return []models.StoryRow{slideRow("p1-0", "text", "")}, nil
	}}
	index := NewIndex()
	b := NewBuilder(src, index)

	if err := b.Build(context.Background(), indexTopic); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	src.mu.Lock()
	offsets := src.pageCalls
	src.mu.Unlock()
	if diff := cmp.Diff([]int{0, indexPageSize}, offsets); diff != "" {
		t.Errorf("paging offsets mismatch (-want +got):\n%s", diff)
	}
	if index.Len() != indexPageSize+1 {
		t.Errorf("expected %d entries, got %d", indexPageSize+1, index.Len())
	}
}

func TestBuildFallsBackOnPagingError(t *testing.T) {
	src := &fakeSource{
		pageFn: func(_, _ int) ([]models.StoryRow, error) {
			return nil, errors.New("query endpoint down")
		},
		legacyFn: func(_, _ int) ([]models.StoryRow, error) {
			return []models.StoryRow{slideRow("legacy1", "ferry news", "")}, nil
		},
	}
	index := NewIndex()
	b := NewBuilder(src, index)

	if err := b.Build(context.Background(), indexTopic); err != nil {
		t.Fatalf("fallback build failed: %v", err)
	}
	if !index.Ready() {
		t.Error("index should be ready after fallback build")
	}
	entry, ok := index.Entry("legacy1")
	if !ok {
		t.Fatal("missing entry built from fallback")
	}
	if diff := cmp.Diff([]string{"ferry"}, entry.Terms); diff != "" {
		t.Errorf("terms mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFallsBackOnEmptyFirstPage(t *testing.T) {
	src := &fakeSource{
		legacyFn: func(_, _ int) ([]models.StoryRow, error) {
			return []models.StoryRow{slideRow("legacy1", "harbor", "")}, nil
		},
	}
	index := NewIndex()
	b := NewBuilder(src, index)

	if err := b.Build(context.Background(), indexTopic); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	src.mu.Lock()
	legacy := src.legacy
	src.mu.Unlock()
	if legacy != 1 {
		t.Errorf("expected one fallback fetch, got %d", legacy)
	}
	if index.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", index.Len())
	}
}

func TestBuildPublishesPartialOnCeiling(t *testing.T) {
	src := &fakeSource{pageFn: func(limit, _ int) ([]models.StoryRow, error) {
		time.Sleep(30 * time.Millisecond)
		rows := make([]models.StoryRow, 0, limit)
		for i := 0; i < limit; i++ {
			rows = append(rows, slideRow(fmt.Sprintf("s%d", i), "text", ""))
		}
		return rows, nil
	}}
	index := NewIndex()
	b := NewBuilder(src, index)
	b.SetCeiling(10 * time.Millisecond)

	err := b.Build(context.Background(), indexTopic)
	if err == nil {
		t.Fatal("expected deadline error from ceiling")
	}
	if !index.Ready() {
		t.Error("partial index must still be published as ready")
	}
	if index.Len() == 0 {
		t.Error("expected the gathered page in the partial index")
	}
}

func TestConcurrentBuildRejected(t *testing.T) {
	release := make(chan struct{})
	src := &fakeSource{pageFn: func(_, _ int) ([]models.StoryRow, error) {
		<-release
		return nil, nil
	}}
	index := NewIndex()
	b := NewBuilder(src, index)

	done := make(chan error, 1)
	go func() { done <- b.Build(context.Background(), indexTopic) }()

	for i := 0; !b.Building() && i < 100; i++ {
		time.Sleep(time.Millisecond)
	}
	if !b.Building() {
		t.Fatal("first build never started")
	}

	// Re-entrant call returns immediately without touching the source.
	if err := b.Build(context.Background(), indexTopic); err != nil {
		t.Errorf("re-entrant build should be a no-op, got %v", err)
	}
	src.mu.Lock()
	calls := len(src.pageCalls)
	src.mu.Unlock()
	if calls != 1 {
		t.Errorf("re-entrant build touched the source, %d page calls", calls)
	}

	close(release)
	<-done
	if b.Building() {
		t.Error("building flag should clear after completion")
	}
}
