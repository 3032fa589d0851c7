package snapshot

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storyfeed/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSnapshot(itemIDs ...string) *models.Snapshot {
	snap := &models.Snapshot{
		Topic:   models.Topic{ID: "t1", Slug: "harbor-city", Keywords: []string{"harbor"}},
		SavedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	for _, id := range itemIDs {
		snap.Items = append(snap.Items, models.FeedItem{
			Story: models.Story{
				ID:    id,
				Title: "Story " + id,
				Slides: []models.Slide{
					{ID: id + "#1", StoryID: id, Index: 1, Content: "first"},
					{ID: id + "#2", StoryID: id, Index: 2, Content: "second"},
				},
			},
			ContentDate: "2026-01-01T00:00:00Z",
		})
	}
	return snap
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	want := testSnapshot("s1", "s2")
	if err := store.Save("harbor-city", want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load("harbor-city")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if diff := cmp.Diff(want.Items, got.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if got.Topic.Slug != "harbor-city" {
		t.Errorf("topic slug = %q", got.Topic.Slug)
	}
}

func TestLoadMissingTopic(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("nope"); err == nil {
		t.Error("expected error for missing snapshot")
	}
}

func TestSaveOverwritesWholesale(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save("harbor-city", testSnapshot("s1", "s2", "s3")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// Second save replaces the row completely; nothing from the first
	// snapshot survives.
	if err := store.Save("harbor-city", testSnapshot("s9")); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.Load("harbor-city")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Story.ID != "s9" {
		t.Errorf("expected only s9 after overwrite, got %+v", got.Items)
	}
}

func TestInfo(t *testing.T) {
	store := newTestStore(t)

	snap := testSnapshot("s1", "s2")
	if err := store.Save("harbor-city", snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := store.Info("harbor-city")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if info.ItemCount != 2 {
		t.Errorf("item count = %d, want 2", info.ItemCount)
	}
	if info.Size <= 0 {
		t.Errorf("size = %d, want > 0", info.Size)
	}
	if !info.SavedAt.Equal(snap.SavedAt) {
		t.Errorf("saved at = %v, want %v", info.SavedAt, snap.SavedAt)
	}

	if _, err := store.Info("nope"); err == nil {
		t.Error("expected error for missing snapshot info")
	}
}

func TestDeleteAndListTopics(t *testing.T) {
	store := newTestStore(t)

	for _, topic := range []string{"harbor-city", "river-town"} {
		if err := store.Save(topic, testSnapshot("s1")); err != nil {
			t.Fatalf("save %s failed: %v", topic, err)
		}
	}

	topics, err := store.ListTopics()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if diff := cmp.Diff([]string{"harbor-city", "river-town"}, topics); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}

	if err := store.Delete("harbor-city"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Load("harbor-city"); err == nil {
		t.Error("deleted snapshot still loads")
	}
	if err := store.Delete("harbor-city"); err != nil {
		t.Errorf("deleting a missing snapshot should be a no-op, got %v", err)
	}
}

func TestSaveStampsMissingTimestamp(t *testing.T) {
	store := newTestStore(t)

	snap := testSnapshot("s1")
	snap.SavedAt = time.Time{}
	if err := store.Save("harbor-city", snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	info, err := store.Info("harbor-city")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if info.SavedAt.IsZero() {
		t.Error("zero timestamp should be stamped at save time")
	}
}
