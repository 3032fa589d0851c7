package cache

import (
	"testing"
	"time"

	"storyfeed/internal/models"
)

func TestFeedViewRoundTrip(t *testing.T) {
	m := NewManager(time.Minute)

	if _, found := m.GetFeedView("harbor-city"); found {
		t.Error("empty cache should miss")
	}

	view := &models.FeedView{Topic: "harbor-city", Count: 2}
	m.SetFeedView("harbor-city", view, 0)

	got, found := m.GetFeedView("harbor-city")
	if !found {
		t.Fatal("expected cache hit")
	}
	if got.Topic != "harbor-city" || got.Count != 2 {
		t.Errorf("cached view wrong: %+v", got)
	}

	m.InvalidateFeedView("harbor-city")
	if _, found := m.GetFeedView("harbor-city"); found {
		t.Error("invalidated view still cached")
	}
}

func TestFeedViewExpires(t *testing.T) {
	m := NewManager(time.Minute)
	m.SetFeedView("harbor-city", &models.FeedView{Topic: "harbor-city"}, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if _, found := m.GetFeedView("harbor-city"); found {
		t.Error("view should have expired")
	}
}

func TestOwnerCache(t *testing.T) {
	m := NewManager(time.Minute)

	if _, found := m.GetOwner("s1"); found {
		t.Error("empty cache should miss")
	}

	m.SetOwner("s1", "t1")
	owner, found := m.GetOwner("s1")
	if !found || owner != "t1" {
		t.Errorf("owner = %q found=%v, want t1", owner, found)
	}
}

func TestTypedGettersRejectForeignValues(t *testing.T) {
	m := NewManager(time.Minute)

	m.Set("feed:harbor-city", "not a view", time.Minute)
	if _, found := m.GetFeedView("harbor-city"); found {
		t.Error("mistyped entry must not surface as a feed view")
	}

	m.Set("owner:s1", 42, time.Minute)
	if _, found := m.GetOwner("s1"); found {
		t.Error("mistyped entry must not surface as an owner")
	}
}

func TestFlush(t *testing.T) {
	m := NewManager(time.Minute)
	m.SetOwner("s1", "t1")
	m.SetFeedView("harbor-city", &models.FeedView{}, 0)

	m.Flush()

	if _, found := m.GetOwner("s1"); found {
		t.Error("owner survived flush")
	}
	if _, found := m.GetFeedView("harbor-city"); found {
		t.Error("view survived flush")
	}
}
