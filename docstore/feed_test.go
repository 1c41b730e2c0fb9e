package docstore

import "testing"

func TestWatcherWants(t *testing.T) {
	w := &watcher{
		collection: "shoppingItems",
		filters:    []Filter{Eq("ownerId", "u1"), Eq("storeId", "s1")},
	}
	match := map[string]any{"ownerId": "u1", "storeId": "s1"}
	other := map[string]any{"ownerId": "u2", "storeId": "s1"}

	tests := []struct {
		name   string
		change Change
		want   bool
	}{
		{"other collection", Change{Collection: "stores", New: match}, false},
		{"unknown images", Change{Collection: "shoppingItems"}, true},
		{"new matches", Change{Collection: "shoppingItems", New: match}, true},
		{"old matches", Change{Collection: "shoppingItems", Old: match, New: other}, true},
		{"neither matches", Change{Collection: "shoppingItems", Old: other, New: other}, false},
		{"insert for other owner", Change{Collection: "shoppingItems", New: other}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.wants(tt.change); got != tt.want {
				t.Errorf("wants() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeed_CoalescesSignals(t *testing.T) {
	f := NewFeed(4)
	w, unregister := f.register("stores", nil)
	defer unregister()

	for i := 0; i < 10; i++ {
		f.Publish(Change{Collection: "stores"})
	}
	if len(w.signal) != 1 {
		t.Errorf("expected one pending signal, got %d", len(w.signal))
	}
}

func TestFeed_RegisterUnregister(t *testing.T) {
	f := NewFeed(16)
	_, u1 := f.register("stores", []Filter{Eq("ownerId", "u1")})
	_, u2 := f.register("stores", []Filter{Eq("ownerId", "u2")})

	if n := f.Watchers(); n != 2 {
		t.Fatalf("expected 2 watchers, got %d", n)
	}
	u1()
	u1() // idempotent
	if n := f.Watchers(); n != 1 {
		t.Errorf("expected 1 watcher, got %d", n)
	}
	u2()
	if n := f.Watchers(); n != 0 {
		t.Errorf("expected 0 watchers, got %d", n)
	}
}

func TestNewFeed_ClampsShards(t *testing.T) {
	if n := len(NewFeed(0).shards); n != 1 {
		t.Errorf("expected 1 shard, got %d", n)
	}
	if n := len(NewFeed(1000).shards); n != 256 {
		t.Errorf("expected 256 shards, got %d", n)
	}
}

func TestMatches_NumericKinds(t *testing.T) {
	fields := map[string]any{"count": float64(3), "title": "Milk"}
	if !Matches(fields, []Filter{Eq("count", int64(3))}) {
		t.Error("expected int64 filter to match float64 field")
	}
	if Matches(fields, []Filter{Eq("title", "Eggs")}) {
		t.Error("expected mismatch")
	}
	if Matches(fields, []Filter{Eq("missing", "x")}) {
		t.Error("missing field must not match")
	}
	if !Matches(fields, nil) {
		t.Error("no filters must match")
	}
}
