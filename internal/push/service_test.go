package push

import (
	"context"
	"strings"
	"testing"
	"time"

	"feedpush/internal/feed"
	"feedpush/internal/transport"
)

func TestAddSubscription(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	sub, err := e.svc.AddSubscription(ctx, "news", "https://example.org/feed.xml")
	if err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if sub.ID != SubscriptionID("news") || !sub.Enabled {
		t.Fatalf("subscription = %+v", sub)
	}

	got, err := e.svc.GetSubscription(ctx, "news")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.URL != "https://example.org/feed.xml" {
		t.Fatalf("URL = %q", got.URL)
	}

	if _, err := e.svc.AddSubscription(ctx, "news", "https://example.org/other.xml"); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestAddSubscriptionNameFromFeedTitle(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.fetcher.title = "Upstream Title"

	sub, err := e.svc.AddSubscription(context.Background(), "", "https://example.org/feed.xml")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Name != "Upstream Title" {
		t.Fatalf("Name = %q, want feed title", sub.Name)
	}
}

func TestAddSubscriptionExpandsRSSHubRoute(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	s := *e.svc.currentSettings()
	s.RSSHubInstance = "https://rsshub.example.org"
	e.svc.settings.Store(&s)

	sub, err := e.svc.AddSubscription(context.Background(), "bili", "/bilibili/user/1234")
	if err != nil {
		t.Fatal(err)
	}
	if sub.URL != "https://rsshub.example.org/bilibili/user/1234" {
		t.Fatalf("URL = %q", sub.URL)
	}
}

func TestRemoveSubscriptionPurgesState(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.svc.AddSubscription(ctx, "news", "https://example.org/feed.xml"); err != nil {
		t.Fatal(err)
	}
	id := SubscriptionID("news")
	if err := e.store.RecordDelivered(ctx, id, "x", time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := e.svc.RemoveSubscription(ctx, "news"); err != nil {
		t.Fatalf("RemoveSubscription: %v", err)
	}
	if _, err := e.svc.GetSubscription(ctx, "news"); err == nil {
		t.Fatal("subscription still resolvable after removal")
	}
	if has, _ := e.store.HasHistory(ctx, id); has {
		t.Fatal("dedup history survived removal")
	}
}

func TestTriggerImmediatePushBypassesDedupAndGate(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()
	sub := e.addSub(t, "blog", transport.ChatTarget{ChatID: 10})

	// Entry already recorded as delivered, and the rate budget is spent.
	entry := entryN(0, time.Now())
	e.fetcher.set(sub.URL, []feed.Entry{entry})
	if err := e.store.RecordDelivered(ctx, sub.ID, feed.Identity(entry), time.Now()); err != nil {
		t.Fatal(err)
	}
	s := *e.svc.currentSettings()
	s.RateMax = 1
	e.svc.settings.Store(&s)
	e.svc.gate.Observe(&s, sub.ID, time.Now())

	if err := e.svc.TriggerImmediatePush(ctx, "blog"); err != nil {
		t.Fatalf("TriggerImmediatePush: %v", err)
	}
	if got := e.sender.texts(10); len(got) != 1 || !strings.Contains(got[0], "Entry 0") {
		t.Fatalf("immediate push sent %v", got)
	}

	// Nothing was recorded, so a dedup row for a never-polled identity
	// must not appear.
	seen, _ := e.store.Seen(ctx, sub.ID, []string{feed.Identity(entry)})
	if !seen[feed.Identity(entry)] {
		t.Fatal("pre-existing dedup row vanished")
	}
}

func TestTriggerImmediatePushPicksNewest(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	sub := e.addSub(t, "blog", transport.ChatTarget{ChatID: 10})

	base := time.Now().Add(-time.Hour)
	e.fetcher.set(sub.URL, []feed.Entry{
		entryN(0, base),
		entryN(2, base.Add(2*time.Minute)),
		entryN(1, base.Add(time.Minute)),
	})
	if err := e.svc.TriggerImmediatePush(context.Background(), "blog"); err != nil {
		t.Fatal(err)
	}
	got := e.sender.texts(10)
	if len(got) != 1 || !strings.Contains(got[0], "Entry 2") {
		t.Fatalf("immediate push sent %v, want the newest entry", got)
	}
}

func TestSubscriptionIDStable(t *testing.T) {
	t.Parallel()
	if SubscriptionID("News") != SubscriptionID("  news ") {
		t.Error("ID should ignore case and surrounding space")
	}
	if SubscriptionID("a") == SubscriptionID("b") {
		t.Error("distinct names collided")
	}
}

func TestExpandRSSHub(t *testing.T) {
	t.Parallel()
	tests := []struct {
		instance string
		url      string
		want     string
	}{
		{"https://rsshub.app", "/github/issue/golang/go", "https://rsshub.app/github/issue/golang/go"},
		{"https://rsshub.app", "https://example.org/feed.xml", "https://example.org/feed.xml"},
		{"", "/route", "/route"},
	}
	for _, tc := range tests {
		if got := ExpandRSSHub(tc.instance, tc.url); got != tc.want {
			t.Errorf("ExpandRSSHub(%q, %q) = %q, want %q", tc.instance, tc.url, got, tc.want)
		}
	}
}
