package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
)

func TestCreateFeedNormalizesPair(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	feed, err := svc.CreateFeed(ctx, "hive", "usd", "")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	if feed.Pair != "HIVE/USD" {
		t.Fatalf("expected HIVE/USD, got %q", feed.Pair)
	}
	if feed.UpdateInterval != "@every 1m" {
		t.Fatalf("expected default interval, got %q", feed.UpdateInterval)
	}
	if !feed.Active {
		t.Fatal("expected new feed active")
	}

	if _, err := svc.CreateFeed(ctx, "HIVE", "USD", ""); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict on duplicate pair, got %v", err)
	}
}

func TestLatestResolvesPairSpellings(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	feed, err := svc.CreateFeed(ctx, "HIVE", "USD", "")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "hive" {
			t.Errorf("expected ids=hive, got %q", got)
		}
		fmt.Fprint(w, `{"hive":{"usd":0.312}}`)
	}))
	defer srv.Close()

	ref := NewRefresher(store, srv.URL, 0, nil)
	if err := ref.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	for _, spelling := range []string{"HIVE/USD", "hive-usd"} {
		snap, err := svc.Latest(ctx, spelling)
		if err != nil {
			t.Fatalf("Latest(%q): %v", spelling, err)
		}
		if snap.Price != 0.312 || snap.FeedID != feed.ID {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	}

	if _, err := svc.Latest(ctx, "DOGE/USD"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown pair, got %v", err)
	}
}

func TestRefreshAllSkipsInactiveFeeds(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	feed, err := svc.CreateFeed(ctx, "HIVE", "USD", "")
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	if _, err := svc.SetActive(ctx, feed.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"hive":{"usd":0.3}}`)
	}))
	defer srv.Close()

	ref := NewRefresher(store, srv.URL, 0, nil)
	if err := ref.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected inactive feed skipped, got %d fetches", calls)
	}
}

func TestRefreshAllReportsSourceErrors(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()
	if _, err := svc.CreateFeed(ctx, "HIVE", "USD", ""); err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ref := NewRefresher(store, srv.URL, 0, nil)
	if err := ref.RefreshAll(ctx); err == nil {
		t.Fatal("expected error from failing source")
	}
	if _, err := svc.Latest(ctx, "HIVE/USD"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no snapshot recorded, got %v", err)
	}
}
