package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/storage"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{URL: srv.URL, ServiceKey: "service-key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientSetsAuthHeaders(t *testing.T) {
	var gotAuth, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		w.Write([]byte("[]"))
	})

	if _, err := client.Select(context.Background(), "sb_soft_posts", ""); err != nil {
		t.Fatalf("select: %v", err)
	}
	if gotAuth != "Bearer service-key" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotKey != "service-key" {
		t.Fatalf("expected apikey header, got %q", gotKey)
	}
}

func TestClientMapsErrorStatuses(t *testing.T) {
	status := http.StatusNotFound
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	if _, err := client.Select(context.Background(), "sb_soft_posts", "id=eq.x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	status = http.StatusConflict
	if _, err := client.Insert(context.Background(), "sb_soft_posts", []byte("{}")); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	status = http.StatusInternalServerError
	_, err := client.Select(context.Background(), "sb_soft_posts", "")
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("expected docstore error with status 500, got %v", err)
	}
}

func TestCreateSoftPostRoundTrip(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/rest/v1/sb_soft_posts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var p post.SoftPost
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode([]post.SoftPost{p})
	})

	store := NewStore(client)
	created, err := store.CreateSoftPost(context.Background(), post.SoftPost{Author: "Alice", Permlink: "derby", Title: "Derby"})
	if err != nil {
		t.Fatalf("create soft post: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Author != "alice" {
		t.Fatalf("expected lowercased author, got %q", created.Author)
	}
}

func TestGetSoftPostNotFoundOnEmptyResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})

	store := NewStore(client)
	if _, err := store.GetSoftPost(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkNotificationsReadCountsUpdatedRows(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]notification.Notification{{ID: "1"}, {ID: "2"}})
	})

	store := NewStore(client)
	n, err := store.MarkNotificationsRead(context.Background(), "Alice", []string{"1", "2"})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 updated, got %d", n)
	}
	if gotQuery != "account=eq.alice&read=is.false&id=in.(1,2)" {
		t.Fatalf("unexpected filter %q", gotQuery)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	saved := map[string]uint64{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var doc cursorDoc
			if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
				t.Errorf("decode cursor: %v", err)
			}
			saved[doc.Name] = doc.BlockNum
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			if block, ok := saved["monitor"]; ok {
				json.NewEncoder(w).Encode([]cursorDoc{{Name: "monitor", BlockNum: block}})
				return
			}
			w.Write([]byte("[]"))
		}
	})

	store := NewStore(client)
	ctx := context.Background()

	block, err := store.LoadCursor(ctx, "monitor")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if block != 0 {
		t.Fatalf("expected 0 for unknown cursor, got %d", block)
	}

	if err := store.SaveCursor(ctx, "monitor", 98765); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	block, err = store.LoadCursor(ctx, "monitor")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if block != 98765 {
		t.Fatalf("expected 98765, got %d", block)
	}
}

func TestPruneNotificationsSendsCutoff(t *testing.T) {
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if got := r.URL.Query().Get("created_at"); got != "lt.2026-01-02T03:04:05Z" {
			t.Errorf("unexpected created_at filter %q", got)
		}
		json.NewEncoder(w).Encode([]notification.Notification{{ID: "1"}})
	})

	store := NewStore(client)
	n, err := store.PruneNotifications(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
}
