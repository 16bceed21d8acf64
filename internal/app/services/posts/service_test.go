package posts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
	"github.com/sportsblock/sportsblock/internal/chain"
)

func TestCreateSoftValidatesAndNormalizes(t *testing.T) {
	svc := New(memory.New(), nil, nil, "", nil)
	ctx := context.Background()

	if _, err := svc.CreateSoft(ctx, "alice", CreateParams{Body: "text"}); err == nil {
		t.Fatal("expected missing title rejected")
	}
	if _, err := svc.CreateSoft(ctx, "alice", CreateParams{Title: "t"}); err == nil {
		t.Fatal("expected missing body rejected")
	}

	sp, err := svc.CreateSoft(ctx, "Alice", CreateParams{
		Title: "Match Preview: City vs United!",
		Body:  "full analysis",
		Tags:  []string{"Football", "football", " ", "premier-league"},
	})
	if err != nil {
		t.Fatalf("CreateSoft: %v", err)
	}
	if sp.Author != "alice" {
		t.Fatalf("expected lowercased author, got %q", sp.Author)
	}
	if !strings.HasPrefix(sp.Permlink, "match-preview-city-vs-united-") {
		t.Fatalf("unexpected permlink %q", sp.Permlink)
	}
	if len(sp.Tags) != 2 {
		t.Fatalf("expected deduplicated tags, got %v", sp.Tags)
	}
}

func TestUpdateAndDeleteEnforceOwnership(t *testing.T) {
	svc := New(memory.New(), nil, nil, "", nil)
	ctx := context.Background()

	sp, err := svc.CreateSoft(ctx, "alice", CreateParams{Title: "hello", Body: "world"})
	if err != nil {
		t.Fatalf("CreateSoft: %v", err)
	}

	if _, err := svc.UpdateSoft(ctx, sp.ID, "mallory", CreateParams{Title: "x", Body: "y"}); err == nil {
		t.Fatal("expected non-author edit rejected")
	}
	if err := svc.DeleteSoft(ctx, sp.ID, "mallory"); err == nil {
		t.Fatal("expected non-author delete rejected")
	}

	updated, err := svc.UpdateSoft(ctx, sp.ID, "ALICE", CreateParams{Title: "hello again", Body: "world"})
	if err != nil {
		t.Fatalf("UpdateSoft: %v", err)
	}
	if updated.Title != "hello again" {
		t.Fatalf("expected title updated, got %q", updated.Title)
	}
	if updated.Permlink != sp.Permlink {
		t.Fatal("permlink must not change on edit")
	}

	if err := svc.DeleteSoft(ctx, sp.ID, "alice"); err != nil {
		t.Fatalf("DeleteSoft: %v", err)
	}
	if _, err := svc.GetSoft(ctx, sp.ID); err == nil {
		t.Fatal("expected deleted post hidden")
	}
}

type staticSigner struct{}

func (staticSigner) Sign(digest []byte) (string, error) { return "sig-" + fmt.Sprint(len(digest)), nil }
func (staticSigner) PublicKey() string                  { return "pub" }

type staticProvider struct{}

func (staticProvider) PostingSigner(ctx context.Context, hiveAccount string) (chain.Signer, error) {
	return staticSigner{}, nil
}

func TestPublishBroadcastsSignedComment(t *testing.T) {
	var broadcasted chain.Transaction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int               `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}

		var result any
		switch req.Method {
		case "condenser_api.get_dynamic_global_properties":
			result = map[string]any{
				"head_block_number":           1000,
				"head_block_id":               "000003e8aabbccddeeff00112233445566778899",
				"last_irreversible_block_num": 990,
				"time":                        "2026-08-26T12:00:00",
			}
		case "condenser_api.broadcast_transaction_synchronous":
			if err := json.Unmarshal(req.Params[0], &broadcasted); err != nil {
				t.Fatalf("decode broadcast: %v", err)
			}
			result = map[string]any{"id": "tx-abc", "block_num": 1001}
		default:
			t.Fatalf("unexpected method %s", req.Method)
		}

		payload, _ := json.Marshal(result)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, payload)
	}))
	defer srv.Close()

	client, err := chain.NewClient([]string{srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	svc := New(memory.New(), client, staticProvider{}, "beef", nil)
	txID, permlink, err := svc.Publish(context.Background(), "sb-alice", CreateParams{
		Title: "Derby Recap",
		Body:  "what a game",
		Tags:  []string{"football"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if txID != "tx-abc" {
		t.Fatalf("expected broadcast tx id, got %q", txID)
	}
	if !strings.HasPrefix(permlink, "derby-recap-") {
		t.Fatalf("unexpected permlink %q", permlink)
	}

	if len(broadcasted.Operations) != 1 || broadcasted.Operations[0].Name != "comment" {
		t.Fatalf("expected one comment op, got %+v", broadcasted.Operations)
	}
	if len(broadcasted.Signatures) != 1 {
		t.Fatalf("expected signed transaction, got %d signatures", len(broadcasted.Signatures))
	}
	var comment chain.CommentPayload
	if err := broadcasted.Operations[0].Decode(&comment); err != nil {
		t.Fatalf("decode comment: %v", err)
	}
	if comment.Author != "sb-alice" || comment.ParentPermlink != "football" {
		t.Fatalf("unexpected comment payload: %+v", comment)
	}
}

func TestPublishWithoutChainConfigured(t *testing.T) {
	svc := New(memory.New(), nil, nil, "", nil)
	if _, _, err := svc.Publish(context.Background(), "sb-alice", CreateParams{Title: "t", Body: "b"}); err == nil {
		t.Fatal("expected error when chain publishing is not configured")
	}
}

func TestPermlinkFallback(t *testing.T) {
	if got := Permlink("!!!"); !strings.HasPrefix(got, "post-") {
		t.Fatalf("expected fallback slug, got %q", got)
	}
}
