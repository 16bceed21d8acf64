package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/sportsblock/sportsblock/internal/app"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/domain/user"
	"github.com/sportsblock/sportsblock/internal/config"
)

// chainStub answers the minimum RPC surface the handlers touch.
func chainStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc: %v", err)
		}
		var result string
		switch req.Method {
		case "condenser_api.get_discussions_by_trending",
			"condenser_api.get_discussions_by_created",
			"condenser_api.get_discussions_by_blog":
			result = `[]`
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"unsupported"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}))
}

func newTestServer(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()
	chain := chainStub(t)
	t.Cleanup(chain.Close)

	cfg := config.Default()
	cfg.Chain.Nodes = []string{chain.URL}
	cfg.Chain.EscrowAccount = "sb-escrow"
	cfg.Auth.JWTSecret = "handler-test-secret"
	cfg.Custodian.MasterKey = "handler-test-master-key"

	application, err := app.New(cfg, app.Stores{}, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv, err := NewServer(application, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, application
}

func doJSON(t *testing.T, srv http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, srv http.Handler, username string) (string, user.User) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/auth/register", "", map[string]any{
		"username": username,
		"password": "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/auth/login", "", map[string]any{
		"username": username,
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.Token == "" {
		t.Fatal("expected token in login response")
	}
	return out.Token, out.User
}

func TestHealthzIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/me", "/predictions", "/notifications"} {
		rec := doJSON(t, srv, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestRegisterLoginAndProfile(t *testing.T) {
	srv, _ := newTestServer(t)
	token, u := registerAndLogin(t, srv, "alice")

	if !u.Custodial || u.HiveAccount != "sb-alice" {
		t.Fatalf("expected custodial account provisioned, got %+v", u)
	}

	rec := doJSON(t, srv, http.MethodGet, "/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /me returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPatch, "/me", token, map[string]any{"about": "football fan"})
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH /me returned %d: %s", rec.Code, rec.Body.String())
	}
	var me user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if me.About != "football fan" {
		t.Fatalf("expected about updated, got %q", me.About)
	}

	rec = doJSON(t, srv, http.MethodGet, "/users/alice", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public profile returned %d", rec.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/auth/login", "", map[string]any{
		"username": "alice",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPredictionLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/predictions", token, map[string]any{
		"title":       "Will the home team win?",
		"outcomes":    []string{"Yes", "No"},
		"min_stake":   1,
		"max_stake":   100,
		"fee_percent": 5,
		"locks_at":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create prediction returned %d: %s", rec.Code, rec.Body.String())
	}
	var p prediction.Prediction
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode prediction: %v", err)
	}
	if p.Author != "sb-alice" || len(p.Outcomes) != 2 {
		t.Fatalf("unexpected prediction: %+v", p)
	}

	// Stake from another user stays pending; the stub chain cannot verify it.
	stakerToken, _ := registerAndLogin(t, srv, "bob")
	rec = doJSON(t, srv, http.MethodPost, "/predictions/"+p.ID+"/stakes", stakerToken, map[string]any{
		"outcome_id": p.Outcomes[0].ID,
		"amount":     10,
		"tx_id":      "deadbeef",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place stake returned %d: %s", rec.Code, rec.Body.String())
	}
	var st prediction.Stake
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stake: %v", err)
	}
	if st.Status != prediction.StakePending {
		t.Fatalf("expected pending stake, got %q", st.Status)
	}

	rec = doJSON(t, srv, http.MethodPost, "/predictions/"+p.ID+"/lock", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lock returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/predictions/"+p.ID+"/settle", token, map[string]any{
		"winning_outcome_id": p.Outcomes[0].ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle returned %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode settled prediction: %v", err)
	}
	if p.Status != prediction.StatusSettled {
		t.Fatalf("expected settled, got %q", p.Status)
	}

	// Settling twice conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/predictions/"+p.ID+"/settle", token, map[string]any{
		"winning_outcome_id": p.Outcomes[0].ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double settle, got %d", rec.Code)
	}
}

func TestSoftPostCRUDOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/posts", token, map[string]any{
		"title": "Match Preview",
		"body":  "analysis",
		"tags":  []string{"football"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create post returned %d: %s", rec.Code, rec.Body.String())
	}
	var sp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sp); err != nil {
		t.Fatalf("decode post: %v", err)
	}

	rec = doJSON(t, srv, http.MethodGet, "/posts/"+sp.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get post returned %d", rec.Code)
	}

	// Update is a full replace over PUT.
	rec = doJSON(t, srv, http.MethodPut, "/posts/"+sp.ID, token, map[string]any{
		"title": "Match Preview, Revised",
		"body":  "fresh analysis",
		"tags":  []string{"football", "derby"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update post returned %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated post: %v", err)
	}
	if updated.Title != "Match Preview, Revised" {
		t.Fatalf("expected replaced title, got %q", updated.Title)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/posts/"+sp.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete post returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/posts/"+sp.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestFeedsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/feeds/trending?tag=football", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trending feed returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPriceFeedCreationRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/prices", token, map[string]any{
		"base_asset":  "HIVE",
		"quote_asset": "USD",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
}

func TestNotificationsRoundTrip(t *testing.T) {
	srv, application := newTestServer(t)
	token, u := registerAndLogin(t, srv, "alice")

	application.Notifications.Notify(context.Background(), u.HiveAccount, "system", "", "", "welcome")

	rec := doJSON(t, srv, http.MethodGet, "/notifications?unread=true", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list notifications returned %d: %s", rec.Code, rec.Body.String())
	}
	var list []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}

	rec = doJSON(t, srv, http.MethodPost, "/notifications/read", token, map[string]any{"ids": []string{}})
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefreshIssuesNewToken(t *testing.T) {
	srv, _ := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodPost, "/auth/refresh", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if out.Token == "" {
		t.Fatal("expected a fresh token")
	}

	rec = doJSON(t, srv, http.MethodGet, "/me", out.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me with refreshed token returned %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/auth/refresh", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated refresh returned %d", rec.Code)
	}
}

func TestUserListRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	token, _ := registerAndLogin(t, srv, "alice")

	rec := doJSON(t, srv, http.MethodGet, "/users", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin list, got %d", rec.Code)
	}
}
