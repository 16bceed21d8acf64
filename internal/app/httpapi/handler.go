// Package httpapi exposes the REST and websocket API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/sportsblock/sportsblock/internal/app"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	postsvc "github.com/sportsblock/sportsblock/internal/app/services/posts"
	predictionsvc "github.com/sportsblock/sportsblock/internal/app/services/predictions"
	usersvc "github.com/sportsblock/sportsblock/internal/app/services/users"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/chain"
	"github.com/sportsblock/sportsblock/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app  *app.Application
	auth *middleware.Auth
}

// NewHandler returns a mux exposing the REST API. The auth middleware is
// used for issuing tokens at login; route protection happens in NewServer.
func NewHandler(application *app.Application, auth *middleware.Auth) http.Handler {
	h := &handler{app: application, auth: auth}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/auth/register", h.register)
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/auth/refresh", h.refresh)
	mux.HandleFunc("/me", h.me)
	mux.HandleFunc("/me/password", h.changePassword)
	mux.HandleFunc("/users", h.users)
	mux.HandleFunc("/users/", h.userResources)
	mux.HandleFunc("/predictions", h.predictions)
	mux.HandleFunc("/predictions/", h.predictionResources)
	mux.HandleFunc("/posts", h.posts)
	mux.HandleFunc("/posts/", h.postResources)
	mux.HandleFunc("/feeds/", h.feeds)
	mux.HandleFunc("/notifications", h.notifications)
	mux.HandleFunc("/notifications/read", h.markNotificationsRead)
	mux.HandleFunc("/prices", h.prices)
	mux.HandleFunc("/prices/", h.priceResources)
	mux.HandleFunc("/leaderboard", h.leaderboard)
	mux.HandleFunc("/media/gifs", h.searchGIFs)
	mux.HandleFunc("/media/images", h.generateImage)

	if application.Hub != nil {
		mux.HandleFunc("/ws", application.Hub.HandleWS)
	}
	return mux
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		HiveAccount string `json:"hive_account"`
		DisplayName string `json:"display_name"`
		About       string `json:"about"`
		AvatarURL   string `json:"avatar_url"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Register(r.Context(), usersvc.RegisterParams{
		Username:    payload.Username,
		Password:    payload.Password,
		HiveAccount: payload.HiveAccount,
		DisplayName: payload.DisplayName,
		About:       payload.About,
		AvatarURL:   payload.AvatarURL,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, usersvc.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	token, err := h.auth.IssueToken(u.ID, u.Username, u.HiveAccount, u.Role, h.app.Config.Auth.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.app.Config.Auth.TokenTTL.Seconds()),
		"user":       u,
	})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, err := middleware.RequireUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	// Re-read the user so role or account changes land in the new token.
	u, err := h.app.Users.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := h.auth.IssueToken(u.ID, u.Username, u.HiveAccount, u.Role, h.app.Config.Auth.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.app.Config.Auth.TokenTTL.Seconds()),
	})
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if middleware.GetUserRole(r.Context()) != "admin" {
		writeError(w, http.StatusForbidden, errors.New("admin role required"))
		return
	}
	users, err := h.app.Users.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.RequireUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, err := h.app.Users.Get(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)

	case http.MethodPatch:
		var payload struct {
			DisplayName *string `json:"display_name"`
			About       *string `json:"about"`
			AvatarURL   *string `json:"avatar_url"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		u, err := h.app.Users.UpdateProfile(r.Context(), userID, usersvc.UpdateProfileParams{
			DisplayName: payload.DisplayName,
			About:       payload.About,
			AvatarURL:   payload.AvatarURL,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, err := middleware.RequireUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var payload struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Users.ChangePassword(r.Context(), userID, payload.Current, payload.New); err != nil {
		if errors.Is(err, usersvc.ErrInvalidCredentials) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	username := parts[0]

	if len(parts) == 1 {
		u, err := h.app.Users.GetByUsername(r.Context(), username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}

	switch parts[1] {
	case "standing":
		entry, err := h.app.Leaderboard.For(r.Context(), username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "balances":
		h.userBalances(w, r, username)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// userBalances reports the on-chain balances for a user's account.
func (h *handler) userBalances(w http.ResponseWriter, r *http.Request, username string) {
	u, err := h.app.Users.GetByUsername(r.Context(), username)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if u.HiveAccount == "" {
		writeError(w, http.StatusNotFound, errors.New("user has no chain account"))
		return
	}

	accounts, err := h.app.Chain.GetAccounts(r.Context(), []string{u.HiveAccount})
	if err != nil {
		writeChainError(w, err)
		return
	}
	if len(accounts) == 0 {
		writeError(w, http.StatusNotFound, errors.New("chain account not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":     accounts[0].Name,
		"balance":     accounts[0].Balance,
		"hbd_balance": accounts[0].HBDBalance,
	})
}

func (h *handler) predictions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		account, err := requireHiveAccount(r)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		var payload struct {
			Title       string    `json:"title"`
			Body        string    `json:"body"`
			Outcomes    []string  `json:"outcomes"`
			StakeSymbol string    `json:"stake_symbol"`
			MinStake    float64   `json:"min_stake"`
			MaxStake    float64   `json:"max_stake"`
			FeePercent  float64   `json:"fee_percent"`
			LocksAt     time.Time `json:"locks_at"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Predictions.Create(r.Context(), account, predictionsvc.CreateParams{
			Title:       payload.Title,
			Body:        payload.Body,
			Outcomes:    payload.Outcomes,
			StakeSymbol: payload.StakeSymbol,
			MinStake:    payload.MinStake,
			MaxStake:    payload.MaxStake,
			FeePercent:  payload.FeePercent,
			LocksAt:     payload.LocksAt,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	case http.MethodGet:
		status := prediction.Status(r.URL.Query().Get("status"))
		author := r.URL.Query().Get("author")
		list, err := h.app.Predictions.List(r.Context(), status, author)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) predictionResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/predictions"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	predictionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, err := h.app.Predictions.Get(r.Context(), predictionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	switch parts[1] {
	case "stakes":
		h.predictionStakes(w, r, predictionID)
	case "lock":
		h.predictionLock(w, r, predictionID)
	case "settle":
		h.predictionSettle(w, r, predictionID)
	case "void":
		h.predictionVoid(w, r, predictionID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) predictionStakes(w http.ResponseWriter, r *http.Request, predictionID string) {
	switch r.Method {
	case http.MethodPost:
		account, err := requireHiveAccount(r)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		var payload struct {
			OutcomeID string  `json:"outcome_id"`
			Amount    float64 `json:"amount"`
			TxID      string  `json:"tx_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		stake, err := h.app.Predictions.PlaceStake(r.Context(), account, predictionID, payload.OutcomeID, payload.Amount, payload.TxID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stake)

	case http.MethodGet:
		stakes, err := h.app.Predictions.Stakes(r.Context(), predictionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stakes)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) predictionLock(w http.ResponseWriter, r *http.Request, predictionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := requireHiveAccount(r); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	p, err := h.app.Predictions.Lock(r.Context(), predictionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) predictionSettle(w http.ResponseWriter, r *http.Request, predictionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account, err := requireHiveAccount(r)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	var payload struct {
		WinningOutcomeID string `json:"winning_outcome_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Predictions.Settle(r.Context(), predictionID, payload.WinningOutcomeID, account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) predictionVoid(w http.ResponseWriter, r *http.Request, predictionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account, err := requireHiveAccount(r)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	p, err := h.app.Predictions.Void(r.Context(), predictionID, account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type postPayload struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags"`
	Community string   `json:"community"`
	OnChain   bool     `json:"on_chain"`
}

func postParams(p postPayload) postsvc.CreateParams {
	return postsvc.CreateParams{
		Title:     p.Title,
		Body:      p.Body,
		Tags:      p.Tags,
		Community: p.Community,
	}
}

func (h *handler) posts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		account, err := requireHiveAccount(r)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		var payload postPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		params := postParams(payload)

		if payload.OnChain {
			txID, permlink, err := h.app.Posts.Publish(r.Context(), account, params)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{
				"tx_id":    txID,
				"author":   account,
				"permlink": permlink,
			})
			return
		}

		sp, err := h.app.Posts.CreateSoft(r.Context(), account, params)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sp)

	case http.MethodGet:
		author := r.URL.Query().Get("author")
		list, err := h.app.Posts.ListSoft(r.Context(), author, queryInt(r, "limit"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) postResources(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/posts"), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sp, err := h.app.Posts.GetSoft(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)

	case http.MethodPut:
		account, err := requireHiveAccount(r)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		var payload postPayload
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sp, err := h.app.Posts.UpdateSoft(r.Context(), id, account, postParams(payload))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)

	case http.MethodDelete:
		account, err := requireHiveAccount(r)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		if err := h.app.Posts.DeleteSoft(r.Context(), id, account); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) feeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/feeds"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit")
	tag := r.URL.Query().Get("tag")

	var (
		items any
		err   error
	)
	switch parts[0] {
	case "trending":
		items, err = h.app.Feeds.Trending(r.Context(), tag, limit)
	case "created":
		items, err = h.app.Feeds.Created(r.Context(), tag, limit)
	case "blog":
		if len(parts) < 2 || parts[1] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		items, err = h.app.Feeds.Blog(r.Context(), parts[1], limit)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account, err := requireHiveAccount(r)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.app.Notifications.List(r.Context(), account, unreadOnly, queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account, err := requireHiveAccount(r)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := h.app.Notifications.MarkRead(r.Context(), account, payload.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *handler) prices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		feeds, err := h.app.PriceFeeds.ListFeeds(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, feeds)

	case http.MethodPost:
		if role := middleware.GetUserRole(r.Context()); role != "admin" {
			writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
			return
		}
		var payload struct {
			BaseAsset      string `json:"base_asset"`
			QuoteAsset     string `json:"quote_asset"`
			UpdateInterval string `json:"update_interval"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		feed, err := h.app.PriceFeeds.CreateFeed(r.Context(), payload.BaseAsset, payload.QuoteAsset, payload.UpdateInterval)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, feed)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) priceResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/prices"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	pair := parts[0]

	if len(parts) > 1 && parts[1] == "history" {
		snaps, err := h.app.PriceFeeds.History(r.Context(), pair, queryInt(r, "limit"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snaps)
		return
	}

	snap, err := h.app.PriceFeeds.Latest(r.Context(), pair)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.app.Leaderboard.Top(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) searchGIFs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	gifs, err := h.app.Media.SearchGIFs(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, gifs)
}

func (h *handler) generateImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	img, err := h.app.Media.GenerateImage(r.Context(), payload.Prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// requireHiveAccount returns the caller's chain account; writes handled by
// the caller.
func requireHiveAccount(r *http.Request) (string, error) {
	account := middleware.GetHiveAccount(r.Context())
	if account == "" {
		return "", fmt.Errorf("a linked chain account is required")
	}
	return account, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeServiceError maps storage and lifecycle sentinels to HTTP statuses;
// anything else is treated as a bad request from the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, predictionsvc.ErrNotOpen), errors.Is(err, predictionsvc.ErrBadTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, chain.ErrAllNodesFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

// writeChainError distinguishes upstream chain failures from caller errors.
func writeChainError(w http.ResponseWriter, err error) {
	var rpcErr *chain.RPCError
	if errors.Is(err, chain.ErrAllNodesFailed) || errors.As(err, &rpcErr) {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
