package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/storage"
)

const (
	postsTable         = "sb_soft_posts"
	notificationsTable = "sb_notifications"
	cursorsTable       = "sb_chain_cursors"
)

// Store implements the document-backed storage interfaces on top of Client.
type Store struct {
	client *Client
}

var _ storage.PostStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.CursorStore = (*Store)(nil)

// NewStore wraps client with the typed stores.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// --- PostStore ----------------------------------------------------------------

func (s *Store) CreateSoftPost(ctx context.Context, p post.SoftPost) (post.SoftPost, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Author = strings.ToLower(p.Author)

	body, err := json.Marshal(p)
	if err != nil {
		return post.SoftPost{}, err
	}
	data, err := s.client.Insert(ctx, postsTable, body)
	if err != nil {
		return post.SoftPost{}, err
	}
	return firstOf[post.SoftPost](data)
}

func (s *Store) UpdateSoftPost(ctx context.Context, p post.SoftPost) (post.SoftPost, error) {
	existing, err := s.GetSoftPost(ctx, p.ID)
	if err != nil {
		return post.SoftPost{}, err
	}

	patch := map[string]any{
		"title":      p.Title,
		"body":       p.Body,
		"tags":       p.Tags,
		"community":  p.Community,
		"updated_at": time.Now().UTC(),
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return post.SoftPost{}, err
	}

	filter := "id=eq." + url.QueryEscape(p.ID) + "&deleted=is.false"
	data, err := s.client.Update(ctx, postsTable, filter, body)
	if err != nil {
		return post.SoftPost{}, err
	}
	updated, err := firstOf[post.SoftPost](data)
	if err != nil {
		return post.SoftPost{}, err
	}
	updated.Author = existing.Author
	updated.Permlink = existing.Permlink
	return updated, nil
}

func (s *Store) GetSoftPost(ctx context.Context, id string) (post.SoftPost, error) {
	filter := "id=eq." + url.QueryEscape(id) + "&deleted=is.false&limit=1"
	data, err := s.client.Select(ctx, postsTable, filter)
	if err != nil {
		return post.SoftPost{}, err
	}
	return firstOf[post.SoftPost](data)
}

func (s *Store) ListSoftPosts(ctx context.Context, author string, limit int) ([]post.SoftPost, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := fmt.Sprintf("deleted=is.false&order=created_at.desc&limit=%d", limit)
	if author != "" {
		filter = "author=eq." + url.QueryEscape(strings.ToLower(author)) + "&" + filter
	}
	data, err := s.client.Select(ctx, postsTable, filter)
	if err != nil {
		return nil, err
	}
	var posts []post.SoftPost
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

func (s *Store) DeleteSoftPost(ctx context.Context, id string) error {
	patch, err := json.Marshal(map[string]any{
		"deleted":    true,
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	filter := "id=eq." + url.QueryEscape(id) + "&deleted=is.false"
	data, err := s.client.Update(ctx, postsTable, filter, patch)
	if err != nil {
		return err
	}
	if n, err := countOf[post.SoftPost](data); err != nil {
		return err
	} else if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- NotificationStore ----------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Account = strings.ToLower(n.Account)
	n.CreatedAt = time.Now().UTC()

	body, err := json.Marshal(n)
	if err != nil {
		return notification.Notification{}, err
	}
	data, err := s.client.Insert(ctx, notificationsTable, body)
	if err != nil {
		return notification.Notification{}, err
	}
	return firstOf[notification.Notification](data)
}

func (s *Store) ListNotifications(ctx context.Context, account string, unreadOnly bool, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := fmt.Sprintf("account=eq.%s&order=created_at.desc&limit=%d",
		url.QueryEscape(strings.ToLower(account)), limit)
	if unreadOnly {
		filter += "&read=is.false"
	}
	data, err := s.client.Select(ctx, notificationsTable, filter)
	if err != nil {
		return nil, err
	}
	var list []notification.Notification
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return list, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, account string, ids []string) (int, error) {
	filter := "account=eq." + url.QueryEscape(strings.ToLower(account)) + "&read=is.false"
	if len(ids) > 0 {
		escaped := make([]string, len(ids))
		for i, id := range ids {
			escaped[i] = url.QueryEscape(id)
		}
		filter += "&id=in.(" + strings.Join(escaped, ",") + ")"
	}

	patch, err := json.Marshal(map[string]any{"read": true})
	if err != nil {
		return 0, err
	}
	data, err := s.client.Update(ctx, notificationsTable, filter, patch)
	if err != nil {
		return 0, err
	}
	return countOf[notification.Notification](data)
}

func (s *Store) PruneNotifications(ctx context.Context, olderThan time.Time) (int, error) {
	filter := "created_at=lt." + url.QueryEscape(olderThan.UTC().Format(time.RFC3339))
	data, err := s.client.Delete(ctx, notificationsTable, filter)
	if err != nil {
		return 0, err
	}
	return countOf[notification.Notification](data)
}

// --- CursorStore ------------------------------------------------------------------

type cursorDoc struct {
	Name     string `json:"name"`
	BlockNum uint64 `json:"block_num"`
}

func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, error) {
	filter := "name=eq." + url.QueryEscape(name) + "&limit=1"
	data, err := s.client.Select(ctx, cursorsTable, filter)
	if err != nil {
		return 0, err
	}
	var docs []cursorDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	return docs[0].BlockNum, nil
}

func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	body, err := json.Marshal(cursorDoc{Name: name, BlockNum: block})
	if err != nil {
		return err
	}
	_, err = s.client.Upsert(ctx, cursorsTable, body)
	return err
}

// firstOf decodes a single-element JSON array response.
func firstOf[T any](data []byte) (T, error) {
	var zero T
	var list []T
	if err := json.Unmarshal(data, &list); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	if len(list) == 0 {
		return zero, storage.ErrNotFound
	}
	return list[0], nil
}

func countOf[T any](data []byte) (int, error) {
	var list []T
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return len(list), nil
}
