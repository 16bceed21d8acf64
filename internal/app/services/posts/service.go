// Package posts manages soft posts and publishes custodial content on chain.
package posts

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/metrics"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/chain"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// SignerProvider hands out the posting-key signer for a custodial account.
type SignerProvider interface {
	PostingSigner(ctx context.Context, hiveAccount string) (chain.Signer, error)
}

// Service stores soft posts and broadcasts comment operations for users
// whose keys the platform holds.
type Service struct {
	store   storage.PostStore
	client  *chain.Client
	signers SignerProvider
	chainID string
	log     *logger.Logger
}

// New constructs the post service. client and signers may be nil for a
// deployment that serves soft posts only.
func New(store storage.PostStore, client *chain.Client, signers SignerProvider, chainID string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("posts")
	}
	return &Service{store: store, client: client, signers: signers, chainID: chainID, log: log}
}

// CreateParams carries a post submission.
type CreateParams struct {
	Title     string
	Body      string
	Tags      []string
	Community string
}

func (p CreateParams) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("body is required")
	}
	if len(p.Tags) > 10 {
		return fmt.Errorf("at most 10 tags")
	}
	return nil
}

// CreateSoft stores a database-resident post for the author.
func (s *Service) CreateSoft(ctx context.Context, author string, params CreateParams) (post.SoftPost, error) {
	if err := params.validate(); err != nil {
		return post.SoftPost{}, err
	}
	author = strings.ToLower(strings.TrimSpace(author))
	if author == "" {
		return post.SoftPost{}, fmt.Errorf("author is required")
	}

	sp := post.SoftPost{
		Author:    author,
		Permlink:  Permlink(params.Title),
		Title:     strings.TrimSpace(params.Title),
		Body:      params.Body,
		Tags:      normalizeTags(params.Tags),
		Community: strings.TrimSpace(params.Community),
	}
	sp, err := s.store.CreateSoftPost(ctx, sp)
	if err != nil {
		return post.SoftPost{}, err
	}
	s.log.WithField("author", author).WithField("permlink", sp.Permlink).Info("soft post created")
	return sp, nil
}

// GetSoft returns a soft post by ID.
func (s *Service) GetSoft(ctx context.Context, id string) (post.SoftPost, error) {
	return s.store.GetSoftPost(ctx, id)
}

// ListSoft returns recent soft posts, optionally filtered by author.
func (s *Service) ListSoft(ctx context.Context, author string, limit int) ([]post.SoftPost, error) {
	return s.store.ListSoftPosts(ctx, strings.ToLower(strings.TrimSpace(author)), limit)
}

// UpdateSoft edits a soft post owned by the caller.
func (s *Service) UpdateSoft(ctx context.Context, id, author string, params CreateParams) (post.SoftPost, error) {
	if err := params.validate(); err != nil {
		return post.SoftPost{}, err
	}
	sp, err := s.store.GetSoftPost(ctx, id)
	if err != nil {
		return post.SoftPost{}, err
	}
	if !strings.EqualFold(sp.Author, author) {
		return post.SoftPost{}, fmt.Errorf("only the author may edit")
	}
	sp.Title = strings.TrimSpace(params.Title)
	sp.Body = params.Body
	sp.Tags = normalizeTags(params.Tags)
	sp.Community = strings.TrimSpace(params.Community)
	return s.store.UpdateSoftPost(ctx, sp)
}

// DeleteSoft soft-deletes a post owned by the caller.
func (s *Service) DeleteSoft(ctx context.Context, id, author string) error {
	sp, err := s.store.GetSoftPost(ctx, id)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sp.Author, author) {
		return fmt.Errorf("only the author may delete")
	}
	return s.store.DeleteSoftPost(ctx, id)
}

// Publish broadcasts a comment operation for a custodial account, putting
// the post on chain. Returns the broadcast transaction ID and the permlink.
func (s *Service) Publish(ctx context.Context, hiveAccount string, params CreateParams) (string, string, error) {
	if err := params.validate(); err != nil {
		return "", "", err
	}
	if s.client == nil || s.signers == nil {
		return "", "", fmt.Errorf("chain publishing is not configured")
	}
	hiveAccount = strings.ToLower(strings.TrimSpace(hiveAccount))

	signer, err := s.signers.PostingSigner(ctx, hiveAccount)
	if err != nil {
		return "", "", err
	}

	props, err := s.client.DynamicGlobalProperties(ctx)
	metrics.RecordChainCall("condenser_api.get_dynamic_global_properties", err)
	if err != nil {
		return "", "", fmt.Errorf("fetch chain head: %w", err)
	}

	permlink := Permlink(params.Title)
	tags := normalizeTags(params.Tags)
	parentPermlink := "sportsblock"
	if params.Community != "" {
		parentPermlink = strings.TrimSpace(params.Community)
	} else if len(tags) > 0 {
		parentPermlink = tags[0]
	}

	meta, err := json.Marshal(map[string]any{"tags": tags, "app": "sportsblock/1.0"})
	if err != nil {
		return "", "", err
	}
	op, err := chain.NewCommentOp(chain.CommentPayload{
		ParentPermlink: parentPermlink,
		Author:         hiveAccount,
		Permlink:       permlink,
		Title:          strings.TrimSpace(params.Title),
		Body:           params.Body,
		JSONMetadata:   string(meta),
	})
	if err != nil {
		return "", "", err
	}

	tx, err := chain.NewTransaction(props, 0)
	if err != nil {
		return "", "", err
	}
	tx.AddOperation(op)
	if err := tx.Sign(s.chainID, signer); err != nil {
		return "", "", err
	}

	result, err := s.client.BroadcastTransactionSynchronous(ctx, tx)
	metrics.RecordChainCall("condenser_api.broadcast_transaction_synchronous", err)
	if err != nil {
		return "", "", fmt.Errorf("broadcast comment: %w", err)
	}

	s.log.WithField("author", hiveAccount).WithField("permlink", permlink).Info("post published on chain")
	return result.ID, permlink, nil
}

var permlinkStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// Permlink derives a chain-safe permlink from a title, suffixed with a
// timestamp so edits never collide.
func Permlink(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = permlinkStrip.ReplaceAllString(slug, "")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = slug[:60]
	}
	if slug == "" {
		slug = "post"
	}
	return fmt.Sprintf("%s-%d", slug, time.Now().UnixMilli())
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
