// Package feeds serves merged content feeds from the chain and the soft
// post store.
package feeds

import (
	"context"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/metrics"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/chain"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

const defaultLimit = 20

// Service reads discussions from the chain and merges in soft posts.
type Service struct {
	client *chain.Client
	posts  storage.PostStore
	log    *logger.Logger
}

// New constructs the feed service. posts may be nil when soft posts are
// disabled.
func New(client *chain.Client, posts storage.PostStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("feeds")
	}
	return &Service{client: client, posts: posts, log: log}
}

// Trending returns the trending feed for a tag.
func (s *Service) Trending(ctx context.Context, tag string, limit int) ([]post.FeedItem, error) {
	return s.chainFeed(ctx, tag, limit, s.client.GetDiscussionsByTrending)
}

// Created returns the newest-first feed for a tag with soft posts merged in.
func (s *Service) Created(ctx context.Context, tag string, limit int) ([]post.FeedItem, error) {
	items, err := s.chainFeed(ctx, tag, limit, s.client.GetDiscussionsByCreated)
	if err != nil {
		return nil, err
	}
	return s.mergeSoft(ctx, items, limit)
}

// Blog returns an account's own posts, soft posts included.
func (s *Service) Blog(ctx context.Context, account string, limit int) ([]post.FeedItem, error) {
	account = strings.ToLower(strings.TrimSpace(account))
	items, err := s.chainFeed(ctx, account, limit, s.client.GetDiscussionsByBlog)
	if err != nil {
		return nil, err
	}

	if s.posts != nil {
		soft, err := s.posts.ListSoftPosts(ctx, account, limit)
		if err != nil {
			s.log.WithError(err).Warn("soft post lookup failed, serving chain feed only")
		} else {
			for _, sp := range soft {
				items = append(items, softItem(sp))
			}
		}
	}
	return sortAndCap(items, limit), nil
}

func (s *Service) chainFeed(ctx context.Context, tag string, limit int, fetch func(context.Context, chain.DiscussionQuery) ([]chain.Content, error)) ([]post.FeedItem, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	contents, err := fetch(ctx, chain.DiscussionQuery{Tag: strings.TrimSpace(tag), Limit: limit})
	metrics.RecordChainCall("condenser_api.get_discussions", err)
	if err != nil {
		return nil, err
	}

	items := make([]post.FeedItem, 0, len(contents))
	for _, c := range contents {
		items = append(items, chainItem(c))
	}
	// Nodes may ignore the requested limit.
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Service) mergeSoft(ctx context.Context, items []post.FeedItem, limit int) ([]post.FeedItem, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	if s.posts != nil {
		soft, err := s.posts.ListSoftPosts(ctx, "", limit)
		if err != nil {
			s.log.WithError(err).Warn("soft post lookup failed, serving chain feed only")
		} else {
			for _, sp := range soft {
				items = append(items, softItem(sp))
			}
		}
	}
	return sortAndCap(items, limit), nil
}

func chainItem(c chain.Content) post.FeedItem {
	payout, _, _ := c.PendingPayoutValue.Parse()
	if payout == 0 {
		payout, _, _ = c.TotalPayoutValue.Parse()
	}

	var tags []string
	if meta := gjson.Get(c.JSONMetadata, "tags"); meta.IsArray() {
		for _, t := range meta.Array() {
			tags = append(tags, t.String())
		}
	}

	return post.FeedItem{
		Author:    c.Author,
		Permlink:  c.Permlink,
		Title:     c.Title,
		Body:      c.Body,
		Tags:      tags,
		Community: c.Category,
		Votes:     c.NetVotes,
		Replies:   c.Children,
		PayoutHBD: payout,
		CreatedAt: c.Created.Time,
	}
}

func softItem(sp post.SoftPost) post.FeedItem {
	return post.FeedItem{
		Author:    sp.Author,
		Permlink:  sp.Permlink,
		Title:     sp.Title,
		Body:      sp.Body,
		Tags:      sp.Tags,
		Community: sp.Community,
		Soft:      true,
		CreatedAt: sp.CreatedAt,
	}
}

func sortAndCap(items []post.FeedItem, limit int) []post.FeedItem {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
