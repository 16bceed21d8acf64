// Package pricefeed manages token price feeds and their snapshots.
package pricefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/sportsblock/sportsblock/internal/app/domain/pricefeed"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Service manages feed definitions and serves recorded prices.
type Service struct {
	store storage.PriceFeedStore
	log   *logger.Logger
}

// New constructs the service.
func New(store storage.PriceFeedStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricefeed")
	}
	return &Service{store: store, log: log}
}

// CreateFeed registers a new feed for base/quote.
func (s *Service) CreateFeed(ctx context.Context, baseAsset, quoteAsset, updateInterval string) (pricefeed.Feed, error) {
	baseAsset = strings.ToUpper(strings.TrimSpace(baseAsset))
	quoteAsset = strings.ToUpper(strings.TrimSpace(quoteAsset))
	if baseAsset == "" || quoteAsset == "" {
		return pricefeed.Feed{}, fmt.Errorf("base_asset and quote_asset are required")
	}
	if updateInterval = strings.TrimSpace(updateInterval); updateInterval == "" {
		updateInterval = "@every 1m"
	}

	feed := pricefeed.Feed{
		BaseAsset:      baseAsset,
		QuoteAsset:     quoteAsset,
		Pair:           baseAsset + "/" + quoteAsset,
		UpdateInterval: updateInterval,
		Active:         true,
	}
	feed, err := s.store.CreatePriceFeed(ctx, feed)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	s.log.WithField("feed_id", feed.ID).WithField("pair", feed.Pair).Info("price feed created")
	return feed, nil
}

// SetActive toggles collection for a feed.
func (s *Service) SetActive(ctx context.Context, feedID string, active bool) (pricefeed.Feed, error) {
	feed, err := s.store.GetPriceFeed(ctx, feedID)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	feed.Active = active
	return s.store.UpdatePriceFeed(ctx, feed)
}

// ListFeeds returns all configured feeds.
func (s *Service) ListFeeds(ctx context.Context) ([]pricefeed.Feed, error) {
	return s.store.ListPriceFeeds(ctx)
}

// Latest returns the most recent snapshot for a pair like "HIVE/USD".
func (s *Service) Latest(ctx context.Context, pair string) (pricefeed.Snapshot, error) {
	feed, err := s.feedByPair(ctx, pair)
	if err != nil {
		return pricefeed.Snapshot{}, err
	}
	return s.store.LatestPriceSnapshot(ctx, feed.ID)
}

// History returns recent snapshots for a pair, newest first.
func (s *Service) History(ctx context.Context, pair string, limit int) ([]pricefeed.Snapshot, error) {
	feed, err := s.feedByPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	return s.store.ListPriceSnapshots(ctx, feed.ID, limit)
}

func (s *Service) feedByPair(ctx context.Context, pair string) (pricefeed.Feed, error) {
	pair = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(pair, "-", "/")))
	feeds, err := s.store.ListPriceFeeds(ctx)
	if err != nil {
		return pricefeed.Feed{}, err
	}
	for _, feed := range feeds {
		if feed.Pair == pair {
			return feed, nil
		}
	}
	return pricefeed.Feed{}, storage.ErrNotFound
}
