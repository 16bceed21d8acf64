package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sportsblock/sportsblock/internal/app/domain/pricefeed"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/httputil"
	"github.com/sportsblock/sportsblock/internal/system"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

const maxPriceResponse = 1 << 20

// assetIDs maps stake symbols to the price source's coin identifiers.
var assetIDs = map[string]string{
	"HIVE": "hive",
	"HBD":  "hive_dollar",
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
}

var _ system.Service = (*Refresher)(nil)

// Refresher polls the price source for every active feed and records
// snapshots.
type Refresher struct {
	store     storage.PriceFeedStore
	sourceURL string
	interval  time.Duration
	client    *http.Client
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher builds the poller. sourceURL is a simple-price style endpoint
// answering ids/vs_currencies queries.
func NewRefresher(store storage.PriceFeedStore, sourceURL string, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("pricefeed-refresher")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		store:     store,
		sourceURL: sourceURL,
		interval:  interval,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log,
	}
}

func (r *Refresher) Name() string { return "pricefeed-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.RefreshAll(runCtx); err != nil {
					r.log.WithError(err).Warn("price refresh failed")
				}
			}
		}
	}()

	r.log.WithField("interval", r.interval.String()).Info("price feed refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAll fetches a price for every active feed and stores a snapshot.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	feeds, err := r.store.ListPriceFeeds(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for _, feed := range feeds {
		if !feed.Active {
			continue
		}
		price, err := r.fetch(ctx, feed)
		if err != nil {
			r.log.WithError(err).WithField("pair", feed.Pair).Warn("price fetch failed")
			lastErr = err
			continue
		}
		snap := pricefeed.Snapshot{
			FeedID:      feed.ID,
			Price:       price,
			Source:      r.sourceURL,
			CollectedAt: time.Now().UTC(),
		}
		if _, err := r.store.CreatePriceSnapshot(ctx, snap); err != nil {
			r.log.WithError(err).WithField("pair", feed.Pair).Error("store snapshot")
			lastErr = err
		}
	}
	return lastErr
}

func (r *Refresher) fetch(ctx context.Context, feed pricefeed.Feed) (float64, error) {
	coinID, ok := assetIDs[feed.BaseAsset]
	if !ok {
		coinID = strings.ToLower(feed.BaseAsset)
	}
	vs := strings.ToLower(feed.QuoteAsset)

	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", vs)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.sourceURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price source returned %d for %s", resp.StatusCode, feed.Pair)
	}
	body, err := httputil.ReadAllStrict(resp.Body, maxPriceResponse)
	if err != nil {
		return 0, err
	}

	result := gjson.GetBytes(body, coinID+"."+vs)
	if !result.Exists() {
		return 0, fmt.Errorf("price source has no quote for %s", feed.Pair)
	}
	return result.Float(), nil
}
