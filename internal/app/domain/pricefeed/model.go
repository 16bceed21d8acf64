package pricefeed

import "time"

// Feed is a configured token price feed, e.g. HIVE/USD.
type Feed struct {
	ID             string    `json:"id"`
	BaseAsset      string    `json:"base_asset"`
	QuoteAsset     string    `json:"quote_asset"`
	Pair           string    `json:"pair"`
	UpdateInterval string    `json:"update_interval"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot is one recorded price observation.
type Snapshot struct {
	ID          string    `json:"id"`
	FeedID      string    `json:"feed_id"`
	Price       float64   `json:"price"`
	Source      string    `json:"source"`
	CollectedAt time.Time `json:"collected_at"`
	CreatedAt   time.Time `json:"created_at"`
}
