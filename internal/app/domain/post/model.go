package post

import "time"

// SoftPost is a database-resident post mirroring the shape of an on-chain
// comment operation. Users without a blockchain account publish these.
type SoftPost struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Permlink  string    `json:"permlink"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Community string    `json:"community,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedItem is the normalized view served by feed endpoints, covering both
// on-chain discussions and soft posts.
type FeedItem struct {
	Author    string    `json:"author"`
	Permlink  string    `json:"permlink"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Community string    `json:"community,omitempty"`
	Votes     int       `json:"votes"`
	Replies   int       `json:"replies"`
	PayoutHBD float64   `json:"payout_hbd"`
	Soft      bool      `json:"soft"`
	CreatedAt time.Time `json:"created_at"`
}
