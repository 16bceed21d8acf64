package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// hiveTimeLayout is the timestamp format used by Hive nodes (UTC, no zone).
const hiveTimeLayout = "2006-01-02T15:04:05"

// Time wraps time.Time with Hive's JSON encoding.
type Time struct {
	time.Time
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(hiveTimeLayout))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(hiveTimeLayout, s)
	if err != nil {
		return fmt.Errorf("parse chain time %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// Asset is an amount string like "1.234 HIVE" or "0.500 HBD".
type Asset string

// Parse splits the asset into value and symbol.
func (a Asset) Parse() (float64, string, error) {
	parts := strings.Fields(string(a))
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed asset %q", a)
	}
	value, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed asset amount %q: %w", a, err)
	}
	return value, parts[1], nil
}

// FormatAsset renders value and symbol as Hive expects, three decimals.
func FormatAsset(value float64, symbol string) Asset {
	return Asset(fmt.Sprintf("%.3f %s", value, strings.ToUpper(symbol)))
}

// GlobalProperties is the chain head state from get_dynamic_global_properties.
type GlobalProperties struct {
	HeadBlockNumber          uint64 `json:"head_block_number"`
	HeadBlockID              string `json:"head_block_id"`
	LastIrreversibleBlockNum uint64 `json:"last_irreversible_block_num"`
	Time                     Time   `json:"time"`
	CurrentWitness           string `json:"current_witness"`
}

// Account is an on-chain account from get_accounts.
type Account struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Balance         Asset           `json:"balance"`
	HBDBalance      Asset           `json:"hbd_balance"`
	JSONMetadata    string          `json:"json_metadata"`
	PostingMetadata string          `json:"posting_json_metadata"`
	Reputation      json.RawMessage `json:"reputation"`
	PostCount       int             `json:"post_count"`
	Created         Time            `json:"created"`
}

// Content is a post or comment from get_content / get_discussions_by_*.
// A missing post comes back with empty author and permlink.
type Content struct {
	Author             string `json:"author"`
	Permlink           string `json:"permlink"`
	ParentAuthor       string `json:"parent_author"`
	ParentPermlink     string `json:"parent_permlink"`
	Category           string `json:"category"`
	Title              string `json:"title"`
	Body               string `json:"body"`
	JSONMetadata       string `json:"json_metadata"`
	Created            Time   `json:"created"`
	LastUpdate         Time   `json:"last_update"`
	Children           int    `json:"children"`
	NetVotes           int    `json:"net_votes"`
	PendingPayoutValue Asset  `json:"pending_payout_value"`
	TotalPayoutValue   Asset  `json:"total_payout_value"`
}

// IsEmpty reports whether the node returned a placeholder for a missing
// post.
func (c *Content) IsEmpty() bool {
	return c.Author == "" && c.Permlink == ""
}

// Block is a block from get_block.
type Block struct {
	Previous       string              `json:"previous"`
	Timestamp      Time                `json:"timestamp"`
	Witness        string              `json:"witness"`
	TransactionIDs []string            `json:"transaction_ids"`
	Transactions   []SignedTransaction `json:"transactions"`
}

// SignedTransaction is a transaction as it appears inside a block or from
// get_transaction.
type SignedTransaction struct {
	RefBlockNum    uint32      `json:"ref_block_num"`
	RefBlockPrefix uint32      `json:"ref_block_prefix"`
	Expiration     Time        `json:"expiration"`
	Operations     []Operation `json:"operations"`
	Signatures     []string    `json:"signatures"`
	TransactionID  string      `json:"transaction_id,omitempty"`
	BlockNum       uint64      `json:"block_num,omitempty"`
}

// HistoryItem is one entry from get_account_history.
type HistoryItem struct {
	Index int64
	Entry HistoryEntry
}

// HistoryEntry describes the operation and where it was included.
type HistoryEntry struct {
	TrxID     string    `json:"trx_id"`
	Block     uint64    `json:"block"`
	Timestamp Time      `json:"timestamp"`
	Op        Operation `json:"op"`
}

// BroadcastResult is the response of broadcast_transaction_synchronous.
type BroadcastResult struct {
	ID       string `json:"id"`
	BlockNum uint64 `json:"block_num"`
	TrxNum   int    `json:"trx_num"`
	Expired  bool   `json:"expired"`
}
