// Package chain provides Hive blockchain interaction over condenser_api
// JSON-RPC, with transparent failover across a set of public nodes.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sportsblock/sportsblock/internal/httputil"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 8 * time.Second

	maxResponseBody = 16 << 20
)

// ErrAllNodesFailed is returned when every node in the pool was tried and
// none produced a usable response.
var ErrAllNodesFailed = errors.New("chain: all nodes failed")

// RPCError is a JSON-RPC 2.0 error object from a Hive node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// retryable reports whether the error is worth trying on another node.
// Internal node errors are; malformed requests are not.
func (e *RPCError) retryable() bool {
	return e.Code == -32603
}

// Client is a Hive JSON-RPC client with node failover. The node that last
// answered successfully is preferred for subsequent calls.
type Client struct {
	nodes      []string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	log        *logger.Logger

	mu        sync.Mutex
	preferred int

	requestID atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries sets how many full passes over the node list a call may make.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.maxDelay = d }
}

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Client over the given node URLs.
func NewClient(nodes []string, opts ...Option) (*Client, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("at least one node URL is required")
	}
	c := &Client{
		nodes:      append([]string(nil), nodes...),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		log:        logger.NewDefault("chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call performs a JSON-RPC call, rotating through nodes on retryable
// failures with bounded exponential backoff.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	start := c.preferred
	c.mu.Unlock()

	attempts := len(c.nodes) * c.maxRetries
	if attempts < len(c.nodes) {
		attempts = len(c.nodes)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		idx := (start + attempt) % len(c.nodes)
		node := c.nodes[idx]

		result, err := c.callNode(ctx, node, body)
		if err == nil {
			c.mu.Lock()
			c.preferred = idx
			c.mu.Unlock()
			return result, nil
		}

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && !rpcErr.retryable() {
			return nil, err
		}

		c.log.WithField("node", node).WithField("method", method).WithError(err).Warn("node call failed")
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrAllNodesFailed, lastErr)
}

func (c *Client) callNode(ctx context.Context, node string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("node status %d", resp.StatusCode)
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// =============================================================================
// Condenser API
// =============================================================================

// DynamicGlobalProperties returns chain head state.
func (c *Client) DynamicGlobalProperties(ctx context.Context) (*GlobalProperties, error) {
	result, err := c.Call(ctx, "condenser_api.get_dynamic_global_properties", nil)
	if err != nil {
		return nil, err
	}
	var props GlobalProperties
	if err := json.Unmarshal(result, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

// GetAccounts returns on-chain account records for the given names.
func (c *Client) GetAccounts(ctx context.Context, names []string) ([]Account, error) {
	result, err := c.Call(ctx, "condenser_api.get_accounts", []any{names})
	if err != nil {
		return nil, err
	}
	var accounts []Account
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetContent returns a post or comment by author and permlink.
func (c *Client) GetContent(ctx context.Context, author, permlink string) (*Content, error) {
	result, err := c.Call(ctx, "condenser_api.get_content", []any{author, permlink})
	if err != nil {
		return nil, err
	}
	var content Content
	if err := json.Unmarshal(result, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// DiscussionQuery selects posts for the discussion listing calls.
type DiscussionQuery struct {
	Tag   string `json:"tag"`
	Limit int    `json:"limit"`
}

// GetDiscussionsByCreated returns the newest posts for a tag or community.
func (c *Client) GetDiscussionsByCreated(ctx context.Context, q DiscussionQuery) ([]Content, error) {
	return c.getDiscussions(ctx, "condenser_api.get_discussions_by_created", q)
}

// GetDiscussionsByTrending returns trending posts for a tag or community.
func (c *Client) GetDiscussionsByTrending(ctx context.Context, q DiscussionQuery) ([]Content, error) {
	return c.getDiscussions(ctx, "condenser_api.get_discussions_by_trending", q)
}

// GetDiscussionsByBlog returns an account's blog feed.
func (c *Client) GetDiscussionsByBlog(ctx context.Context, q DiscussionQuery) ([]Content, error) {
	return c.getDiscussions(ctx, "condenser_api.get_discussions_by_blog", q)
}

func (c *Client) getDiscussions(ctx context.Context, method string, q DiscussionQuery) ([]Content, error) {
	result, err := c.Call(ctx, method, []any{q})
	if err != nil {
		return nil, err
	}
	var posts []Content
	if err := json.Unmarshal(result, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// GetBlock returns a block by number.
func (c *Client) GetBlock(ctx context.Context, num uint64) (*Block, error) {
	result, err := c.Call(ctx, "condenser_api.get_block", []any{num})
	if err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(result), []byte("null")) {
		return nil, nil
	}
	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetTransaction returns a confirmed transaction by ID.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*SignedTransaction, error) {
	result, err := c.Call(ctx, "condenser_api.get_transaction", []any{txID})
	if err != nil {
		return nil, err
	}
	var tx SignedTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetAccountHistory returns account operations ending at start (-1 for
// latest). Entries arrive as [index, {...}] pairs.
func (c *Client) GetAccountHistory(ctx context.Context, account string, start int64, limit int) ([]HistoryItem, error) {
	result, err := c.Call(ctx, "condenser_api.get_account_history", []any{account, start, limit})
	if err != nil {
		return nil, err
	}

	var raw [][2]json.RawMessage
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, err
	}

	items := make([]HistoryItem, 0, len(raw))
	for _, pair := range raw {
		var item HistoryItem
		if err := json.Unmarshal(pair[0], &item.Index); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pair[1], &item.Entry); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// BroadcastTransactionSynchronous submits a signed transaction and waits for
// inclusion.
func (c *Client) BroadcastTransactionSynchronous(ctx context.Context, tx *Transaction) (*BroadcastResult, error) {
	result, err := c.Call(ctx, "condenser_api.broadcast_transaction_synchronous", []any{tx})
	if err != nil {
		return nil, err
	}
	var br BroadcastResult
	if err := json.Unmarshal(result, &br); err != nil {
		return nil, err
	}
	return &br, nil
}
