// Package docstore is a thin REST client for a PostgREST-compatible document
// database, plus typed stores for the collections that live there rather than
// in the relational store.
package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/internal/httputil"
)

// maxResponseBody caps how much of a response we are willing to buffer.
const maxResponseBody = 4 << 20

// Config holds connection settings for the document store.
type Config struct {
	URL        string
	APIKey     string
	ServiceKey string
	Timeout    time.Duration
}

// Client performs REST calls against the document store.
type Client struct {
	cfg    Config
	prefix string
	http   *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("docstore URL is required")
	}
	if cfg.ServiceKey == "" && cfg.APIKey == "" {
		return nil, fmt.Errorf("docstore key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		prefix: strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// Select performs a GET on a table. filter is a pre-encoded query string.
func (c *Client) Select(ctx context.Context, table, filter string) ([]byte, error) {
	reqURL := c.tableURL(table)
	if filter != "" {
		reqURL += "?" + filter
	}
	return c.do(ctx, http.MethodGet, reqURL, nil, nil)
}

// Insert POSTs a JSON document into a table.
func (c *Client) Insert(ctx context.Context, table string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.tableURL(table), body, map[string]string{
		"Prefer": "return=representation",
	})
}

// Upsert POSTs a document, merging on conflict.
func (c *Client) Upsert(ctx context.Context, table string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.tableURL(table), body, map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	})
}

// Update PATCHes documents matching filter.
func (c *Client) Update(ctx context.Context, table, filter string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, c.tableURL(table)+"?"+filter, body, map[string]string{
		"Prefer": "return=representation",
	})
}

// Delete removes documents matching filter and returns the removed rows.
func (c *Client) Delete(ctx context.Context, table, filter string) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, c.tableURL(table)+"?"+filter, nil, map[string]string{
		"Prefer": "return=representation",
	})
}

func (c *Client) tableURL(table string) string {
	return c.prefix + "/" + url.PathEscape(table)
}

func (c *Client) do(ctx context.Context, method, reqURL string, body []byte, headers map[string]string) ([]byte, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, err
	}

	key := c.cfg.ServiceKey
	if key == "" {
		key = c.cfg.APIKey
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docstore request: %w", err)
	}
	defer resp.Body.Close()

	data, err := httputil.ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("docstore response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNotAcceptable:
		return nil, storage.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, storage.ErrConflict
	case resp.StatusCode >= 400:
		return nil, &Error{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Error is a non-success response from the document store.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("docstore: status %d: %s", e.Status, e.Body)
}

// IsStatus reports whether err is a docstore Error with the given status.
func IsStatus(err error, status int) bool {
	var de *Error
	return errors.As(err, &de) && de.Status == status
}
