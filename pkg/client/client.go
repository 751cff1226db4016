// Package client is an in-process consumer of the quota API: it resolves an
// identity once, caches the quota state for the lifetime of the client, and
// re-syncs with server truth after every consumption.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
)

// State is the cached quota view for the resolved identity.
type State struct {
	QuotaID    string `json:"userId"`
	SessionID  string `json:"sessionId"`
	UsageCount int    `json:"generationsUsed"`
	UsageLimit int    `json:"maxGenerations"`
	CanUseMore bool   `json:"canGenerate"`
}

// Client caches the resolved identity and quota state. The session cookie is
// carried in an internal jar, so repeated calls present the same identity.
//
// Safe for concurrent use. After Close, late-arriving responses are dropped
// rather than applied to the cached state.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu      sync.Mutex
	state   State
	loading bool
	closed  bool
}

// New creates a client for the quota service at baseURL.
func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Jar: jar},
	}, nil
}

// Init performs the single resolution call that seeds the cache. Call once;
// CheckRateLimit reads the cached result afterwards.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.loading = true
	c.mu.Unlock()

	var st State
	err := c.post(ctx, "/api/auth/anonymous", nil, &st)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if c.closed {
		// Closed while the request was in flight; drop the update.
		return fmt.Errorf("client is closed")
	}
	if err != nil {
		return err
	}
	c.state = st
	return nil
}

// CheckRateLimit is a pure read of the cached CanUseMore. It never blocks
// and never touches the network.
func (c *Client) CheckRateLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CanUseMore
}

// IsLoading reports whether the initial resolution is still in flight.
func (c *Client) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// State returns a snapshot of the cached quota state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConsumeOne reports a consumption to the server and merges the returned
// counters into the cache. The identity fields are untouched; only counters
// move.
func (c *Client) ConsumeOne(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	quotaID := c.state.QuotaID
	c.mu.Unlock()

	if quotaID == "" {
		return fmt.Errorf("client not initialized")
	}

	var usage struct {
		UsageCount int  `json:"generationsUsed"`
		UsageLimit int  `json:"maxGenerations"`
		CanUseMore bool `json:"canGenerate"`
	}
	body := map[string]string{"userId": quotaID}
	if err := c.post(ctx, "/api/auth/anonymous/increment", body, &usage); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.state.UsageCount = usage.UsageCount
	c.state.UsageLimit = usage.UsageLimit
	c.state.CanUseMore = usage.CanUseMore
	return nil
}

// Close marks the client dead; any in-flight response is discarded.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s (HTTP %d)", path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
