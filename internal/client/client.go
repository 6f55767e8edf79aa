// Package client speaks to the reqtrack server and keeps a reconciled local
// mirror of its position collection. The server is the single source of
// truth; everything here is a copy that must converge back to it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

// API is the server contract the mirror depends on. Tests substitute fakes;
// production uses Client.
type API interface {
	List(ctx context.Context) ([]position.Position, error)
	Create(ctx context.Context, fields normalize.Row) (position.Position, error)
	Update(ctx context.Context, id string, fields map[string]any) (position.Position, error)
}

// Client is the HTTP implementation of API, plus the bulk import call the
// CLI uses.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable — is reqtrack serve running? (%w)", err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// List fetches the authoritative position collection.
func (c *Client) List(ctx context.Context) ([]position.Position, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/positions", nil)
	if err != nil {
		return nil, err
	}
	var positions []position.Position
	if err := decodeJSON(resp, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// Create posts partial fields and returns the server-assigned record.
func (c *Client) Create(ctx context.Context, fields normalize.Row) (position.Position, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/positions", fields)
	if err != nil {
		return position.Position{}, err
	}
	var p position.Position
	if err := decodeJSON(resp, &p); err != nil {
		return position.Position{}, err
	}
	return p, nil
}

// Update sends a partial update for one position. Only the keys present in
// fields are changed server-side.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) (position.Position, error) {
	resp, err := c.do(ctx, http.MethodPut, "/api/positions/"+url.PathEscape(id), fields)
	if err != nil {
		return position.Position{}, err
	}
	var p position.Position
	if err := decodeJSON(resp, &p); err != nil {
		return position.Position{}, err
	}
	return p, nil
}

// Import bulk-ingests raw external rows through the server-side normalizer
// and returns how many were created.
func (c *Client) Import(ctx context.Context, rows []normalize.Row) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/positions/import", rows)
	if err != nil {
		return 0, err
	}
	var result map[string]int
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result["imported"], nil
}

// Health reports whether the server answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
