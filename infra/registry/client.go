// Package registry is the HTTP client of the admin registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/seta/core/model"
	coreregistry "github.com/kilianp07/seta/core/registry"
)

// Config locates the admin server.
type Config struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// Client talks to the admin REST API.
type Client struct {
	base string
	http *http.Client
}

var _ coreregistry.Registry = (*Client)(nil)

// NewClient returns a client for the admin server at cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("registry url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{base: strings.TrimRight(cfg.URL, "/"), http: &http.Client{Timeout: timeout}}, nil
}

// Register adds the taxi to the fleet.
func (c *Client) Register(ctx context.Context, id model.TaxiIdentity) (coreregistry.Registration, error) {
	var reg coreregistry.Registration
	err := c.do(ctx, http.MethodPost, "/taxis", id, http.StatusCreated, &reg)
	return reg, err
}

// Deregister removes the taxi from the fleet.
func (c *Client) Deregister(ctx context.Context, taxiID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/taxis/%d", taxiID), nil, http.StatusNoContent, nil)
}

// LoadStatistics sends a statistics report.
func (c *Client) LoadStatistics(ctx context.Context, st model.Statistics) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/taxis/%d/statistics", st.TaxiID), st, http.StatusAccepted, nil)
}

// List returns the registered taxis.
func (c *Client) List(ctx context.Context) ([]coreregistry.Entry, error) {
	var entries []coreregistry.Entry
	err := c.do(ctx, http.MethodGet, "/taxis", nil, http.StatusOK, &entries)
	return entries, err
}

// Report returns the statistics of a taxi.
func (c *Client) Report(ctx context.Context, taxiID int) (coreregistry.Report, error) {
	var rep coreregistry.Report
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/taxis/%d/statistics", taxiID), nil, http.StatusOK, &rep)
	return rep, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case want:
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, coreregistry.ErrConflict)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, coreregistry.ErrNotFound)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
