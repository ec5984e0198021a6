// Package ingestapi posts collector payloads to the buildpulse ingestion endpoint.
package ingestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IngestClient = (*Client)(nil)

// Client implements driven.IngestClient over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL (e.g. http://localhost:8001).
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

// Ingest POSTs payload to /ingest/{provider}. A non-200 answer is returned as
// an error carrying the server's message.
func (c *Client) Ingest(ctx context.Context, provider model.Provider, payload model.IngestPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/ingest/" + url.PathEscape(string(provider))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiErr struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)

	switch {
	case apiErr.Field != "":
		return fmt.Errorf("post %s: status %d: %s (field %s)", endpoint, resp.StatusCode, apiErr.Error, apiErr.Field)
	case apiErr.Error != "":
		return fmt.Errorf("post %s: status %d: %s", endpoint, resp.StatusCode, apiErr.Error)
	default:
		return fmt.Errorf("post %s: status %d", endpoint, resp.StatusCode)
	}
}
