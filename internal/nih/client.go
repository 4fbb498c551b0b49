// Package nih calls the NIH RePORTER projects search API.
package nih

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

const searchPath = "/v2/projects/search"

// ErrBadStatus wraps any non-2xx answer from RePORTER.
var ErrBadStatus = errors.New("nih: unexpected status")

// SearchRequest is the RePORTER request body.
type SearchRequest struct {
	Criteria  model.Criteria `json:"criteria"`
	Offset    int            `json:"offset"`
	Limit     int            `json:"limit"`
	SortField string         `json:"sort_field"`
	SortOrder string         `json:"sort_order"`
}

type searchResponse struct {
	Results []model.Project `json:"results"`
}

// Client talks to one RePORTER base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

// Search posts req and returns the decoded results. A zero-length result set
// is a success.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]model.Project, error) {
	if req.Criteria == nil {
		req.Criteria = model.Criteria{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("nih: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nih: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nih: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d: %s", ErrBadStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("nih: decode response: %w", err)
	}
	if out.Results == nil {
		out.Results = []model.Project{}
	}
	return out.Results, nil
}
