package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"widgetbridge/pkg/types"
)

// Client is the HTTP SessionService used by host controllers when the
// persistence layer lives on another server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the API at baseURL. httpClient nil
// selects a 10-second-timeout default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SessionForWidget fetches GET /api/widgets/{id}/session.
func (c *Client) SessionForWidget(ctx context.Context, widgetID string) (*types.SessionInfo, error) {
	var session types.SessionInfo
	err := c.do(ctx, http.MethodGet, "/api/widgets/"+widgetID+"/session", nil, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateScore posts to /api/widgets/{id}/score.
func (c *Client) UpdateScore(ctx context.Context, update *types.ScoreUpdate) (int, error) {
	var resp DocScoreResponse
	err := c.do(ctx, http.MethodPost, "/api/widgets/"+update.WidgetID+"/score", update, &resp)
	if err != nil {
		return 0, err
	}
	return resp.DocScore, nil
}

// UpdateWidgetSession posts to /api/widgets/{id}/session.
func (c *Client) UpdateWidgetSession(ctx context.Context, update *types.SessionUpdate) (int, error) {
	var resp DocScoreResponse
	err := c.do(ctx, http.MethodPost, "/api/widgets/"+update.WidgetID+"/session", update, &resp)
	if err != nil {
		return 0, err
	}
	return resp.DocScore, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("api returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
