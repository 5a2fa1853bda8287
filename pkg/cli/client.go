package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/reindexer/pkg/httputil"
	"github.com/platinummonkey/reindexer/pkg/job"
	"github.com/platinummonkey/reindexer/pkg/search"
)

// Client talks to the search indexer HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Reindex requests a reindex of classes, or of every class when empty, and
// returns the id of the queued message
func (c *Client) Reindex(ctx context.Context, classes []string) (string, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/reindex", search.ReindexRequest{Classes: classes}, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// JobStatus returns a job with its children
func (c *Client) JobStatus(ctx context.Context, id int64) (*job.JobStatus, error) {
	var status job.JobStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+strconv.FormatInt(id, 10), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Interrupt cancels the pending children of a root job
func (c *Client) Interrupt(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+strconv.FormatInt(id, 10)+"/interrupt", nil, nil)
}

// Classes lists the registered entity classes
func (c *Client) Classes(ctx context.Context) ([]string, error) {
	var resp struct {
		Classes []string `json:"classes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/classes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Classes, nil
}

// Search queries the index
func (c *Client) Search(ctx context.Context, class, query string, limit int) ([]search.Hit, error) {
	params := url.Values{}
	params.Set("q", query)
	if class != "" {
		params.Set("class", class)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Hits []search.Hit `json:"hits"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.WithFields(logrus.Fields{"method": method, "url": req.URL.String()}).Debug("Calling search indexer")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
