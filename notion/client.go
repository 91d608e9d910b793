package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultBaseURL = "https://api.notion.com"
	// DefaultVersion is the Notion-Version header sent with every request.
	DefaultVersion = "2022-06-28"
)

// Config holds configuration for a Client. Token is the caller's bearer
// token; a Client is cheap and is normally built per request.
type Config struct {
	Token      string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues requests against the database API.
type Client struct {
	config Config
}

// NewClient creates a Client, filling defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{config: cfg}
}

// QueryDatabase runs a query against a database and returns one page of
// results.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) (*QueryResult, error) {
	if databaseID == "" {
		return nil, fmt.Errorf("notion: query database: empty database id")
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/databases/"+url.PathEscape(databaseID)+"/query", q)
	if err != nil {
		return nil, fmt.Errorf("notion: query database %s: %w", databaseID, err)
	}
	res, err := DecodeQueryResult(body)
	if err != nil {
		return nil, fmt.Errorf("notion: %w", err)
	}
	c.config.Logger.Debug("queried database",
		slog.String("database_id", databaseID),
		slog.Int("results", len(res.Results)),
		slog.Bool("has_more", res.HasMore),
	)
	return res, nil
}

// RetrievePage fetches a single page by ID.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/pages/"+url.PathEscape(pageID), nil)
	if err != nil {
		return nil, fmt.Errorf("notion: retrieve page %s: %w", pageID, err)
	}
	p, err := DecodePage(body)
	if err != nil {
		return nil, fmt.Errorf("notion: %w", err)
	}
	return &p, nil
}

// CreatePage creates a page in the database named by req.Parent.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/pages", req)
	if err != nil {
		return nil, fmt.Errorf("notion: create page: %w", err)
	}
	p, err := DecodePage(body)
	if err != nil {
		return nil, fmt.Errorf("notion: %w", err)
	}
	return &p, nil
}

// UpdatePage patches the given properties on a page.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props map[string]Property) (*Page, error) {
	reqBody := struct {
		Properties map[string]Property `json:"properties"`
	}{Properties: props}
	body, err := c.do(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(pageID), reqBody)
	if err != nil {
		return nil, fmt.Errorf("notion: update page %s: %w", pageID, err)
	}
	p, err := DecodePage(body)
	if err != nil {
		return nil, fmt.Errorf("notion: %w", err)
	}
	return &p, nil
}

// do sends an authenticated request and returns the response body. Non-2xx
// responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var payload io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Notion-Version", c.config.Version)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}
