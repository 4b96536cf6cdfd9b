// Package news fetches headlines from NewsAPI and turns them into context
// the LLM can talk about.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://newsapi.org/v2"

// Article is the subset of a NewsAPI article the service uses.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

type apiResponse struct {
	Status   string    `json:"status"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Articles []Article `json:"articles"`
}

// Config configures a Client.
type Config struct {
	APIKey   string
	BaseURL  string
	Country  string
	PageSize int
}

// Client talks to the NewsAPI v2 REST endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Client. A nil httpClient gets a 10 second timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = "us"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// TopHeadlines fetches the current top headlines, optionally for a category.
func (c *Client) TopHeadlines(ctx context.Context, category string) ([]Article, error) {
	params := url.Values{}
	params.Set("country", c.cfg.Country)
	params.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	if category != "" {
		params.Set("category", category)
	}
	return c.get(ctx, "/top-headlines", params)
}

// Search looks up English articles matching query, most relevant first.
func (c *Client) Search(ctx context.Context, query string) ([]Article, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("sortBy", "relevancy")
	params.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	params.Set("language", "en")
	return c.get(ctx, "/everything", params)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]Article, error) {
	params.Set("apiKey", c.cfg.APIKey)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("newsapi error %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || payload.Status != "ok" {
		msg := payload.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("newsapi error %d: %s", resp.StatusCode, msg)
	}
	return payload.Articles, nil
}
