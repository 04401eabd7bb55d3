// Package search resolves free-text queries to canonical video ids.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrNoResults means the provider worked but found nothing for the
// query. Callers must treat it as a normal outcome, distinct from a
// broken provider.
var ErrNoResults = errors.New("no search results")

// Result is the top match for a query.
type Result struct {
	VideoID string
	Title   string
}

// Searcher is the resolution provider the pipeline depends on.
type Searcher interface {
	Search(ctx context.Context, query string) (*Result, error)
}

// YouTube resolves queries with the Data API v3 search endpoint.
type YouTube struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewYouTube(apiKey string, timeout time.Duration) *YouTube {
	return &YouTube{
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com/youtube/v3",
		client:  &http.Client{Timeout: timeout},
	}
}

// SetBaseURL overrides the API endpoint. Used in tests.
func (y *YouTube) SetBaseURL(u string) { y.baseURL = u }

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

func (y *YouTube) Search(ctx context.Context, query string) (*Result, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", "1")
	params.Set("q", query)
	params.Set("key", y.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube search responded %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	if len(body.Items) == 0 || body.Items[0].ID.VideoID == "" {
		return nil, ErrNoResults
	}
	return &Result{
		VideoID: body.Items[0].ID.VideoID,
		Title:   body.Items[0].Snippet.Title,
	}, nil
}
