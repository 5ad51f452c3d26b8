package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

const DefaultRedditBaseURL = "https://www.reddit.com"

// RedditTitleFetcher resolves post ids through the public info endpoint.
type RedditTitleFetcher struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewRedditTitleFetcher(baseURL, userAgent string, timeout time.Duration) *RedditTitleFetcher {
	return &RedditTitleFetcher{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchTitle accepts a bare or t3_-prefixed post id.
func (f *RedditTitleFetcher) FetchTitle(ctx context.Context, postID string) (string, error) {
	if !strings.HasPrefix(postID, domain.PrefixSubmission) {
		postID = domain.PrefixSubmission + postID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/api/info.json?id="+url.QueryEscape(postID), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected reddit status: %d", resp.StatusCode)
	}

	var listing struct {
		Data struct {
			Children []struct {
				Data struct {
					Title string `json:"title"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return "", fmt.Errorf("decode reddit listing: %w", err)
	}
	if len(listing.Data.Children) == 0 {
		return "", fmt.Errorf("post %s: %w", postID, domain.ErrNotFound)
	}
	return listing.Data.Children[0].Data.Title, nil
}
