package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultGiphyBaseURL = "https://api.giphy.com"

	// GiphySearch returns a ranked list; GiphyRandom returns one object.
	GiphySearch = "search"
	GiphyRandom = "random"
)

var errNoGif = errors.New("giphy: response has no usable image")

// GiphyClient looks up a single GIF URL for a tag.
type GiphyClient struct {
	baseURL    string
	endpoint   string
	httpClient *http.Client
}

// NewGiphyClient builds a client against baseURL. endpoint selects the
// search or random API; anything else falls back to search.
func NewGiphyClient(baseURL, endpoint string, timeout time.Duration) *GiphyClient {
	if endpoint != GiphyRandom {
		endpoint = GiphySearch
	}
	return &GiphyClient{
		baseURL:    baseURL,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type giphyImage struct {
	Images struct {
		Original  struct{ URL string `json:"url"` } `json:"original"`
		Downsized struct{ URL string `json:"url"` } `json:"downsized"`
	} `json:"images"`
}

func (g giphyImage) url() string {
	if g.Images.Original.URL != "" {
		return g.Images.Original.URL
	}
	return g.Images.Downsized.URL
}

// RandomGif returns the original-size URL of the first match, or the
// downsized URL when the original is missing.
func (c *GiphyClient) RandomGif(ctx context.Context, apiKey, tag string) (string, error) {
	q := url.Values{}
	q.Set("api_key", apiKey)
	q.Set("rating", "g")
	if c.endpoint == GiphyRandom {
		q.Set("tag", tag)
	} else {
		q.Set("q", tag)
		q.Set("limit", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/gifs/%s?%s", c.baseURL, c.endpoint, q.Encode()), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("giphy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected giphy status: %d", resp.StatusCode)
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode giphy response: %w", err)
	}

	var img giphyImage
	switch data := bytes.TrimSpace(body.Data); {
	case len(data) > 0 && data[0] == '[':
		var list []giphyImage
		if err := json.Unmarshal(data, &list); err != nil {
			return "", fmt.Errorf("decode giphy list: %w", err)
		}
		if len(list) == 0 {
			return "", errNoGif
		}
		img = list[0]
	case len(data) > 0 && data[0] == '{':
		if err := json.Unmarshal(data, &img); err != nil {
			return "", fmt.Errorf("decode giphy object: %w", err)
		}
	default:
		return "", errNoGif
	}

	if u := img.url(); u != "" {
		return u, nil
	}
	return "", errNoGif
}
