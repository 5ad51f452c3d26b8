package provider_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/provider"
)

func jsonServer(t *testing.T, path, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestGiphy_SearchVariant(t *testing.T) {
	srv := jsonServer(t, "/v1/gifs/search",
		`{"data":[{"images":{"original":{"url":"https://g/orig.gif"},"downsized":{"url":"https://g/small.gif"}}}]}`,
		func(r *http.Request) {
			q := r.URL.Query()
			if q.Get("api_key") != "k" || q.Get("q") != "waiting in line" || q.Get("limit") != "1" || q.Get("rating") != "g" {
				t.Errorf("unexpected query %v", q)
			}
		})
	defer srv.Close()

	url, err := provider.NewGiphyClient(srv.URL, provider.GiphySearch, time.Second).
		RandomGif(context.Background(), "k", "waiting in line")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://g/orig.gif" {
		t.Fatalf("expected original url, got %q", url)
	}
}

func TestGiphy_RandomVariantFallsBackToDownsized(t *testing.T) {
	srv := jsonServer(t, "/v1/gifs/random",
		`{"data":{"images":{"original":{"url":""},"downsized":{"url":"https://g/small.gif"}}}}`,
		func(r *http.Request) {
			if r.URL.Query().Get("tag") != "queue" {
				t.Errorf("expected tag param, got %v", r.URL.Query())
			}
		})
	defer srv.Close()

	url, err := provider.NewGiphyClient(srv.URL, provider.GiphyRandom, time.Second).
		RandomGif(context.Background(), "k", "queue")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://g/small.gif" {
		t.Fatalf("expected downsized url, got %q", url)
	}
}

func TestGiphy_EmptyResult(t *testing.T) {
	srv := jsonServer(t, "/v1/gifs/search", `{"data":[]}`, nil)
	defer srv.Close()

	if _, err := provider.NewGiphyClient(srv.URL, "", time.Second).RandomGif(context.Background(), "k", "x"); err == nil {
		t.Fatal("expected error for empty result")
	}
}

func TestGiphy_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := provider.NewGiphyClient(srv.URL, "", time.Second).RandomGif(context.Background(), "bad", "x"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestReddit_FetchTitle(t *testing.T) {
	srv := jsonServer(t, "/api/info.json",
		`{"data":{"children":[{"data":{"title":"Rule 3 question"}}]}}`,
		func(r *http.Request) {
			if r.URL.Query().Get("id") != "t3_abc" {
				t.Errorf("expected prefixed id, got %q", r.URL.Query().Get("id"))
			}
			if r.Header.Get("User-Agent") != "modqueue-notifier/test" {
				t.Errorf("missing user agent")
			}
		})
	defer srv.Close()

	title, err := provider.NewRedditTitleFetcher(srv.URL, "modqueue-notifier/test", time.Second).
		FetchTitle(context.Background(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if title != "Rule 3 question" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestReddit_MissingPost(t *testing.T) {
	srv := jsonServer(t, "/api/info.json", `{"data":{"children":[]}}`, nil)
	defer srv.Close()

	_, err := provider.NewRedditTitleFetcher(srv.URL, "ua", time.Second).FetchTitle(context.Background(), "t3_gone")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
