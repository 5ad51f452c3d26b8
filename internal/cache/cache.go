// Package cache memoizes expensive upstream lookups (parent post titles and
// decorative GIFs) in the expiring store. A lookup never surfaces an error:
// failures degrade to a fixed fallback value that is not cached.
package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
)

const (
	titleKeyPrefix = "post_title:"
	gifKey         = "cached_gif"

	TitleTTL = time.Hour
	GifTTL   = 5 * time.Minute

	// FallbackGifURL is used when no provider key is configured or the
	// provider lookup fails.
	FallbackGifURL = "https://media.giphy.com/media/tXL4FHPSnVJ0A/giphy.gif"
)

// TitleFetcher resolves a post id to its title.
type TitleFetcher interface {
	FetchTitle(ctx context.Context, postID string) (string, error)
}

// GifFetcher returns one image URL matching tag.
type GifFetcher interface {
	RandomGif(ctx context.Context, apiKey, tag string) (string, error)
}

type Cache struct {
	store  kvstore.Store
	titles TitleFetcher
	gifs   GifFetcher
	logger *zap.Logger

	// group collapses concurrent misses for the same key into one fetch.
	group singleflight.Group
}

func New(store kvstore.Store, titles TitleFetcher, gifs GifFetcher, logger *zap.Logger) *Cache {
	return &Cache{store: store, titles: titles, gifs: gifs, logger: logger}
}

// TitleKey returns the store key caching the title of postID.
func TitleKey(postID string) string { return titleKeyPrefix + postID }

// Title returns the cached title of postID, fetching it on a miss.
// A failed fetch returns domain.UnknownPostTitle.
func (c *Cache) Title(ctx context.Context, postID string) string {
	if postID == "" {
		return domain.UnknownPostTitle
	}
	key := TitleKey(postID)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.lookup(ctx, key); ok {
			return cached, nil
		}
		title, err := c.titles.FetchTitle(ctx, postID)
		if err != nil {
			return "", err
		}
		if title == "" {
			return "", errors.New("empty title")
		}
		if err := c.store.Set(ctx, key, title, TitleTTL); err != nil {
			c.logger.Warn("failed to cache title", zap.String("post_id", postID), zap.Error(err))
		}
		return title, nil
	})
	if err != nil {
		c.logger.Warn("title lookup failed, using placeholder",
			zap.String("post_id", postID), zap.Error(err))
		return domain.UnknownPostTitle
	}
	return v.(string)
}

// Gif returns a decorative image URL shared by a whole flush batch.
// Without an apiKey no network call is attempted.
func (c *Cache) Gif(ctx context.Context, apiKey, tag string) string {
	if apiKey == "" {
		return FallbackGifURL
	}

	v, err, _ := c.group.Do(gifKey, func() (any, error) {
		if cached, ok := c.lookup(ctx, gifKey); ok {
			return cached, nil
		}
		url, err := c.gifs.RandomGif(ctx, apiKey, tag)
		if err != nil {
			return "", err
		}
		if url == "" {
			return "", errors.New("provider returned no image")
		}
		if err := c.store.Set(ctx, gifKey, url, GifTTL); err != nil {
			c.logger.Warn("failed to cache gif", zap.Error(err))
		}
		return url, nil
	})
	if err != nil {
		c.logger.Warn("gif lookup failed, using fallback", zap.Error(err))
		return FallbackGifURL
	}
	return v.(string)
}

// lookup reads key, treating store errors as a miss.
func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	v, err := c.store.Get(ctx, key)
	if err == nil {
		return v, true
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	return "", false
}
