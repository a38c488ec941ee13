// Package pagination fetches pages of cursor-paginated REST collections.
package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"feedsync/internal/cache"
	"feedsync/internal/models"
	"feedsync/internal/observability"
)

// RawGetter is the slice of the HTTP capability a fetcher needs.
type RawGetter interface {
	GetRaw(ctx context.Context, path string) ([]byte, error)
}

// PageFetcher is what list controllers consume.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, url string) (*models.Page[T], error)
	FetchNext(ctx context.Context, page *models.Page[T]) (*models.Page[T], error)
}

// Fetcher wraps the "get one page" call for a collection of T. It holds no list
// state and never mutates shared state.
type Fetcher[T any] struct {
	api        RawGetter
	collection string
	cache      *cache.PageCache
	tags       []string
	log        *observability.ComponentLogger
}

var _ PageFetcher[models.Post] = (*Fetcher[models.Post])(nil)

// Option configures a Fetcher.
type Option func(*fetcherOptions)

type fetcherOptions struct {
	cache *cache.PageCache
	tags  []string
}

// WithCache enables the read-through page cache, recording pages under tags so a
// follow mutation can invalidate them.
func WithCache(c *cache.PageCache, tags ...string) Option {
	return func(o *fetcherOptions) {
		o.cache = c
		o.tags = append(o.tags, tags...)
	}
}

// NewFetcher builds a fetcher. collection labels logs and metrics ("posts", "profiles").
func NewFetcher[T any](api RawGetter, collection string, opts ...Option) *Fetcher[T] {
	var o fetcherOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Fetcher[T]{
		api:        api,
		collection: collection,
		cache:      o.cache,
		tags:       o.tags,
		log:        observability.NewComponentLogger("pagination"),
	}
}

// envelope is the wire shape of a page. Results stays raw so that a missing key
// can be told apart from an empty page.
type envelope struct {
	Count    int             `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  json.RawMessage `json:"results"`
}

// FetchPage fetches and normalises the page at url.
func (f *Fetcher[T]) FetchPage(ctx context.Context, url string) (page *models.Page[T], err error) {
	done := observability.TrackPageFetch(f.collection)
	defer func() { done(err) }()

	decode := func(body []byte) error {
		var derr error
		if page, derr = decodePage[T](url, body); derr != nil {
			f.log.Warn(ctx, "fetch_page", derr, map[string]interface{}{"url": url, "collection": f.collection})
		}
		return derr
	}
	cached, err := f.cache.Aside(ctx, url, f.get(url), decode, f.tags...)
	if err != nil {
		return nil, err
	}
	f.log.Debug(ctx, "fetch_page", map[string]interface{}{
		"url":        url,
		"collection": f.collection,
		"items":      len(page.Results),
		"has_next":   page.HasNext(),
		"cached":     cached,
	})
	return page, nil
}

func (f *Fetcher[T]) get(url string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		return f.api.GetRaw(ctx, url)
	}
}

// FetchNext fetches the page after page. It returns ErrEndOfCollection when page has
// no next cursor.
func (f *Fetcher[T]) FetchNext(ctx context.Context, page *models.Page[T]) (*models.Page[T], error) {
	if page == nil || !page.HasNext() {
		return nil, models.ErrEndOfCollection
	}
	return f.FetchPage(ctx, *page.Next)
}

func decodePage[T any](url string, body []byte) (*models.Page[T], error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &models.TransportError{Op: http.MethodGet, URL: url, Cause: fmt.Errorf("decode page: %w", err)}
	}
	raw := bytes.TrimSpace(env.Results)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &models.MalformedResponseError{URL: url, Reason: "missing results"}
	}
	var results []T
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, &models.MalformedResponseError{URL: url, Reason: "results is not a list of entities", Err: err}
	}
	if env.Next != nil && *env.Next == "" {
		env.Next = nil
	}
	return &models.Page[T]{
		Count:    env.Count,
		Next:     env.Next,
		Previous: env.Previous,
		Results:  results,
	}, nil
}
