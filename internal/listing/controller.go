// Package listing drives infinite-scroll consumption of paginated collections.
package listing

import (
	"context"
	"sync"

	"feedsync/internal/models"
	"feedsync/internal/observability"
	"feedsync/internal/pagination"
)

// Controller materialises a paginated collection of T page by page. Items are appended
// in arrival order and are never de-duplicated; the server guarantees that ids do not
// repeat across pages.
//
// LoadMore calls are serialised: a call made while a load is in flight returns
// ErrLoadInProgress. LoadInitial and Reset start a new generation, and a load that
// resolves for an older generation is dropped with ErrStaleResponse.
type Controller[T models.Entity] struct {
	fetcher pagination.PageFetcher[T]
	name    string
	log     *observability.ComponentLogger

	mu         sync.Mutex
	items      []T
	next       *string
	hasMore    bool
	generation uint64
	// inflight is the generation of the load in progress, 0 when idle.
	inflight uint64
}

// New returns an empty controller. name labels logs and metrics ("posts").
func New[T models.Entity](fetcher pagination.PageFetcher[T], name string) *Controller[T] {
	return &Controller[T]{
		fetcher: fetcher,
		name:    name,
		log:     observability.NewComponentLogger("listing"),
	}
}

// Generation returns the controller's current generation.
func (c *Controller[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// LoadInitial fetches the first page at url and replaces the items with it. Any load
// still in flight is superseded.
func (c *Controller[T]) LoadInitial(ctx context.Context, url string) error {
	gen := c.Begin()
	page, err := c.fetcher.FetchPage(ctx, url)
	return c.CompleteInitial(ctx, gen, page, err)
}

// Begin starts a new generation for a caller that fetches the first page itself, e.g.
// concurrently with other requests, and hands the result to CompleteInitial.
func (c *Controller[T]) Begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inflight = c.generation
	return c.generation
}

// CompleteInitial finishes a load started with Begin. It returns ErrStaleResponse when
// gen has been superseded, and err unchanged when the fetch failed.
func (c *Controller[T]) CompleteInitial(ctx context.Context, gen uint64, page *models.Page[T], err error) error {
	return c.commit(ctx, gen, "load_initial", page, err, func() {
		c.items = cloneAll(page.Results)
		c.next = page.Next
		c.hasMore = page.HasNext()
	})
}

// LoadMore fetches the page after the last one loaded and appends it. It returns
// ErrNoMoreData when the list is exhausted and ErrLoadInProgress while another load runs;
// both leave the state untouched.
func (c *Controller[T]) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight != 0 {
		c.mu.Unlock()
		return models.ErrLoadInProgress
	}
	if !c.hasMore {
		c.mu.Unlock()
		return models.ErrNoMoreData
	}
	gen := c.generation
	c.inflight = gen
	cursor := &models.Page[T]{Next: c.next}
	c.mu.Unlock()

	page, err := c.fetcher.FetchNext(ctx, cursor)
	return c.commit(ctx, gen, "load_more", page, err, func() {
		c.items = append(c.items, cloneAll(page.Results)...)
		c.next = page.Next
		c.hasMore = page.HasNext()
	})
}

// commit applies a finished load if gen is still current. A failed load changes nothing
// but the in-flight marker.
func (c *Controller[T]) commit(ctx context.Context, gen uint64, op string, page *models.Page[T], err error, apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == gen {
		c.inflight = 0
	}
	if gen != c.generation {
		observability.RecordStaleDiscard("listing")
		c.log.Debug(ctx, op, map[string]interface{}{
			"list":               c.name,
			"load_generation":    gen,
			"current_generation": c.generation,
			"discarded":          true,
		})
		return models.ErrStaleResponse
	}
	if err != nil {
		c.log.Warn(ctx, op, err, map[string]interface{}{"list": c.name})
		return err
	}
	if page == nil {
		return &models.MalformedResponseError{Reason: "empty page"}
	}
	apply()
	c.log.Debug(ctx, op, map[string]interface{}{
		"list":     c.name,
		"appended": len(page.Results),
		"items":    len(c.items),
		"has_more": c.hasMore,
	})
	return nil
}

// Items returns a copy of the items in order.
func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.items)
}

// HasMore reports whether another page can be loaded.
func (c *Controller[T]) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Len returns the number of items.
func (c *Controller[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Loading reports whether a load is in flight.
func (c *Controller[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != 0
}

// PatchItem applies fn to the item with the given id. It reports whether one was found.
func (c *Controller[T]) PatchItem(id models.ID, fn func(*T)) bool {
	return c.PatchWhere(func(item T) bool { return item.EntityID() == id }, fn) > 0
}

// PatchWhere applies fn to every item matching pred and returns how many matched.
func (c *Controller[T]) PatchWhere(pred func(T) bool, fn func(*T)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.items {
		if pred(c.items[i]) {
			fn(&c.items[i])
			n++
		}
	}
	return n
}

// Reset discards the items and supersedes any load in flight.
func (c *Controller[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.items = nil
	c.next = nil
	c.hasMore = false
	c.inflight = 0
}

// Duplicates returns the ids that appear more than once, in first-seen order.
func (c *Controller[T]) Duplicates() []models.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[models.ID]int, len(c.items))
	var dups []models.ID
	for _, item := range c.items {
		id := item.EntityID()
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

type cloner[T any] interface {
	Clone() T
}

func cloneAll[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		if c, ok := any(v).(cloner[T]); ok {
			out[i] = c.Clone()
		} else {
			out[i] = v
		}
	}
	return out
}
