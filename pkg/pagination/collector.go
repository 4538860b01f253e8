package pagination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/message-feed-client/pkg/client"
	"github.com/Sternrassler/message-feed-client/pkg/fetchstate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyPage is reported when the server answers a page with neither data
// nor an error.
var ErrEmptyPage = errors.New("server returned no page")

// Config holds collector configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// PageSize is the offset stride between pages
	PageSize int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns the default collector configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		PageSize:       20,
		Timeout:        15 * time.Second,
	}
}

// FetchFunc fetches the page that starts at offset. It has the shape of the
// GET helper so a service method can be passed directly.
type FetchFunc[T any] func(ctx context.Context, offset int) (*fetchstate.Page[T], *client.Error, context.CancelFunc)

// Collector fetches all pages of a listing
type Collector[T any] struct {
	fetch  FetchFunc[T]
	config Config
	logger zerolog.Logger
}

// NewCollector creates a new collector
func NewCollector[T any](fetch FetchFunc[T], config Config) *Collector[T] {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Collector[T]{
		fetch:  fetch,
		config: config,
		logger: log.With().Str("component", "collector").Logger(),
	}
}

// CollectAll fetches every page and returns them ordered by offset. On
// failure the pages fetched so far are returned with the error.
func (c *Collector[T]) CollectAll(ctx context.Context) ([]fetchstate.Page[T], error) {
	start := time.Now()

	first, err := c.fetchPage(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	total := first.Total
	offsets := make([]int, 0, max(total/c.config.PageSize, 0))
	for offset := c.config.PageSize; offset < total; offset += c.config.PageSize {
		offsets = append(offsets, offset)
	}

	c.logger.Info().
		Int("total", total).
		Int("pages", len(offsets)+1).
		Msg("Starting parallel page fetch")

	pages := []fetchstate.Page[T]{*first}
	if len(offsets) == 0 {
		c.logger.Info().
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return pages, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)

	for _, offset := range offsets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			page, err := c.fetchPage(gctx, offset)
			if err != nil {
				c.logger.Warn().Err(err).Int("offset", offset).Msg("Page fetch failed")
				return fmt.Errorf("offset %d: %w", offset, err)
			}

			mu.Lock()
			pages = append(pages, *page)
			fetched := len(pages)
			mu.Unlock()

			if fetched%10 == 0 {
				c.logger.Info().
					Int("fetched", fetched).
					Int("pages", len(offsets)+1).
					Msg("Fetch progress")
			}
			return nil
		})
	}

	err = g.Wait()
	sort.Slice(pages, func(i, j int) bool { return pages[i].Offset < pages[j].Offset })

	if err != nil {
		c.logger.Warn().
			Err(err).
			Int("fetched_pages", len(pages)).
			Int("total_pages", len(offsets)+1).
			Msg("Returning partial results")
		return pages, fmt.Errorf("partial data (%d/%d pages): %w", len(pages), len(offsets)+1, err)
	}

	c.logger.Info().
		Int("pages", len(pages)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return pages, nil
}

// CollectItems flattens CollectAll into a single item list capped at the
// listing's total.
func (c *Collector[T]) CollectItems(ctx context.Context) ([]T, error) {
	pages, err := c.CollectAll(ctx)

	var items []T
	for _, p := range pages {
		items = append(items, p.Items...)
	}
	if len(pages) > 0 && pages[0].Total >= 0 && len(items) > pages[0].Total {
		items = items[:pages[0].Total]
	}
	return items, err
}

func (c *Collector[T]) fetchPage(ctx context.Context, offset int) (*fetchstate.Page[T], error) {
	pageCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	page, ferr, _ := c.fetch(pageCtx, offset)
	if ferr != nil {
		return nil, ferr
	}
	if page == nil {
		return nil, ErrEmptyPage
	}
	return page, nil
}
