package messages

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/message-feed-client/pkg/client"
	"github.com/Sternrassler/message-feed-client/pkg/fetchstate"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PageSize is the offset stride between consecutive pages.
const PageSize = 20

// DefaultNoConnectionMessage replaces the message of ERR_NETWORK errors.
const DefaultNoConnectionMessage = "Нет подключения к интернету"

// ErrLoaderClosed is returned by operations on a closed Loader.
var ErrLoaderClosed = errors.New("loader closed")

var loaderFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_loader_fetches_total",
	Help: "Page fetches issued by message loaders by outcome",
}, []string{"outcome"})

// FeedState is the state a Loader maintains.
type FeedState = fetchstate.State[fetchstate.Page[Message]]

// FeedValue is a snapshot of a FeedState.
type FeedValue = fetchstate.Value[fetchstate.Page[Message]]

type options struct {
	pageSize            int
	noConnectionMessage string
	emptyRetry          func() backoff.BackOff
	logger              zerolog.Logger
}

// Option configures a Loader.
type Option func(*options)

// WithPageSize overrides the offset stride used by AddMore.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithNoConnectionMessage overrides the text shown for ERR_NETWORK errors.
func WithNoConnectionMessage(msg string) Option {
	return func(o *options) {
		if msg != "" {
			o.noConnectionMessage = msg
		}
	}
}

// WithEmptyRetry sets the policy applied when the source answers with
// neither a page nor an error. newPolicy is called once per Fetch. When the
// policy returns backoff.Stop the state gets an ERR_EMPTY_RESPONSE error.
// Without this option such answers are retried immediately and forever.
func WithEmptyRetry(newPolicy func() backoff.BackOff) Option {
	return func(o *options) {
		o.emptyRetry = newPolicy
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Loader accumulates the message feed for one consumer.
//
// States: idle (Pending false) and fetching (Pending true). Fetch replaces
// any outstanding request; AddMore extends the list by one page once the
// state has settled. Results of a request that was superseded by a newer
// one are discarded.
//
// Subscribers of State are notified after the loader has released its
// lock, so they may call Loader methods.
type Loader struct {
	source PageSource
	state  *FeedState
	opts   options
	logger zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	generation uint64
	closed     bool
	queued     []func()
}

// NewLoader creates a Loader and immediately starts fetching the first page.
// ctx bounds the lifetime of every request the loader makes.
func NewLoader(ctx context.Context, source PageSource, opts ...Option) *Loader {
	o := options{
		pageSize:            PageSize,
		noConnectionMessage: DefaultNoConnectionMessage,
		logger:              log.With().Str("component", "message-loader").Logger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Loader{
		source: source,
		state:  fetchstate.NewPaginated[Message](),
		opts:   o,
		logger: o.logger,
	}
	l.ctx, l.stop = context.WithCancel(ctx)

	l.mu.Lock()
	l.startLocked(0, false)
	l.unlock()

	return l
}

// State returns the loader's state cell.
func (l *Loader) State() *FeedState {
	return l.state
}

// Fetch requests the page at offset, canceling any request still
// outstanding, and waits until this fetch has been applied to the state (or
// discarded because a newer one superseded it). The outcome is read from
// State; the returned error only reports ctx or a closed loader.
func (l *Loader) Fetch(ctx context.Context, offset int) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoaderClosed
	}
	done := l.startLocked(offset, false)
	l.unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddMore loads the next page. It waits for any outstanding fetch to
// settle, returns at once when every item is loaded, and otherwise fetches
// Offset+PageSize and waits for that to settle. Without data (the first
// page failed) it fetches the first page again.
func (l *Loader) AddMore(ctx context.Context) error {
	for {
		if _, err := l.state.WaitFor(ctx, fetchstate.Settled[fetchstate.Page[Message]]); err != nil {
			return err
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrLoaderClosed
		}

		// A fetch may have started between the wait and the lock.
		v := l.state.Get()
		if v.Pending {
			l.mu.Unlock()
			continue
		}

		if v.Data.Complete() {
			l.mu.Unlock()
			l.logger.Debug().
				Int("items", len(v.Data.Items)).
				Int("total", v.Data.Total).
				Msg("All messages loaded")
			return nil
		}

		offset := 0
		if v.Data != nil {
			offset = v.Data.Offset + l.opts.pageSize
		}
		l.startLocked(offset, false)
		l.unlock()
		break
	}

	_, err := l.state.WaitFor(ctx, fetchstate.Settled[fetchstate.Page[Message]])
	return err
}

// Reload drops the accumulated list and fetches the first page again. The
// list is dropped in the same state change that marks the fetch pending.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoaderClosed
	}
	done := l.startLocked(0, true)
	l.unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the outstanding request and stops further fetching.
// Accumulated data stays readable.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.generation++
	l.stop()

	l.updateLocked(func(v *FeedValue) {
		v.Pending = false
	})
}

// updateLocked mutates the state and queues the subscriber notification
// for unlock. l.mu must be held.
func (l *Loader) updateLocked(fn func(v *FeedValue)) {
	_, notify := l.state.UpdateDeferred(fn)
	l.queued = append(l.queued, notify)
}

// unlock releases l.mu and then notifies subscribers of the state changes
// made while it was held, in order.
func (l *Loader) unlock() {
	queued := l.queued
	l.queued = nil
	l.mu.Unlock()

	for _, notify := range queued {
		notify()
	}
}

// startLocked begins a fetch of offset and returns a channel closed when
// it has finished. With reset the accumulated list is dropped. l.mu must be
// held.
func (l *Loader) startLocked(offset int, reset bool) <-chan struct{} {
	done := make(chan struct{})

	var retry backoff.BackOff = &backoff.ZeroBackOff{}
	if l.opts.emptyRetry != nil {
		retry = l.opts.emptyRetry()
	}

	req := l.beginLocked(offset, reset)
	go l.run(req, offset, retry, done)

	return done
}

type request struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
}

// beginLocked marks the state pending, cancels the request it supersedes and
// returns the new request. With reset Data and Error are cleared in the same
// state change. l.mu must be held.
func (l *Loader) beginLocked(offset int, reset bool) request {
	l.generation++
	ctx, cancel := context.WithCancel(l.ctx)

	var previous context.CancelFunc
	l.updateLocked(func(v *FeedValue) {
		v.Pending = true
		if reset {
			v.Data = nil
			v.Error = nil
		}
		previous = v.Cancel
		v.Cancel = cancel
	})
	previous()

	l.logger.Debug().
		Int("offset", offset).
		Uint64("generation", l.generation).
		Msg("Fetching messages")

	return request{ctx: ctx, cancel: cancel, generation: l.generation}
}

// run performs req and applies its outcome, re-issuing the request while
// the source answers with neither data nor error.
func (l *Loader) run(req request, offset int, retry backoff.BackOff, done chan<- struct{}) {
	defer close(done)

	for {
		page, ferr, cancel := l.source.SampleItems(req.ctx, offset)
		req.cancel()

		if ferr != nil && ferr.Code == client.CodeNetwork {
			localized := *ferr
			localized.Message = l.opts.noConnectionMessage
			ferr = &localized
		}

		l.mu.Lock()

		if req.generation != l.generation || l.closed {
			l.mu.Unlock()
			loaderFetchesTotal.WithLabelValues("superseded").Inc()
			l.logger.Debug().
				Int("offset", offset).
				Uint64("generation", req.generation).
				Msg("Discarding superseded fetch")
			return
		}

		if page == nil && ferr == nil {
			loaderFetchesTotal.WithLabelValues("empty").Inc()
			l.updateLocked(func(v *FeedValue) {
				v.Pending = false
			})

			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				l.updateLocked(func(v *FeedValue) {
					v.Error = &client.Error{
						Code:    client.CodeEmptyResponse,
						Message: "server returned no data",
					}
					v.Cancel = cancel
				})
				l.unlock()
				l.logger.Warn().Int("offset", offset).Msg("Giving up on empty responses")
				return
			}

			if wait > 0 {
				l.unlock()
				l.logger.Debug().Int("offset", offset).Dur("backoff", wait).Msg("Empty response, retrying")
				if !sleep(l.ctx, wait) {
					return
				}
				l.mu.Lock()
				if req.generation != l.generation || l.closed {
					l.mu.Unlock()
					return
				}
			}

			req = l.beginLocked(offset, false)
			l.unlock()
			continue
		}

		l.updateLocked(func(v *FeedValue) {
			if page != nil {
				v.Data = merge(v.Data, page)
			}
			v.Pending = false
			v.Cancel = cancel
			v.Error = ferr
		})
		l.unlock()

		if ferr != nil {
			loaderFetchesTotal.WithLabelValues("error").Inc()
			l.logger.Warn().
				Int("offset", offset).
				Str("code", ferr.Code).
				Str("message", ferr.Message).
				Msg("Fetching messages failed")
		} else {
			loaderFetchesTotal.WithLabelValues("ok").Inc()
		}
		return
	}
}

// merge appends page to the accumulated data. The result is a new value;
// acc is never modified. Items beyond the total are dropped.
func merge(acc, page *fetchstate.Page[Message]) *fetchstate.Page[Message] {
	if acc == nil {
		out := &fetchstate.Page[Message]{
			Items:  append([]Message(nil), page.Items...),
			Offset: page.Offset,
			Total:  page.Total,
		}
		if out.Total >= 0 && len(out.Items) > out.Total {
			out.Items = out.Items[:out.Total]
		}
		return out
	}

	items := make([]Message, 0, len(acc.Items)+len(page.Items))
	items = append(items, acc.Items...)
	items = append(items, page.Items...)
	if acc.Total >= 0 && len(items) > acc.Total {
		items = items[:acc.Total]
	}

	return &fetchstate.Page[Message]{
		Items:  items,
		Offset: page.Offset,
		Total:  acc.Total,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
