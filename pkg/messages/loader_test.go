package messages

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/message-feed-client/pkg/client"
	"github.com/Sternrassler/message-feed-client/pkg/fetchstate"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	page *fetchstate.Page[Message]
	err  *client.Error
}

// fakeSource records every call and answers from respond. A call whose index
// has a gate blocks until the gate is closed, ignoring its context.
type fakeSource struct {
	respond func(call, offset int) result

	mu            sync.Mutex
	offsets       []int
	ctxs          []context.Context
	priorCanceled []bool
	gates         map[int]chan struct{}
	started       chan int
}

func newFakeSource(respond func(call, offset int) result) *fakeSource {
	return &fakeSource{
		respond: respond,
		gates:   make(map[int]chan struct{}),
		started: make(chan int, 64),
	}
}

func (f *fakeSource) hold(call int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[call] = gate
	return gate
}

func (f *fakeSource) SampleItems(ctx context.Context, offset int) (*fetchstate.Page[Message], *client.Error, context.CancelFunc) {
	f.mu.Lock()
	call := len(f.offsets)
	canceled := call > 0 && f.ctxs[call-1].Err() != nil
	f.offsets = append(f.offsets, offset)
	f.ctxs = append(f.ctxs, ctx)
	f.priorCanceled = append(f.priorCanceled, canceled)
	gate := f.gates[call]
	f.mu.Unlock()

	f.started <- call
	if gate != nil {
		<-gate
	}

	r := f.respond(call, offset)
	return r.page, r.err, func() {}
}

func (f *fakeSource) Offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func (f *fakeSource) PriorCanceled(call int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priorCanceled[call]
}

func msg(n int) Message {
	return Message{ID: fmt.Sprintf("m%d", n), ChatID: "c1", Text: fmt.Sprintf("message %d", n)}
}

// pageAt returns the page a server holding total messages answers for
// offset.
func pageAt(offset, total int) *fetchstate.Page[Message] {
	p := &fetchstate.Page[Message]{Offset: offset, Total: total, Items: []Message{}}
	for i := offset; i < total && i < offset+PageSize; i++ {
		p.Items = append(p.Items, msg(i+1))
	}
	return p
}

func feed(total int) func(call, offset int) result {
	return func(_, offset int) result {
		return result{page: pageAt(offset, total)}
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func settle(t *testing.T, ctx context.Context, l *Loader) FeedValue {
	t.Helper()
	v, err := l.State().WaitFor(ctx, fetchstate.Settled[fetchstate.Page[Message]])
	require.NoError(t, err)
	return v
}

func ids(items []Message) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}

func TestLoader_InitialFetch(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(func(_, _ int) result {
		return result{page: &fetchstate.Page[Message]{
			Items:  []Message{msg(1), msg(2)},
			Offset: 20,
			Total:  50,
		}}
	})

	l := NewLoader(ctx, src)
	defer l.Close()

	v := settle(t, ctx, l)

	require.NotNil(t, v.Data)
	assert.Equal(t, []string{"m1", "m2"}, ids(v.Data.Items))
	// the page's own offset is kept, not the requested one
	assert.Equal(t, 20, v.Data.Offset)
	assert.Equal(t, 50, v.Data.Total)
	assert.Nil(t, v.Error)
	assert.NotNil(t, v.Cancel)
	assert.Equal(t, []int{0}, src.Offsets())

	require.NoError(t, l.AddMore(ctx))
	assert.Equal(t, []int{0, 40}, src.Offsets())
}

func TestLoader_AddMoreAtTotalIsNoop(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(feed(2))

	l := NewLoader(ctx, src)
	defer l.Close()
	settle(t, ctx, l)

	require.NoError(t, l.AddMore(ctx))
	require.NoError(t, l.AddMore(ctx))

	assert.Equal(t, []int{0}, src.Offsets())
	assert.Len(t, l.State().Get().Data.Items, 2)
}

func TestLoader_NetworkErrorIsLocalized(t *testing.T) {
	networkErr := func(_, _ int) result {
		return result{err: &client.Error{
			Code:       client.CodeNetwork,
			Message:    "Network Error",
			ErrorClass: client.ErrorClassNetwork,
		}}
	}

	t.Run("default message", func(t *testing.T) {
		ctx := testContext(t)
		l := NewLoader(ctx, newFakeSource(networkErr))
		defer l.Close()

		v := settle(t, ctx, l)
		require.NotNil(t, v.Error)
		assert.Equal(t, client.CodeNetwork, v.Error.Code)
		assert.Equal(t, DefaultNoConnectionMessage, v.Error.Message)
		assert.Nil(t, v.Data)
	})

	t.Run("custom message", func(t *testing.T) {
		ctx := testContext(t)
		l := NewLoader(ctx, newFakeSource(networkErr), WithNoConnectionMessage("offline"))
		defer l.Close()

		v := settle(t, ctx, l)
		require.NotNil(t, v.Error)
		assert.Equal(t, "offline", v.Error.Message)
	})

	t.Run("other codes keep their message", func(t *testing.T) {
		ctx := testContext(t)
		src := newFakeSource(func(_, _ int) result {
			return result{err: &client.Error{Code: client.CodeBadResponse, Message: "boom", StatusCode: 502}}
		})
		l := NewLoader(ctx, src)
		defer l.Close()

		v := settle(t, ctx, l)
		require.NotNil(t, v.Error)
		assert.Equal(t, client.CodeBadResponse, v.Error.Code)
		assert.Equal(t, "boom", v.Error.Message)
	})
}

func TestLoader_EmptyResponseRetriesSameOffset(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(func(call, offset int) result {
		if call == 0 {
			return result{}
		}
		return result{page: pageAt(offset, 50)}
	})
	gate := src.hold(0)

	l := NewLoader(ctx, src)
	defer l.Close()

	var mu sync.Mutex
	var pending []bool
	unsubscribe := l.State().Subscribe(func(v FeedValue) {
		mu.Lock()
		pending = append(pending, v.Pending)
		mu.Unlock()
	})
	defer unsubscribe()

	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pending) == 3
	}, time.Second, 5*time.Millisecond)

	v := l.State().Get()
	require.NotNil(t, v.Data)
	assert.Nil(t, v.Error)
	assert.Equal(t, []int{0, 0}, src.Offsets())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, false}, pending)
}

func TestLoader_EmptyRetryPolicy(t *testing.T) {
	t.Run("bounded policy gives up", func(t *testing.T) {
		ctx := testContext(t)
		src := newFakeSource(func(_, _ int) result { return result{} })

		l := NewLoader(ctx, src, WithEmptyRetry(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		}))
		defer l.Close()

		require.Eventually(t, func() bool {
			v := l.State().Get()
			return !v.Pending && v.Error != nil
		}, time.Second, 5*time.Millisecond)

		v := l.State().Get()
		assert.Equal(t, client.CodeEmptyResponse, v.Error.Code)
		assert.Nil(t, v.Data)
		assert.Equal(t, []int{0, 0, 0}, src.Offsets())
	})

	t.Run("delayed retry", func(t *testing.T) {
		ctx := testContext(t)
		src := newFakeSource(func(call, offset int) result {
			if call == 0 {
				return result{}
			}
			return result{page: pageAt(offset, 5)}
		})

		l := NewLoader(ctx, src, WithEmptyRetry(func() backoff.BackOff {
			return backoff.NewConstantBackOff(10 * time.Millisecond)
		}))
		defer l.Close()

		require.Eventually(t, func() bool {
			return l.State().Get().Data != nil
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, []int{0, 0}, src.Offsets())
		assert.Len(t, l.State().Get().Data.Items, 5)
	})
}

func TestLoader_AddMoreAdvancesOffset(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(feed(50))

	l := NewLoader(ctx, src)
	defer l.Close()
	settle(t, ctx, l)

	var offsets []int
	for range 4 {
		require.NoError(t, l.AddMore(ctx))
		offsets = append(offsets, l.State().Get().Data.Offset)
	}

	// Offsets only ever grow; the fourth call finds the list complete.
	assert.Equal(t, []int{20, 40, 40, 40}, offsets)
	assert.Equal(t, []int{0, 20, 40}, src.Offsets())

	v := l.State().Get()
	require.Len(t, v.Data.Items, 50)
	assert.Equal(t, "m1", v.Data.Items[0].ID)
	assert.Equal(t, "m50", v.Data.Items[49].ID)
	assert.True(t, v.Data.Complete())
}

func TestLoader_AddMoreWaitsForOutstandingFetch(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(feed(50))
	gate := src.hold(0)

	l := NewLoader(ctx, src)
	defer l.Close()
	<-src.started

	done := make(chan error, 1)
	go func() { done <- l.AddMore(ctx) }()

	assert.Never(t, func() bool {
		return len(src.Offsets()) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, l.State().Get().Pending)

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []int{0, 20}, src.Offsets())
	assert.Len(t, l.State().Get().Data.Items, 40)
}

func TestLoader_FetchSupersedesOutstandingRequest(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(feed(100))

	l := NewLoader(ctx, src)
	defer l.Close()
	settle(t, ctx, l)
	<-src.started

	gate := src.hold(1)
	first := make(chan error, 1)
	go func() { first <- l.Fetch(ctx, 20) }()
	require.Equal(t, 1, <-src.started)

	require.NoError(t, l.Fetch(ctx, 40))
	assert.True(t, src.PriorCanceled(2), "outstanding request must be canceled before the next one starts")

	close(gate)
	require.NoError(t, <-first)

	v := l.State().Get()
	assert.False(t, v.Pending)
	assert.Equal(t, 40, v.Data.Offset)
	assert.NotContains(t, ids(v.Data.Items), "m21")
	assert.Contains(t, ids(v.Data.Items), "m41")
	assert.Equal(t, []int{0, 20, 40}, src.Offsets())
}

func TestLoader_AddMoreAfterErrorRefetchesFirstPage(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(func(call, offset int) result {
		if call == 0 {
			return result{err: &client.Error{Code: client.CodeBadResponse, Message: "unavailable", StatusCode: 503}}
		}
		return result{page: pageAt(offset, 50)}
	})

	l := NewLoader(ctx, src)
	defer l.Close()

	v := settle(t, ctx, l)
	require.NotNil(t, v.Error)

	require.NoError(t, l.AddMore(ctx))

	v = l.State().Get()
	assert.Nil(t, v.Error)
	require.NotNil(t, v.Data)
	assert.Len(t, v.Data.Items, 20)
	assert.Equal(t, []int{0, 0}, src.Offsets())
}

func TestLoader_Reload(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(feed(50))

	l := NewLoader(ctx, src)
	defer l.Close()
	settle(t, ctx, l)
	require.NoError(t, l.AddMore(ctx))
	require.Len(t, l.State().Get().Data.Items, 40)

	var mu sync.Mutex
	var seen []FeedValue
	unsubscribe := l.State().Subscribe(func(v FeedValue) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, l.Reload(ctx))

	v := l.State().Get()
	assert.Len(t, v.Data.Items, 20)
	assert.Equal(t, 0, v.Data.Offset)
	assert.Equal(t, []int{0, 20, 0}, src.Offsets())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	// notifications from different goroutines may arrive out of order
	sort.Slice(seen, func(i, j int) bool { return seen[i].Version < seen[j].Version })
	assert.True(t, seen[0].Pending)
	assert.Nil(t, seen[0].Data, "list dropped when the reload starts")
	for _, s := range seen {
		assert.False(t, !s.Pending && s.Data == nil, "settled empty snapshot at version %d", s.Version)
	}
}

func TestLoader_SubscriberMayLoadMore(t *testing.T) {
	ctx := testContext(t)
	src := newFakeSource(feed(50))
	gate := src.hold(0)

	l := NewLoader(ctx, src)
	defer l.Close()

	errs := make(chan error, 8)
	unsubscribe := l.State().Subscribe(func(v FeedValue) {
		if v.Pending || v.Error != nil || v.Data.Complete() {
			return
		}
		errs <- l.AddMore(ctx)
	})
	defer unsubscribe()

	close(gate)

	require.Eventually(t, func() bool {
		v := l.State().Get()
		return !v.Pending && v.Data.Complete()
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{0, 20, 40}, src.Offsets())
	assert.Len(t, l.State().Get().Data.Items, 50)

	// one AddMore per settled, incomplete page
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatalf("AddMore %d from subscriber did not return", i)
		}
	}
}

func TestLoader_Close(t *testing.T) {
	t.Run("keeps data and rejects further work", func(t *testing.T) {
		ctx := testContext(t)
		src := newFakeSource(feed(50))

		l := NewLoader(ctx, src)
		settle(t, ctx, l)
		l.Close()
		l.Close()

		assert.ErrorIs(t, l.AddMore(ctx), ErrLoaderClosed)
		assert.ErrorIs(t, l.Fetch(ctx, 20), ErrLoaderClosed)
		assert.ErrorIs(t, l.Reload(ctx), ErrLoaderClosed)

		v := l.State().Get()
		assert.False(t, v.Pending)
		assert.Len(t, v.Data.Items, 20)
		assert.Equal(t, []int{0}, src.Offsets())
	})

	t.Run("discards outstanding result", func(t *testing.T) {
		ctx := testContext(t)
		src := newFakeSource(feed(50))
		gate := src.hold(0)

		l := NewLoader(ctx, src)
		<-src.started

		l.Close()
		assert.False(t, l.State().Get().Pending)

		src.mu.Lock()
		reqCtx := src.ctxs[0]
		src.mu.Unlock()
		assert.Error(t, reqCtx.Err())

		close(gate)
		assert.Never(t, func() bool {
			return l.State().Get().Data != nil
		}, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestLoader_FetchHonorsContext(t *testing.T) {
	src := newFakeSource(feed(50))
	gate := src.hold(1)
	defer close(gate)

	ctx := testContext(t)
	l := NewLoader(ctx, src)
	defer l.Close()
	settle(t, ctx, l)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, l.Fetch(short, 20), context.DeadlineExceeded)
}

func TestMerge(t *testing.T) {
	t.Run("first page is copied", func(t *testing.T) {
		page := pageAt(0, 50)
		out := merge(nil, page)

		out.Items[0].Text = "changed"
		assert.Equal(t, "message 1", page.Items[0].Text)
	})

	t.Run("accumulated page is not modified", func(t *testing.T) {
		acc := pageAt(0, 50)
		out := merge(acc, pageAt(20, 50))

		assert.Len(t, acc.Items, 20)
		assert.Len(t, out.Items, 40)
		assert.Equal(t, 20, out.Offset)
		assert.Equal(t, 50, out.Total)
	})

	t.Run("keeps the first total", func(t *testing.T) {
		acc := pageAt(0, 30)
		next := pageAt(20, 30)
		next.Total = 99

		out := merge(acc, next)
		assert.Equal(t, 30, out.Total)
		assert.Len(t, out.Items, 30)
	})

	t.Run("drops items beyond total", func(t *testing.T) {
		acc := &fetchstate.Page[Message]{Items: []Message{msg(1), msg(2)}, Total: 3}
		next := &fetchstate.Page[Message]{Items: []Message{msg(3), msg(4)}, Offset: 2, Total: 3}

		out := merge(acc, next)
		assert.Equal(t, []string{"m1", "m2", "m3"}, ids(out.Items))
	})
}
