package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/wallet-history/internal/domain/event"
	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
)

func unusedFetch(context.Context, event.PageRequest) (event.PageResult[string], error) {
	return event.PageResult[string]{}, errors.New("unexpected fetch")
}

func newTestSource(t *testing.T, fetch FetchFunc[string], opts ...Option[string]) (*Source[string], identity.Fingerprint) {
	t.Helper()
	if fetch == nil {
		fetch = unusedFetch
	}
	s := New(model.SourceTransfers, fetch, slog.Default(), opts...)
	fp := identity.NewFingerprint("alice", model.ChainPolkadot, 1)
	s.Reset(fp, 0)
	return s, fp
}

func page(req event.PageRequest, count int, items ...string) event.PageResult[string] {
	return event.PageResult[string]{For: req.For, Count: count, Items: items}
}

func TestSource_InitialState(t *testing.T) {
	s, _ := newTestSource(t, nil)
	assert.Equal(t, State{HasMore: true}, s.Snapshot())
	assert.Empty(t, s.Items())
}

func TestSource_BeginBuildsRequest(t *testing.T) {
	s, fp := newTestSource(t, nil, WithPageSize[string](2))
	s.Reset(fp, 42)

	req, ok := s.Begin(fp)
	require.True(t, ok)
	assert.Equal(t, event.PageRequest{
		For:           fp.String(),
		Source:        model.SourceTransfers,
		Account:       "alice",
		Chain:         model.ChainPolkadot,
		PageNumber:    0,
		PageSize:      2,
		AddressPrefix: 42,
	}, req)
	assert.True(t, s.Snapshot().IsFetching)
}

func TestSource_AtMostOneInFlight(t *testing.T) {
	s, fp := newTestSource(t, nil)

	_, ok := s.Begin(fp)
	require.True(t, ok)
	before := s.Snapshot()

	_, ok = s.Begin(fp)
	assert.False(t, ok)
	assert.Equal(t, before, s.Snapshot())
}

func TestSource_HasMoreFromCount(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		cap      int
		count    int
		items    []string
		wantMore bool
	}{
		{name: "more remain", pageSize: 2, cap: 10, count: 3, items: []string{"a", "b"}, wantMore: true},
		{name: "exact fit", pageSize: 2, cap: 10, count: 2, items: []string{"a", "b"}, wantMore: false},
		{name: "empty source", pageSize: 2, cap: 10, count: 0, wantMore: false},
		{name: "page cap reached", pageSize: 2, cap: 1, count: 100, items: []string{"a", "b"}, wantMore: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fp := newTestSource(t, nil, WithPageSize[string](tt.pageSize), WithMaxPageCap[string](tt.cap))
			req, ok := s.Begin(fp)
			require.True(t, ok)
			require.True(t, s.Complete(req, page(req, tt.count, tt.items...), nil))

			st := s.Snapshot()
			assert.Equal(t, 1, st.PageNumber)
			assert.False(t, st.IsFetching)
			assert.Equal(t, tt.wantMore, st.HasMore)
			assert.Equal(t, len(tt.items), st.Fetched)
		})
	}
}

func TestSource_PageCapBoundsMisreportedCount(t *testing.T) {
	s, fp := newTestSource(t, nil, WithPageSize[string](1), WithMaxPageCap[string](3))
	pages := 0
	for {
		req, ok := s.Begin(fp)
		if !ok {
			break
		}
		pages++
		require.True(t, s.Complete(req, page(req, 1_000_000, "x"), nil))
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, 3, s.Snapshot().PageNumber)
}

func TestSource_PagesAccumulateInArrivalOrder(t *testing.T) {
	s, fp := newTestSource(t, nil, WithPageSize[string](2))

	req, _ := s.Begin(fp)
	s.Complete(req, page(req, 4, "a", "b"), nil)
	req, ok := s.Begin(fp)
	require.True(t, ok)
	assert.Equal(t, 1, req.PageNumber)
	s.Complete(req, page(req, 4, "c", "d"), nil)

	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Items())
	assert.False(t, s.Snapshot().HasMore)
}

func TestSource_FailureExhaustsPermanently(t *testing.T) {
	var got []Page[string]
	s, fp := newTestSource(t, nil, WithListener(func(p Page[string]) { got = append(got, p) }))

	req, _ := s.Begin(fp)
	boom := errors.New("boom")
	require.True(t, s.Complete(req, event.PageResult[string]{}, boom))

	st := s.Snapshot()
	assert.False(t, st.HasMore)
	assert.False(t, st.IsFetching)
	assert.True(t, st.Failed)
	assert.Equal(t, 0, st.PageNumber)
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, boom)

	for i := 0; i < 5; i++ {
		_, ok := s.Begin(fp)
		assert.False(t, ok)
	}
	assert.False(t, s.Snapshot().HasMore)
}

func TestSource_StaleResponseIsInert(t *testing.T) {
	var notified int
	s, fpA := newTestSource(t, nil, WithListener(func(Page[string]) { notified++ }))

	reqA, ok := s.Begin(fpA)
	require.True(t, ok)

	fpB := identity.NewFingerprint("bob", model.ChainPolkadot, 2)
	s.Reset(fpB, 0)

	assert.False(t, s.Complete(reqA, page(reqA, 10, "a1", "a2"), nil))
	assert.False(t, s.Complete(reqA, event.PageResult[string]{}, errors.New("late failure")))
	assert.Equal(t, State{HasMore: true}, s.Snapshot())
	assert.Empty(t, s.Items())
	assert.Zero(t, notified)
}

func TestSource_SameAccountNewEpochIsStale(t *testing.T) {
	s, fp1 := newTestSource(t, nil)
	req, _ := s.Begin(fp1)

	fp2 := identity.NewFingerprint("alice", model.ChainPolkadot, 2)
	s.Reset(fp2, 0)

	assert.False(t, s.Complete(req, page(req, 5, "old"), nil))
	assert.Empty(t, s.Items())
}

func TestSource_MismatchedEchoIsStale(t *testing.T) {
	s, fp := newTestSource(t, nil)
	req, _ := s.Begin(fp)

	assert.False(t, s.Complete(req, event.PageResult[string]{For: "someone@else#9", Count: 1, Items: []string{"x"}}, nil))
	assert.True(t, s.Snapshot().IsFetching)
}

func TestSource_BeginRejectsOtherFingerprint(t *testing.T) {
	s, _ := newTestSource(t, nil)
	_, ok := s.Begin(identity.NewFingerprint("mallory", model.ChainPolkadot, 1))
	assert.False(t, ok)
	_, ok = s.Begin(identity.Fingerprint{})
	assert.False(t, ok)
}

func TestSource_Exhaust(t *testing.T) {
	s, fp := newTestSource(t, nil)

	s.Exhaust(identity.NewFingerprint("other", model.ChainKusama, 9))
	assert.True(t, s.Snapshot().HasMore, "exhaust for another subject is ignored")

	s.Exhaust(fp)
	st := s.Snapshot()
	assert.False(t, st.HasMore)
	assert.False(t, st.Failed)
	_, ok := s.Begin(fp)
	assert.False(t, ok)
}

func TestSource_FetchNextRunsInBackground(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var requests []event.PageRequest
	fetch := func(_ context.Context, req event.PageRequest) (event.PageResult[string], error) {
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		<-release
		return page(req, 3, "a", "b"), nil
	}
	applied := make(chan Page[string], 1)
	s, fp := newTestSource(t, fetch, WithPageSize[string](2), WithListener(func(p Page[string]) { applied <- p }))

	require.True(t, s.FetchNext(context.Background(), fp))
	assert.False(t, s.FetchNext(context.Background(), fp), "second call while in flight is a no-op")
	assert.Equal(t, 0, s.Snapshot().PageNumber, "page advances only on completion")

	close(release)
	p := <-applied
	s.Wait()

	assert.Equal(t, []string{"a", "b"}, p.Items)
	assert.Equal(t, fp, p.Fingerprint)
	st := s.Snapshot()
	assert.Equal(t, 1, st.PageNumber)
	assert.True(t, st.HasMore)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, requests, 1)
}

func TestSource_ListenerSeesPagesInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		order  []int
		states []State
	)
	entered := make(chan int, 2)
	release := make(chan struct{})
	s, fp := newTestSource(t, nil, WithPageSize[string](1), WithListener(func(p Page[string]) {
		entered <- p.PageNumber
		if p.PageNumber == 0 {
			<-release
		}
		mu.Lock()
		order = append(order, p.PageNumber)
		states = append(states, p.State)
		mu.Unlock()
	}))

	req0, ok := s.Begin(fp)
	require.True(t, ok)
	done0 := make(chan struct{})
	go func() {
		defer close(done0)
		s.Complete(req0, page(req0, 3, "a"), nil)
	}()
	require.Equal(t, 0, <-entered)

	req1, ok := s.Begin(fp)
	require.True(t, ok, "page 1 may start while page 0 is being delivered")
	done1 := make(chan struct{})
	go func() {
		defer close(done1)
		s.Complete(req1, page(req1, 3, "b"), nil)
	}()

	select {
	case n := <-entered:
		t.Fatalf("page %d delivered before page 0 returned", n)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done0
	<-done1

	assert.Equal(t, []int{0, 1}, order)
	require.Len(t, states, 2)
	assert.Equal(t, 1, states[0].PageNumber)
	assert.Equal(t, 2, states[1].PageNumber)
	assert.True(t, states[1].HasMore)
	assert.False(t, states[1].IsFetching)
}

func TestState_Exhausted(t *testing.T) {
	assert.False(t, State{HasMore: true}.Exhausted())
	assert.True(t, State{}.Exhausted())
}
