package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sampleState() State {
	return State{
		Messages: []llm.Message{llm.UserMessage("hello")},
		Pending: &hitl.Interrupt{
			ThreadID:       "t1",
			ActionRequests: []hitl.ActionRequest{{ToolCallID: "c1", Name: "call_writer_agent", Arguments: json.RawMessage(`{"a":1}`)}},
		},
	}
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "t1", sampleState()))
	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Messages[0].TextContent())
	assert.Equal(t, "c1", got.Pending.ActionRequests[0].ToolCallID)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "t1"))
	_, err = s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, "t1"))
}

func TestCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := sampleState()
	require.NoError(t, s.Put(ctx, "t1", in))
	in.Messages[0].Content[0].Text = "mutated"
	in.Pending.ActionRequests[0].Arguments[1] = 'X'

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Messages[0].TextContent())
	assert.JSONEq(t, `{"a":1}`, string(got.Pending.ActionRequests[0].Arguments))

	got.Messages = append(got.Messages, llm.UserMessage("more"))
	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, again.Messages, 1)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(WithTTL(time.Hour), WithClock(clock.Now))

	require.NoError(t, s.Put(ctx, "old", sampleState()))
	clock.Advance(30 * time.Minute)
	require.NoError(t, s.Put(ctx, "new", sampleState()))

	// Access refreshes the idle timer.
	clock.Advance(20 * time.Minute)
	_, err := s.Get(ctx, "old")
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Put(ctx, "x", sampleState()))
	clock.Advance(2 * time.Hour)
	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLockedThreadsSurviveEviction(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(WithTTL(time.Minute), WithMaxThreads(2), WithClock(clock.Now))

	unlock, err := s.Lock(ctx, "busy")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "busy", sampleState()))
	require.NoError(t, s.Put(ctx, "a", sampleState()))
	require.NoError(t, s.Put(ctx, "b", sampleState()))

	// "busy" is least recently used but locked, so "a" goes instead.
	assert.Equal(t, 2, s.Len())
	_, err = s.Get(ctx, "busy")
	require.NoError(t, err)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Sweep())
	_, err = s.Get(ctx, "busy")
	require.NoError(t, err)

	unlock()
	unlock()
	clock.Advance(time.Hour)
	assert.Equal(t, 1, s.Sweep())
}

func TestLRUOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMaxThreads(2))

	require.NoError(t, s.Put(ctx, "a", State{}))
	require.NoError(t, s.Put(ctx, "b", State{}))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "c", State{}))

	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "a")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestLockExcludesSameThread(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(ctx, "t1")
			if err != nil {
				return
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)

	s.mu.Lock()
	assert.Empty(t, s.locks)
	s.mu.Unlock()
}

func TestLockIndependentThreadsAndCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	unlockA, err := s.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := s.Lock(ctx, "b")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(waitCtx, "a")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlockA()
	unlockB()

	unlock, err := s.Lock(ctx, "a")
	require.NoError(t, err)
	unlock()
}

func TestJanitor(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(WithTTL(time.Minute), WithClock(clock.Now))
	require.NoError(t, s.Put(context.Background(), "t1", State{}))
	clock.Advance(time.Hour)

	s.Start(time.Millisecond)
	s.Start(time.Millisecond)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
}
