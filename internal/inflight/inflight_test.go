// SPDX-License-Identifier: MIT

package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueryExactlyOnce(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})

	r := New(func(ctx context.Context, k string) (string, error) {
		calls.Add(1)
		<-release
		return "result:" + k, nil
	})

	const n = 10
	results := make([]string, n)
	errs := make([]error, n)

	var started, finished sync.WaitGroup
	for i := 0; i < n; i++ {
		started.Add(1)
		finished.Add(1)
		go func(i int) {
			defer finished.Done()
			started.Done()
			results[i], errs[i] = r.Query(context.Background(), "k1")
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond) // let all callers subscribe
	close(release)
	finished.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "result:k1", results[i])
	}
	assert.Equal(t, 0, r.Len(), "entry must be removed after completion")
}

func TestQuerySharedError(t *testing.T) {
	sentinel := errors.New("encode exploded")
	var calls atomic.Int64

	r := New(func(ctx context.Context, k int) (int, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return 0, sentinel
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Query(context.Background(), 7)
			assert.ErrorIs(t, err, sentinel)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestQueryDistinctKeysRunIndependently(t *testing.T) {
	var calls atomic.Int64
	r := New(func(ctx context.Context, k string) (string, error) {
		calls.Add(1)
		return k, nil
	})

	a, err := r.Query(context.Background(), "a")
	require.NoError(t, err)
	b, err := r.Query(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
	assert.Equal(t, int64(2), calls.Load())
}

func TestSubscriberCancellationDoesNotCancelWork(t *testing.T) {
	workDone := make(chan struct{})
	release := make(chan struct{})

	r := New(func(ctx context.Context, k string) (string, error) {
		<-release
		close(workDone)
		return "ok", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Query(ctx, "k")
		errCh <- err
	}()

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	// Work is still running and completes on its own.
	close(release)
	select {
	case <-workDone:
	case <-time.After(time.Second):
		t.Fatal("work was cancelled by subscriber departure")
	}

	// Late caller after completion starts a fresh generation.
	v, err := r.Query(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestWorkPanicIsSurfacedAndEntryRemoved(t *testing.T) {
	r := New(func(ctx context.Context, k string) (string, error) {
		panic("boom")
	})

	_, err := r.Query(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 0, r.Len())

	// Registry stays usable after a panic.
	r2 := New(func(ctx context.Context, k string) (string, error) { return "fine", nil })
	v, err := r2.Query(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "fine", v)
}

func TestFreshGenerationAfterCompletion(t *testing.T) {
	var calls atomic.Int64
	r := New(func(ctx context.Context, k string) (int, error) {
		return int(calls.Add(1)), nil
	})

	first, err := r.Query(context.Background(), "k")
	require.NoError(t, err)
	second, err := r.Query(context.Background(), "k")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second, "completed entries must not pin old results")
}
