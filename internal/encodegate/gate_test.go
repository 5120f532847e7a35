// SPDX-License-Identifier: MIT

package encodegate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireBackpressure(t *testing.T) {
	g := New(3)

	permits := make([]*Permit, 0, 3)
	for i := 0; i < 3; i++ {
		p, ok := g.TryAcquire()
		require.True(t, ok, "slot %d should be free", i)
		permits = append(permits, p)
	}

	// Capacity exhausted: the N+1th try-acquire must fail fast.
	_, ok := g.TryAcquire()
	assert.False(t, ok)

	permits[0].Release()
	p, ok := g.TryAcquire()
	assert.True(t, ok)
	p.Release()

	for _, p := range permits[1:] {
		p.Release()
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	g := New(1)

	p, err := g.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Permit)
	go func() {
		p2, err := g.Acquire(context.Background())
		if err != nil {
			close(acquired)
			return
		}
		acquired <- p2
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while slot is held")
	case <-time.After(30 * time.Millisecond):
	}

	p.Release()

	select {
	case p2 := <-acquired:
		require.NotNil(t, p2)
		p2.Release()
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after release")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	g := New(1)
	p, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIdempotent(t *testing.T) {
	g := New(1)

	p, ok := g.TryAcquire()
	require.True(t, ok)

	p.Release()
	p.Release() // double release must not free a second slot

	p2, ok := g.TryAcquire()
	require.True(t, ok)

	_, ok = g.TryAcquire()
	assert.False(t, ok, "double release must not inflate capacity")
	p2.Release()

	var nilPermit *Permit
	nilPermit.Release() // no-op
}

func TestDefaultSlots(t *testing.T) {
	assert.Equal(t, DefaultSlots, New(0).Slots())
	assert.Equal(t, 7, New(7).Slots())
}
