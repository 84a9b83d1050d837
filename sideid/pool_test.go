package sideid

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolUniqueAcrossRanks(t *testing.T) {
	const size = 3
	w, err := comm.NewWorld(size, comm.WorldOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	issued := make(map[mesh.EntityID]int)
	dup := false

	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		p := NewPool(c, 100)
		// Uneven demands over two reservations, rank 1 asks for nothing first
		first := []int{2, 0, 5}[c.Rank()]
		if err := p.Reserve(ctx, first); err != nil {
			return err
		}
		if err := p.Reserve(ctx, 3); err != nil {
			return err
		}
		if p.Remaining() != first+3 {
			return errors.New("remaining does not match reservations")
		}
		for !p.Exhausted() {
			id, err := p.Next()
			if err != nil {
				return err
			}
			mu.Lock()
			if _, seen := issued[id]; seen {
				dup = true
			}
			issued[id] = c.Rank()
			mu.Unlock()
		}
		if _, err := p.Next(); !errors.Is(err, ErrPoolExhausted) {
			return errors.New("expected exhausted pool")
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, dup, "an id was issued twice")
	assert.Len(t, issued, 2+0+5+3*size)

	// Ranges are rank ordered: the first reservation covers 100..106
	assert.Equal(t, 0, issued[100])
	assert.Equal(t, 2, issued[102])
	assert.Equal(t, 0, issued[107])
}

func TestEnsureAvailable(t *testing.T) {
	w, err := comm.NewWorld(2, comm.WorldOptions{})
	require.NoError(t, err)

	err = w.Run(context.Background(), func(ctx context.Context, c comm.Communicator) error {
		p := NewPool(c, 1)
		if err := p.Reserve(ctx, 2); err != nil {
			return err
		}
		// Only rank 1 falls short, both ranks join the top-up
		need := []int{1, 5}[c.Rank()]
		if err := p.EnsureAvailable(ctx, need); err != nil {
			return err
		}
		if p.Remaining() < need {
			return errors.New("pool still short")
		}
		// Nobody short: no extra round, remaining unchanged
		before := p.Remaining()
		if err := p.EnsureAvailable(ctx, 1); err != nil {
			return err
		}
		if p.Remaining() != before {
			return errors.New("unexpected top-up")
		}
		return nil
	})
	require.NoError(t, err)
}
