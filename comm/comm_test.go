package comm

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWorld(t *testing.T, size int, opts WorldOptions, fn func(ctx context.Context, c Communicator) error) error {
	t.Helper()
	w, err := NewWorld(size, opts)
	require.NoError(t, err)
	return w.Run(context.Background(), fn)
}

func TestCollectives(t *testing.T) {
	const size = 4
	var mu sync.Mutex
	prefixes := make([]int, size)
	totals := make([]int, size)

	err := runWorld(t, size, WorldOptions{}, func(ctx context.Context, c Communicator) error {
		vals, err := AllGather(ctx, c, c.Rank()*10)
		if err != nil {
			return err
		}
		if len(vals) != size || vals[3] != 30 {
			return errors.New("all-gather returned wrong values")
		}

		// Demands 1, 2, 3, 4
		prefix, total, err := ExclusiveScan(ctx, c, c.Rank()+1)
		if err != nil {
			return err
		}
		mu.Lock()
		prefixes[c.Rank()] = prefix
		totals[c.Rank()] = total
		mu.Unlock()

		m, err := AllReduceMax(ctx, c, c.Rank())
		if err != nil {
			return err
		}
		if m != size-1 {
			return errors.New("wrong max")
		}

		some, err := AnyTrue(ctx, c, c.Rank() == 2)
		if err != nil {
			return err
		}
		none, err := AnyTrue(ctx, c, false)
		if err != nil {
			return err
		}
		if !some || none {
			return errors.New("wrong any-true")
		}
		return Barrier(ctx, c)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 6}, prefixes)
	assert.Equal(t, []int{10, 10, 10, 10}, totals)
}

type testRecord struct {
	From  int    `msgpack:"f"`
	Index int    `msgpack:"i"`
	Text  string `msgpack:"t"`
}

func TestSparseExchange(t *testing.T) {
	const size = 3
	var mu sync.Mutex
	got := make(map[int][]testRecord)
	plans := make([]*Plan, size)

	err := runWorld(t, size, WorldOptions{CompressThreshold: -1}, func(ctx context.Context, c Communicator) error {
		// Rank r sends r+1 records to the next rank only
		next := (c.Rank() + 1) % size
		pack := func(x *Exchange) error {
			for i := 0; i <= c.Rank(); i++ {
				if err := x.Buffer(next).Pack(testRecord{From: c.Rank(), Index: i, Text: "side"}); err != nil {
					return err
				}
			}
			return nil
		}

		x := NewExchange(c)
		if err := pack(x); err != nil {
			return err
		}
		plan, err := x.PlanExchange(ctx)
		if err != nil {
			return err
		}
		if err := pack(x); err != nil {
			return err
		}
		bufs, err := x.ExecuteExchange(ctx)
		if err != nil {
			return err
		}
		var recs []testRecord
		err = UnpackAll(bufs, func(from int, rec testRecord) error {
			if from != rec.From {
				return errors.New("record attributed to wrong rank")
			}
			recs = append(recs, rec)
			return nil
		})
		mu.Lock()
		got[c.Rank()] = recs
		plans[c.Rank()] = plan
		mu.Unlock()
		return err
	})
	require.NoError(t, err)

	assert.Len(t, got[0], 3, "rank 0 receives from rank 2")
	assert.Len(t, got[1], 1)
	assert.Len(t, got[2], 2)
	for r, recs := range got {
		for i, rec := range recs {
			assert.Equal(t, (r+size-1)%size, rec.From)
			assert.Equal(t, i, rec.Index, "records arrive in packing order")
		}
	}
	assert.NoError(t, ValidatePlans(plans))
}

func TestExchangeMisuse(t *testing.T) {
	err := runWorld(t, 1, WorldOptions{}, func(ctx context.Context, c Communicator) error {
		x := NewExchange(c)
		_, err := x.ExecuteExchange(ctx)
		assert.ErrorIs(t, err, ErrNotPlanned)

		if err := x.Buffer(0).Pack(testRecord{Index: 1}); err != nil {
			return err
		}
		if _, err := x.PlanExchange(ctx); err != nil {
			return err
		}
		_, err = x.PlanExchange(ctx)
		assert.ErrorIs(t, err, ErrAlreadyPlanned)

		// Fill with one record, then one too many
		assert.NoError(t, x.Buffer(0).Pack(testRecord{Index: 1}))
		assert.ErrorIs(t, x.Buffer(0).Pack(testRecord{Index: 2}), ErrBufferOverrun)

		// Underfilled buffers are rejected before anything is sent
		y := NewExchange(c)
		if err := y.Buffer(0).Pack(testRecord{Index: 1}); err != nil {
			return err
		}
		if _, err := y.PlanExchange(ctx); err != nil {
			return err
		}
		_, err = y.ExecuteExchange(ctx)
		assert.ErrorIs(t, err, ErrPlanMismatch)
		return nil
	})
	require.NoError(t, err)
}

func TestCompressedPayload(t *testing.T) {
	big := bytes.Repeat([]byte("element-side-"), 1000)
	err := runWorld(t, 2, WorldOptions{CompressThreshold: 128}, func(ctx context.Context, c Communicator) error {
		send := [][]byte{big, big}
		recv, err := c.AllToAll(ctx, send)
		if err != nil {
			return err
		}
		if !bytes.Equal(recv[1-c.Rank()], big) {
			return errors.New("payload corrupted")
		}
		stats, ok := RankStats(c)
		if !ok || stats.WireBytes >= stats.BytesSent {
			return errors.New("payload was not compressed")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRankErrorCancelsWorld(t *testing.T) {
	boom := errors.New("boom")
	err := runWorld(t, 3, WorldOptions{}, func(ctx context.Context, c Communicator) error {
		if c.Rank() == 0 {
			return boom
		}
		return Barrier(ctx, c)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestValidatePlansDetectsAsymmetry(t *testing.T) {
	plans := []*Plan{
		{Rank: 0, Peers: []PeerPlan{{Rank: 1, SendCount: 8}}, SendSize: 8},
		{Rank: 1, Peers: []PeerPlan{{Rank: 0, RecvCount: 4}}, RecvSize: 4},
	}
	assert.Error(t, ValidatePlans(plans))

	plans[1].Peers[0].RecvCount = 8
	assert.NoError(t, ValidatePlans(plans))
}
