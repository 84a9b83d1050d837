package comm

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// AllGather returns v from every rank, indexed by rank
func AllGather[T any](ctx context.Context, c Communicator, v T) ([]T, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("all-gather encode: %w", err)
	}
	send := make([][]byte, c.Size())
	for i := range send {
		send[i] = data
	}
	recv, err := c.AllToAll(ctx, send)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(recv))
	for i, b := range recv {
		if err := msgpack.Unmarshal(b, &out[i]); err != nil {
			return nil, fmt.Errorf("all-gather decode from rank %d: %w", i, err)
		}
	}
	return out, nil
}

// ExclusiveScan returns the sum of v over lower ranks and over all ranks
func ExclusiveScan(ctx context.Context, c Communicator, v int) (prefix, total int, err error) {
	vals, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, 0, err
	}
	for r, x := range vals {
		if r < c.Rank() {
			prefix += x
		}
		total += x
	}
	return prefix, total, nil
}

// AllReduceSum returns the sum of v over all ranks
func AllReduceSum(ctx context.Context, c Communicator, v int) (int, error) {
	_, total, err := ExclusiveScan(ctx, c, v)
	return total, err
}

// AllReduceMax returns the maximum of v over all ranks
func AllReduceMax(ctx context.Context, c Communicator, v int) (int, error) {
	vals, err := AllGather(ctx, c, v)
	if err != nil {
		return 0, err
	}
	m := vals[0]
	for _, x := range vals[1:] {
		m = max(m, x)
	}
	return m, nil
}

// AnyTrue reports whether b is true on any rank
func AnyTrue(ctx context.Context, c Communicator, b bool) (bool, error) {
	vals, err := AllGather(ctx, c, b)
	if err != nil {
		return false, err
	}
	for _, x := range vals {
		if x {
			return true, nil
		}
	}
	return false, nil
}

// Barrier blocks until every rank has reached it
func Barrier(ctx context.Context, c Communicator) error {
	_, err := c.AllToAll(ctx, make([][]byte, c.Size()))
	return err
}
