// Package comm is the communication substrate used by the element graph:
// a rank-addressed all-to-all primitive, collectives built on it, and the
// two-phase sparse exchange (plan sizes, then execute).
//
// World runs N ranks as goroutines in one process. Every rank must issue the
// same sequence of collective calls; a round cannot be abandoned halfway, so
// an error on one rank cancels the whole run.
package comm

import (
	"context"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/notargets/elemgraph/ctxlog"
	"golang.org/x/sync/errgroup"
)

// Communicator is one rank's view of the process group
type Communicator interface {
	Rank() int
	Size() int
	// AllToAll delivers send[p] to rank p and returns what every rank sent
	// to this one, indexed by source rank. It blocks until all ranks join.
	AllToAll(ctx context.Context, send [][]byte) ([][]byte, error)
}

// WorldOptions configure an in-process world
type WorldOptions struct {
	// Payloads longer than this are snappy compressed; negative disables
	CompressThreshold int
}

// World is a group of ranks connected by buffered channels
type World struct {
	size  int
	opts  WorldOptions
	links [][]chan []byte // [from][to]
}

const (
	payloadRaw byte = iota
	payloadSnappy
)

// NewWorld creates a world of size ranks
func NewWorld(size int, opts WorldOptions) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid world size %d", size)
	}
	w := &World{size: size, opts: opts, links: make([][]chan []byte, size)}
	for from := range w.links {
		w.links[from] = make([]chan []byte, size)
		for to := range w.links[from] {
			if from != to {
				w.links[from][to] = make(chan []byte, 1)
			}
		}
	}
	return w, nil
}

// Size returns the number of ranks
func (w *World) Size() int { return w.size }

// Run calls fn once per rank, each in its own goroutine, and waits for all
// of them. The first error cancels the context of the remaining ranks.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Communicator) error) error {
	w.drain()
	g, gctx := errgroup.WithContext(ctx)
	base := ctxlog.FromContext(ctx)
	for r := 0; r < w.size; r++ {
		c := &rankComm{world: w, rank: r}
		g.Go(func() error {
			rctx := ctxlog.WithLogger(gctx, base.With("rank", r))
			if err := fn(rctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// drain discards messages left behind by a run that failed mid-round
func (w *World) drain() {
	for from := range w.links {
		for to, ch := range w.links[from] {
			if from == to {
				continue
			}
			for len(ch) > 0 {
				<-ch
			}
		}
	}
}

func (w *World) encode(p []byte) []byte {
	if w.opts.CompressThreshold >= 0 && len(p) > w.opts.CompressThreshold {
		enc := snappy.Encode(nil, p)
		return append([]byte{payloadSnappy}, enc...)
	}
	return append([]byte{payloadRaw}, p...)
}

func (w *World) decode(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch p[0] {
	case payloadRaw:
		return p[1:], nil
	case payloadSnappy:
		out, err := snappy.Decode(nil, p[1:])
		if err != nil {
			return nil, fmt.Errorf("corrupt compressed payload: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown payload encoding %d", p[0])
}

// Stats counts the traffic of one rank
type Stats struct {
	Rounds    int
	BytesSent uint64
	BytesRecv uint64
	WireBytes uint64 // after compression
}

type rankComm struct {
	world *World
	rank  int
	stats Stats
}

func (c *rankComm) Rank() int { return c.rank }
func (c *rankComm) Size() int { return c.world.size }

// Stats returns the traffic counters of this rank
func (c *rankComm) Stats() Stats { return c.stats }

func (c *rankComm) AllToAll(ctx context.Context, send [][]byte) ([][]byte, error) {
	w := c.world
	if len(send) != w.size {
		return nil, fmt.Errorf("all-to-all with %d buffers in a world of %d", len(send), w.size)
	}
	recv := make([][]byte, w.size)
	var sent, wire, got uint64
	for to := 0; to < w.size; to++ {
		if to == c.rank {
			recv[to] = slices.Clone(send[to])
			continue
		}
		payload := w.encode(send[to])
		sent += uint64(len(send[to]))
		wire += uint64(len(payload))
		select {
		case w.links[c.rank][to] <- payload:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for from := 0; from < w.size; from++ {
		if from == c.rank {
			continue
		}
		select {
		case p := <-w.links[from][c.rank]:
			data, err := w.decode(p)
			if err != nil {
				return nil, fmt.Errorf("message from rank %d: %w", from, err)
			}
			recv[from] = data
			got += uint64(len(data))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.stats.Rounds++
	c.stats.BytesSent += sent
	c.stats.BytesRecv += got
	c.stats.WireBytes += wire
	ctxlog.FromContext(ctx).Debug("all-to-all",
		"round", c.stats.Rounds,
		"sent", humanize.Bytes(sent),
		"received", humanize.Bytes(got),
		"wire", humanize.Bytes(wire))
	return recv, nil
}

// RankStats returns traffic counters when c is a World rank
func RankStats(c Communicator) (Stats, bool) {
	rc, ok := c.(*rankComm)
	if !ok {
		return Stats{}, false
	}
	return rc.Stats(), true
}
