// Package sideid hands out globally unique side identifiers. Ranges are
// reserved collectively so each rank can draw ids without further
// communication until its range runs out.
package sideid

import (
	"context"
	"errors"
	"fmt"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/ctxlog"
	"github.com/notargets/elemgraph/mesh"
)

// ErrPoolExhausted is returned by Next when no reserved id is left. Callers
// must Reserve before drawing more ids.
var ErrPoolExhausted = errors.New("sideid: pool exhausted")

type idRange struct {
	next, end mesh.EntityID
}

// Pool is one rank's share of the global side id namespace
type Pool struct {
	comm   comm.Communicator
	base   mesh.EntityID // first id not yet reserved by any rank
	ranges []idRange
	issued int
}

// NewPool creates an empty pool whose first reservation starts at first.
// Every rank must use the same first id.
func NewPool(c comm.Communicator, first mesh.EntityID) *Pool {
	if first == mesh.InvalidID {
		first = 1
	}
	return &Pool{comm: c, base: first}
}

// Reserve adds n ids to this rank's pool. Collective: every rank calls it,
// each with its own demand, and receives a range that no other rank holds.
func (p *Pool) Reserve(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("negative id reservation %d", n)
	}
	prefix, total, err := comm.ExclusiveScan(ctx, p.comm, n)
	if err != nil {
		return fmt.Errorf("side id reservation: %w", err)
	}
	start := p.base + mesh.EntityID(prefix)
	if n > 0 {
		p.ranges = append(p.ranges, idRange{next: start, end: start + mesh.EntityID(n)})
	}
	p.base += mesh.EntityID(total)
	ctxlog.FromContext(ctx).Debug("reserved side ids", "count", n, "first", start, "global", total)
	return nil
}

// EnsureAvailable tops the pool up so that at least n ids remain. Collective:
// when any rank falls short, every rank joins one more reservation.
func (p *Pool) EnsureAvailable(ctx context.Context, n int) error {
	short := max(0, n-p.Remaining())
	anyShort, err := comm.AnyTrue(ctx, p.comm, short > 0)
	if err != nil {
		return err
	}
	if !anyShort {
		return nil
	}
	return p.Reserve(ctx, short)
}

// Next returns the next reserved id
func (p *Pool) Next() (mesh.EntityID, error) {
	for len(p.ranges) > 0 {
		r := &p.ranges[0]
		if r.next < r.end {
			id := r.next
			r.next++
			p.issued++
			return id, nil
		}
		p.ranges = p.ranges[1:]
	}
	return mesh.InvalidID, ErrPoolExhausted
}

// Remaining returns the number of reserved ids not yet issued
func (p *Pool) Remaining() int {
	n := 0
	for _, r := range p.ranges {
		n += int(r.end - r.next)
	}
	return n
}

// Exhausted reports whether Next would fail
func (p *Pool) Exhausted() bool {
	return p.Remaining() == 0
}

// Issued returns the number of ids handed out by this rank
func (p *Pool) Issued() int {
	return p.issued
}
