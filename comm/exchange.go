package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotPlanned is returned when an exchange is executed before its
	// sizes were agreed
	ErrNotPlanned = errors.New("comm: exchange executed before it was planned")
	// ErrAlreadyPlanned is returned when sizes are exchanged twice
	ErrAlreadyPlanned = errors.New("comm: exchange already planned")
	// ErrBufferOverrun is returned when more data is packed than planned
	ErrBufferOverrun = errors.New("comm: packed more data than planned")
	// ErrPlanMismatch is returned when filled or received sizes differ from
	// the plan
	ErrPlanMismatch = errors.New("comm: exchange does not match its plan")
)

// PeerPlan describes the traffic with one other rank
type PeerPlan struct {
	Rank int

	// Location in the contiguous send and receive buffers
	SendOffset int
	SendCount  int
	RecvOffset int
	RecvCount  int
}

// Plan is the agreed size of every buffer of one exchange round
type Plan struct {
	Rank     int
	Peers    []PeerPlan // ranks with traffic in either direction, ascending
	SendSize int
	RecvSize int

	sendOffsets []int // indexed by rank
	sendCounts  []int
	recvCounts  []int
}

// Validate checks that peer buffers are contiguous and add up to the totals
func (p *Plan) Validate() error {
	sendOff, recvOff := 0, 0
	for _, peer := range p.Peers {
		if peer.SendOffset != sendOff {
			return fmt.Errorf("rank %d: send offset for rank %d is %d, expected %d",
				p.Rank, peer.Rank, peer.SendOffset, sendOff)
		}
		if peer.RecvOffset != recvOff {
			return fmt.Errorf("rank %d: receive offset for rank %d is %d, expected %d",
				p.Rank, peer.Rank, peer.RecvOffset, recvOff)
		}
		if peer.SendCount < 0 || peer.RecvCount < 0 {
			return fmt.Errorf("rank %d: negative count for rank %d", p.Rank, peer.Rank)
		}
		sendOff += peer.SendCount
		recvOff += peer.RecvCount
	}
	if sendOff != p.SendSize || recvOff != p.RecvSize {
		return fmt.Errorf("rank %d: buffers sum to %d/%d, plan says %d/%d",
			p.Rank, sendOff, recvOff, p.SendSize, p.RecvSize)
	}
	return nil
}

// ValidatePlans checks that if rank A plans to send n bytes to B then B
// plans to receive exactly n bytes from A
func ValidatePlans(plans []*Plan) error {
	sends := make(map[[2]int]int)
	for _, p := range plans {
		for _, peer := range p.Peers {
			if peer.SendCount > 0 {
				sends[[2]int{p.Rank, peer.Rank}] = peer.SendCount
			}
		}
	}
	for _, p := range plans {
		for _, peer := range p.Peers {
			if peer.RecvCount == 0 {
				continue
			}
			key := [2]int{peer.Rank, p.Rank}
			n, ok := sends[key]
			if !ok {
				return fmt.Errorf("rank %d expects to receive from %d, but %d doesn't send",
					p.Rank, peer.Rank, peer.Rank)
			}
			if n != peer.RecvCount {
				return fmt.Errorf("count mismatch: rank %d sends %d to %d, but %d expects %d",
					peer.Rank, n, p.Rank, p.Rank, peer.RecvCount)
			}
			delete(sends, key)
		}
	}
	for key := range sends {
		return fmt.Errorf("rank %d sends to %d, which does not expect it", key[0], key[1])
	}
	return nil
}

// SendBuffer collects the records for one destination rank. Before the
// exchange is planned it only counts bytes.
type SendBuffer struct {
	proc   int
	sizing bool
	size   int
	data   []byte
}

// Pack appends one msgpack-encoded record
func (b *SendBuffer) Pack(v any) error {
	rec, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record for rank %d: %w", b.proc, err)
	}
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(rec)))
	if b.sizing {
		b.size += n + len(rec)
		return nil
	}
	if len(b.data)+n+len(rec) > cap(b.data) {
		return fmt.Errorf("%w: rank %d buffer holds %d bytes", ErrBufferOverrun, b.proc, cap(b.data))
	}
	b.data = append(b.data, hdr[:n]...)
	b.data = append(b.data, rec...)
	return nil
}

// Exchange is one sparse communication round. Records are packed twice:
// once to size the buffers, PlanExchange agrees on sizes, then the same
// records are packed again and ExecuteExchange delivers them.
type Exchange struct {
	comm     Communicator
	bufs     []*SendBuffer
	plan     *Plan
	sendData []byte
	executed bool
}

// NewExchange starts an exchange round in sizing mode
func NewExchange(c Communicator) *Exchange {
	x := &Exchange{comm: c, bufs: make([]*SendBuffer, c.Size())}
	for p := range x.bufs {
		x.bufs[p] = &SendBuffer{proc: p, sizing: true}
	}
	return x
}

// Buffer returns the send buffer for rank proc
func (x *Exchange) Buffer(proc int) *SendBuffer {
	return x.bufs[proc]
}

// Sizing reports whether the exchange is still counting bytes
func (x *Exchange) Sizing() bool {
	return x.plan == nil
}

// PlanExchange exchanges buffer sizes with every rank and allocates the send
// buffer. Collective.
func (x *Exchange) PlanExchange(ctx context.Context) (*Plan, error) {
	if x.plan != nil {
		return nil, ErrAlreadyPlanned
	}
	n := x.comm.Size()
	sizes := make([][]byte, n)
	for p, b := range x.bufs {
		sizes[p] = binary.AppendUvarint(nil, uint64(b.size))
	}
	recv, err := x.comm.AllToAll(ctx, sizes)
	if err != nil {
		return nil, fmt.Errorf("size exchange: %w", err)
	}

	plan := &Plan{
		Rank:        x.comm.Rank(),
		sendOffsets: make([]int, n),
		sendCounts:  make([]int, n),
		recvCounts:  make([]int, n),
	}
	for p := 0; p < n; p++ {
		count, k := binary.Uvarint(recv[p])
		if k <= 0 {
			return nil, fmt.Errorf("bad size message from rank %d", p)
		}
		plan.sendOffsets[p] = plan.SendSize
		plan.sendCounts[p] = x.bufs[p].size
		plan.recvCounts[p] = int(count)
		if plan.sendCounts[p] > 0 || plan.recvCounts[p] > 0 {
			plan.Peers = append(plan.Peers, PeerPlan{
				Rank:       p,
				SendOffset: plan.SendSize,
				SendCount:  plan.sendCounts[p],
				RecvOffset: plan.RecvSize,
				RecvCount:  plan.recvCounts[p],
			})
		}
		plan.SendSize += plan.sendCounts[p]
		plan.RecvSize += plan.recvCounts[p]
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	x.sendData = make([]byte, plan.SendSize)
	for p, b := range x.bufs {
		off, count := plan.sendOffsets[p], plan.sendCounts[p]
		b.sizing = false
		b.data = x.sendData[off : off : off+count]
	}
	x.plan = plan
	return plan, nil
}

// ExecuteExchange sends the filled buffers and returns the non-empty
// receive buffers in rank order. Collective.
func (x *Exchange) ExecuteExchange(ctx context.Context) ([]*RecvBuffer, error) {
	if x.plan == nil {
		return nil, ErrNotPlanned
	}
	if x.executed {
		return nil, fmt.Errorf("comm: exchange executed twice")
	}
	x.executed = true

	send := make([][]byte, len(x.bufs))
	for p, b := range x.bufs {
		if len(b.data) != x.plan.sendCounts[p] {
			return nil, fmt.Errorf("%w: packed %d bytes for rank %d, planned %d",
				ErrPlanMismatch, len(b.data), p, x.plan.sendCounts[p])
		}
		send[p] = b.data
	}
	recv, err := x.comm.AllToAll(ctx, send)
	if err != nil {
		return nil, err
	}
	var out []*RecvBuffer
	for p, data := range recv {
		if len(data) != x.plan.recvCounts[p] {
			return nil, fmt.Errorf("%w: received %d bytes from rank %d, planned %d",
				ErrPlanMismatch, len(data), p, x.plan.recvCounts[p])
		}
		if len(data) > 0 {
			out = append(out, &RecvBuffer{From: p, data: data})
		}
	}
	return out, nil
}

// RecvBuffer holds the records one rank sent to this one
type RecvBuffer struct {
	From int
	data []byte
	off  int
}

// Remaining reports whether unread records are left
func (b *RecvBuffer) Remaining() bool {
	return b.off < len(b.data)
}

// Unpack decodes the next record into v
func (b *RecvBuffer) Unpack(v any) error {
	n, k := binary.Uvarint(b.data[b.off:])
	if k <= 0 || b.off+k+int(n) > len(b.data) {
		return fmt.Errorf("truncated record from rank %d at offset %d", b.From, b.off)
	}
	b.off += k
	rec := b.data[b.off : b.off+int(n)]
	b.off += int(n)
	if err := msgpack.Unmarshal(rec, v); err != nil {
		return fmt.Errorf("decode record from rank %d: %w", b.From, err)
	}
	return nil
}

// Communicate runs a complete exchange round, calling pack once to size the
// buffers and once to fill them. pack must produce the same records both
// times.
func Communicate(ctx context.Context, c Communicator, pack func(x *Exchange) error) ([]*RecvBuffer, error) {
	x := NewExchange(c)
	if err := pack(x); err != nil {
		return nil, err
	}
	if _, err := x.PlanExchange(ctx); err != nil {
		return nil, err
	}
	if err := pack(x); err != nil {
		return nil, err
	}
	return x.ExecuteExchange(ctx)
}

// UnpackAll decodes every record of every buffer with fn, which receives
// the source rank
func UnpackAll[T any](bufs []*RecvBuffer, fn func(from int, rec T) error) error {
	for _, b := range bufs {
		for b.Remaining() {
			var rec T
			if err := b.Unpack(&rec); err != nil {
				return err
			}
			if err := fn(b.From, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
