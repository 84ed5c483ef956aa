package flash

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/sysbadge/pkg"
	"github.com/ardnew/sysbadge/protocol"
)

// Op is a flash update operation.
type Op uint8

// Operations.
const (
	OpErase Op = iota
	OpWrite
)

func (op Op) String() string {
	if op == OpErase {
		return "erase"
	}
	return "write"
}

func (op Op) status() protocol.SystemUpdateStatus {
	if op == OpErase {
		return protocol.StatusErasing
	}
	return protocol.StatusWriting
}

// Request is one queued update operation. Offsets are relative to the region.
type Request struct {
	Op     Op
	Offset uint32
	Data   []byte
}

// Updater is the single consumer of roster region erase and program requests.
// Producers enqueue without blocking; the outcome of each request is published
// to a latest-wins status signal read by Poll.
type Updater struct {
	guard  *Guard
	region Region

	requests chan Request
	pending  atomic.Int32  // queued plus running
	queued   atomic.Uint32 // status of the most recently queued op
	running  atomic.Uint32 // status of the running op, 0 when idle
	status   Signal[protocol.SystemUpdateStatus]
}

// NewUpdater returns an updater for region. Run must be started for requests
// to make progress.
func NewUpdater(guard *Guard, region Region) *Updater {
	return &Updater{
		guard:    guard,
		region:   region,
		requests: make(chan Request, 1),
	}
}

// Region returns the roster region the updater writes.
func (u *Updater) Region() Region { return u.region }

// TryErase enqueues an erase of the whole region.
func (u *Updater) TryErase() error {
	return u.enqueue(Request{Op: OpErase, Offset: 0})
}

// TryWrite enqueues a program of data at offset. Offset and length must be
// multiples of 4 and lie inside the region. Data is copied.
func (u *Updater) TryWrite(offset uint32, data []byte) error {
	n := uint32(len(data))
	if offset%protocol.ChunkAlign != 0 || n%protocol.ChunkAlign != 0 || n == 0 {
		return fmt.Errorf("write 0x%x+%d: %w", offset, n, pkg.ErrFlashAlignment)
	}
	if !u.region.Contains(offset, n) {
		return fmt.Errorf("write 0x%x+%d outside %v: %w", offset, n, u.region, pkg.ErrFlashBounds)
	}
	return u.enqueue(Request{Op: OpWrite, Offset: offset, Data: append([]byte(nil), data...)})
}

func (u *Updater) enqueue(req Request) error {
	u.pending.Add(1)
	select {
	case u.requests <- req:
		u.queued.Store(uint32(req.Op.status()))
		return nil
	default:
		u.pending.Add(-1)
		return pkg.ErrBackpressure
	}
}

// Busy reports whether a request is queued or running.
func (u *Updater) Busy() bool {
	return u.pending.Load() > 0
}

// Poll returns the update status for a host poll: Erasing or Writing while a
// request is queued or running, otherwise the latest published outcome, which
// is consumed, otherwise NotInUpdateMode.
func (u *Updater) Poll() protocol.SystemUpdateStatus {
	if s := u.running.Load(); s != 0 {
		return protocol.SystemUpdateStatus(s)
	}
	if u.Busy() {
		if s := u.queued.Load(); s != 0 {
			return protocol.SystemUpdateStatus(s)
		}
		return protocol.StatusWriting
	}
	if s, ok := u.status.Take(); ok {
		return s
	}
	return protocol.StatusNotInUpdateMode
}

// Signal publishes s, replacing any unread outcome.
func (u *Updater) Signal(s protocol.SystemUpdateStatus) {
	u.status.Set(s)
}

// Reset discards any unread outcome.
func (u *Updater) Reset() {
	u.status.Reset()
}

// Run consumes requests until ctx is done. A request that has started always
// runs to completion.
func (u *Updater) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentFlash, "updater started", "region", u.region.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-u.requests:
			u.process(context.WithoutCancel(ctx), req)
		}
	}
}

func (u *Updater) process(ctx context.Context, req Request) {
	u.running.Store(uint32(req.Op.status()))
	defer func() {
		u.running.Store(0)
		u.pending.Add(-1)
	}()

	var (
		err    error
		result protocol.SystemUpdateStatus
	)
	switch req.Op {
	case OpErase:
		err = u.guard.Do(ctx, func(f Flash) error {
			return f.Erase(ctx, u.region.Offset, u.region.Size)
		})
		result = protocol.StatusErasedForUpdate
		if err != nil {
			result = protocol.StatusEraseError
		}
	case OpWrite:
		err = u.guard.Do(ctx, func(f Flash) error {
			return f.Write(ctx, u.region.Offset+req.Offset, req.Data)
		})
		result = protocol.StatusWritten
		if err != nil {
			result = protocol.StatusWriteError
		}
	}

	if err != nil {
		pkg.LogError(pkg.ComponentFlash, "update operation failed",
			"op", req.Op.String(), "offset", req.Offset, "error", err)
	} else {
		pkg.LogDebug(pkg.ComponentFlash, "update operation done",
			"op", req.Op.String(), "offset", req.Offset, "bytes", len(req.Data))
	}
	u.status.Set(result)
}
