package ring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Descriptor is the decoded, publicly visible form of one event
// descriptor, returned by TryCopy.
type Descriptor struct {
	Seqno            uint64
	EventType        EventType
	PayloadSize      uint32
	RecordEpochNanos uint64
	PayloadBufOffset uint64
	ContentExt       [4]uint64
}

// Iterator is a reader bound to a ring image, implementing the
// try_copy/payload_check/payload_memcpy protocol of spec.md §4.5. Any
// number of Iterators may read the same image concurrently with each
// other and with the single Recorder.
type Iterator struct {
	h       *Handle
	cursor  uint64
	lastErr atomic.Value // string
}

// NewIterator binds an Iterator to an already-mapped Handle. The
// cursor starts at 0 ("before the first event"); call Init to
// position it at the ring's current tail instead of its start.
func NewIterator(h *Handle) *Iterator {
	return &Iterator{h: h}
}

// LastError returns the most recent diagnostic recorded by this
// Iterator, or "" if none occurred. See Recorder.LastError for why
// this is per-Iterator rather than process-wide.
func (it *Iterator) LastError() string {
	v, _ := it.lastErr.Load().(string)
	return v
}

func (it *Iterator) setLastError(msg string) {
	it.lastErr.Store(msg)
}

// Init positions the cursor at the ring's current last_seqno, the
// "start reading from here on out" initialization spec.md §4.5
// describes for a fresh reader that isn't replaying history.
func (it *Iterator) Init() {
	it.cursor = atomic.LoadUint64(&it.h.control.LastSeqno)
}

// Cursor returns the last seqno this Iterator has successfully
// advanced past.
func (it *Iterator) Cursor() uint64 {
	return it.cursor
}

// SetCursor repositions the cursor explicitly, e.g. to replay from
// seqno 1.
func (it *Iterator) SetCursor(seqno uint64) {
	it.cursor = seqno
}

// TryCopy attempts to read the descriptor at the given seqno. It
// returns ok=false if that slot currently holds a different seqno —
// either because the event hasn't been published yet, or because the
// ring has wrapped so many times the slot was overwritten by a later
// event.
//
// The descriptor body is read with a plain struct copy, then the
// slot's seqno is re-loaded atomically and compared against the
// requested value; a mismatch discards whatever was read. This is the
// same seqlock-style pattern spec.md §5 describes ("readers must
// tolerate arbitrary byte patterns"): non-seqno fields may be torn by
// a concurrent writer, which is fine because the seqno recheck catches
// every case that matters.
func (it *Iterator) TryCopy(seqno uint64) (Descriptor, bool) {
	if seqno == 0 {
		return Descriptor{}, false
	}

	h := it.h
	slotIdx := (seqno - 1) & h.descCapacityMask
	slot := &h.descriptors[slotIdx]

	raw := *slot

	if atomic.LoadUint64(&slot.Seqno) != seqno {
		return Descriptor{}, false
	}

	return Descriptor{
		Seqno:            seqno,
		EventType:        EventType(raw.EventType),
		PayloadSize:      raw.PayloadSize,
		RecordEpochNanos: raw.RecordEpochNanos,
		PayloadBufOffset: raw.PayloadBufOffset,
		ContentExt:       raw.ContentExt,
	}, true
}

// PayloadCheck reports whether desc's payload range is still inside
// the live window, per spec.md §4.5. A false result means the bytes
// may already have been overwritten; callers must not trust them.
func (it *Iterator) PayloadCheck(desc Descriptor) bool {
	return desc.PayloadBufOffset >= atomic.LoadUint64(&it.h.control.BufferWindowStart)
}

// PayloadPeek returns a zero-copy view of desc's payload range. The
// caller must have already checked PayloadCheck and must re-check it
// after reading, exactly as PayloadMemcpy does internally — Peek exists
// for callers (e.g. gopacket decoding) that want to avoid the copy
// PayloadMemcpy performs but still must honor the same protocol.
func (it *Iterator) PayloadPeek(desc Descriptor) Span {
	return it.h.span(desc.PayloadBufOffset, uint64(desc.PayloadSize))
}

// PayloadMemcpy copies desc's payload into dst, which must be at least
// desc.PayloadSize bytes, and returns the filled prefix. It performs
// the window check both before and after the copy — spec.md §4.5's
// "double-check after copy" — because the payload can expire while the
// copy is in flight; a false return means the bytes copied, if any,
// must be discarded.
func (it *Iterator) PayloadMemcpy(desc Descriptor, dst []byte) ([]byte, bool) {
	if !it.PayloadCheck(desc) {
		return nil, false
	}

	n := it.PayloadPeek(desc).CopyTo(dst)

	if !it.PayloadCheck(desc) {
		return nil, false
	}
	return dst[:n], true
}

// GapSize reports how many events were skipped between a requested
// seqno and the seqno actually observed in that slot, per spec.md
// §4.5's gap-detection guidance: 0 means no loss, every other value is
// the count of events the ring overwrote before this reader caught up.
func GapSize(requested, observed uint64) uint64 {
	if observed <= requested {
		return 0
	}
	return observed - requested
}

// Next advances past the cursor by one logical event: it attempts
// cursor+1, and if the ring has lapped the reader, the slot holds a
// later seqno instead; Next follows it and reports the gap. ok is
// false only when no new event is available yet.
func (it *Iterator) Next() (desc Descriptor, gap uint64, ok bool) {
	want := it.cursor + 1
	h := it.h
	for {
		observed := atomic.LoadUint64(&h.descriptors[(want-1)&h.descCapacityMask].Seqno)
		if observed < want {
			return Descriptor{}, 0, false
		}
		if desc, ok = it.TryCopy(observed); ok {
			break
		}
	}
	gap = GapSize(want, desc.Seqno)
	it.cursor = desc.Seqno
	return desc, gap, true
}

// WaitSeqno blocks, polling with b's backoff policy, until seqno target
// is observable or ctx is done. b is typically a
// *backoff.ExponentialBackOff; callers should Reset it before reuse.
// This is the ring core's one blocking entry point, grounded in the
// teacher's bird-adapter import loop's exponential-backoff reconnect
// polling (modules/route/bird-adapter/service.go).
func (it *Iterator) WaitSeqno(ctx context.Context, target uint64, b *backoff.ExponentialBackOff) (Descriptor, error) {
	for {
		if desc, ok := it.TryCopy(target); ok {
			return desc, nil
		}

		select {
		case <-ctx.Done():
			return Descriptor{}, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}

// GapReport summarizes loss observed while draining a ring with Next,
// for CLI/metrics surfaces that want a cumulative count rather than
// per-event deltas.
type GapReport struct {
	EventsRead uint64
	EventsLost uint64
	LargestGap uint64
}

// Add folds one Next() observation into the report.
func (g *GapReport) Add(gap uint64) {
	g.EventsRead++
	g.EventsLost += gap
	if gap > g.LargestGap {
		g.LargestGap = gap
	}
}

func (g GapReport) String() string {
	return fmt.Sprintf("events_read=%d events_lost=%d largest_gap=%d", g.EventsRead, g.EventsLost, g.LargestGap)
}
