package ring

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Recorder is the single writer bound to a ring image, implementing the
// reservation protocol of spec.md §4.4. A process must never run two
// Recorders against the same image concurrently; the ring enforces
// nothing here, the same way the teacher's pdump worker ring assumes
// exactly one dataplane worker owns a given ring slot.
type Recorder struct {
	h       *Handle
	lastErr atomic.Value // string
}

// NewRecorder binds a Recorder to an already-mapped, writable Handle.
func NewRecorder(h *Handle) *Recorder {
	return &Recorder{h: h}
}

// LastError returns the most recent dropped-event diagnostic recorded
// by this Recorder, or "" if none occurred. Unlike the package-level
// LastError, this is scoped to the single owner of r, which is the
// faithful translation of spec.md's thread-local error slot for an
// object that (per the single-writer contract) really does have one
// owner.
func (r *Recorder) LastError() string {
	v, _ := r.lastErr.Load().(string)
	return v
}

func (r *Recorder) setLastError(msg string) {
	r.lastErr.Store(msg)
}

// Reservation is a claimed descriptor slot and payload range, returned
// by Reserve. The caller fills Span() directly (zero-copy) and then
// calls Commit to publish the event.
type Reservation struct {
	rec        *Recorder
	seqno      uint64
	slot       *rawDescriptor
	off        uint64
	eventType  EventType
	contentExt [4]uint64
	span       Span
}

// Span returns the writable payload range for this reservation.
func (res *Reservation) Span() Span {
	return res.span
}

// Commit fills the descriptor body and publishes the event by
// release-storing its seqno, per spec.md §4.4 steps 7-8. This is the
// linearization point after which readers may observe the event.
func (res *Reservation) Commit() {
	slot := res.slot
	slot.EventType = uint16(res.eventType)
	slot.PayloadSize = uint32(res.span.Len())
	slot.RecordEpochNanos = uint64(time.Now().UnixNano())
	slot.PayloadBufOffset = res.off
	slot.ContentExt = res.contentExt
	atomic.StoreUint64(&slot.Seqno, res.seqno)
}

// Reserve claims the next descriptor slot and requestedSize payload
// bytes for an event of the given type, implementing spec.md §4.4
// steps 1-5. requestedSize is intentionally wider than the
// descriptor's 32-bit payload_size field so the 2^32 overflow
// threshold itself is representable.
//
// Reserve never returns an error: a request the ring cannot honor
// (oversized, or certain to expire before any reader could see it) is
// silently turned into a RECORD_ERROR event at the same slot instead,
// per spec.md §3/§7 "recording errors are never surfaced
// synchronously". Reserve returns nil in that case; there is nothing
// left for the caller to write.
func (r *Recorder) Reserve(eventType EventType, requestedSize uint64, contentExt [4]uint64) *Reservation {
	h := r.h
	c := h.control

	// Step 1: reserve a descriptor slot.
	seqno := atomic.AddUint64(&c.LastSeqno, 1)
	slot := &h.descriptors[(seqno-1)&h.descCapacityMask]

	// Step 2: reserve payload bytes (unwrapped, alignment-rounded).
	base := atomic.LoadUint64(&c.NextPayloadByte)
	off := alignUp(base, PayloadAlign)
	atomic.StoreUint64(&c.NextPayloadByte, off+requestedSize)

	// Step 3: 4GiB descriptor field overflow.
	if requestedSize > math.MaxUint32 {
		r.dropEvent(seqno, slot, off, Overflow4GB, eventType, requestedSize)
		return nil
	}

	// Step 4: window advancement, published with release ordering so
	// readers polling buffer_window_start never observe a payload
	// write before the window that makes it valid. The window stays at 0
	// until the end of the payload comes within WindowIncr of
	// payload_buf_size; before that nothing has been overwritten.
	newEnd := off + requestedSize
	oldWindow := atomic.LoadUint64(&c.BufferWindowStart)
	if (newEnd>>24) > (oldWindow>>24) && newEnd+WindowIncr > h.size.PayloadBufSize {
		newWindow := newEnd - h.size.PayloadBufSize + WindowIncr
		atomic.StoreUint64(&c.BufferWindowStart, newWindow)
	}

	// Step 5: immediate-expiry check — the event wouldn't survive past
	// its own window advancement.
	if requestedSize >= h.size.PayloadBufSize-WindowIncr {
		r.dropEvent(seqno, slot, off, OverflowExpire, eventType, requestedSize)
		return nil
	}

	return &Reservation{
		rec:        r,
		seqno:      seqno,
		slot:       slot,
		off:        off,
		eventType:  eventType,
		contentExt: contentExt,
		span:       h.span(off, requestedSize),
	}
}

// dropEvent substitutes a RECORD_ERROR event for a reservation that
// cannot be honored, reusing the already-claimed slot and the start of
// the already-claimed payload range, per spec.md §3's "emitted in the
// same slot, with payload size clamped and recording the requested
// size".
func (r *Recorder) dropEvent(seqno uint64, slot *rawDescriptor, off uint64, kind ErrorKind, discarded EventType, requestedSize uint64) {
	payload := RecordErrorPayload{
		Kind:                 kind,
		DiscardedEventType:   discarded,
		TruncatedPayloadSize: 0,
		RequestedPayloadSize: requestedSize,
	}.encode()

	r.h.span(off, uint64(len(payload))).CopyFrom(payload)

	slot.EventType = uint16(EventTypeRecordError)
	slot.PayloadSize = uint32(len(payload))
	slot.RecordEpochNanos = uint64(time.Now().UnixNano())
	slot.PayloadBufOffset = off
	slot.ContentExt = [4]uint64{}

	r.setLastError(fmt.Sprintf("%s: dropped event_type=%d requested_size=%d", kind, discarded, requestedSize))
	atomic.StoreUint64(&slot.Seqno, seqno)
}

// RecordBytes is the one-shot convenience helper for callers that
// already have the payload in a contiguous slice: reserve, copy,
// commit. Producers that can fill the ring's memory directly without
// an intermediate buffer should use Reserve/Commit instead.
func (r *Recorder) RecordBytes(eventType EventType, payload []byte, contentExt [4]uint64) {
	res := r.Reserve(eventType, uint64(len(payload)), contentExt)
	if res == nil {
		return
	}
	res.Span().CopyFrom(payload)
	res.Commit()
}
