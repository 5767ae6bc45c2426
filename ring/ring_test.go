package ring

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/eventring/internal/xerror"
)

// mustHash decodes a hex literal known at compile time to be valid,
// following the teacher's xerror.Unwrap(parse-known-good-literal)
// idiom from its test helpers (e.g. modules/balancer/tests/balancer/utils.go).
func mustHash(s string) [32]byte {
	var h [32]byte
	copy(h[:], xerror.Unwrap(hex.DecodeString(s)))
	return h
}

// newTestHandle creates a freshly initialized ring image backed by a
// temp file and maps it read-write, registering cleanup. Mmap rejects
// sizes below MinDescriptorsShift/MinPayloadBufShift, so callers pass
// sizes within the bounds; the minimums (1<<16 slots, 128MiB) keep the
// backing file as small as a mappable ring can be.
func newTestHandle(t *testing.T, descCapacity, payloadBufSize uint64) *Handle {
	t.Helper()

	size := Size{DescriptorCapacity: descCapacity, PayloadBufSize: payloadBufSize}

	f, err := os.CreateTemp(t.TempDir(), "eventring-*.img")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	require.NoError(t, f.Truncate(int64(size.CalcStorage())))

	var hash [32]byte
	require.NoError(t, InitFile(size, 1, hash, f, 0))

	h, err := Mmap(f, 0, ProtReadWrite, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Unmap() })

	return h
}

func TestRecordAndReadSingleEvent(t *testing.T) {
	h := newTestHandle(t, 1<<16, 1<<27)
	rec := NewRecorder(h)
	it := NewIterator(h)

	payload := []byte("hello ring")
	rec.RecordBytes(EventTypeCapturedFrame, payload, PacketCaptureExt{RxDeviceID: 7}.Pack())

	desc, ok := it.TryCopy(1)
	require.True(t, ok)
	require.Equal(t, EventTypeCapturedFrame, desc.EventType)
	require.EqualValues(t, len(payload), desc.PayloadSize)
	require.Equal(t, PacketCaptureExt{RxDeviceID: 7}, UnpackPacketCaptureExt(desc.ContentExt))

	dst := make([]byte, desc.PayloadSize)
	got, ok := it.PayloadMemcpy(desc, dst)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestTryCopyMissingSlotNotYetWritten(t *testing.T) {
	h := newTestHandle(t, 1<<16, 1<<27)
	it := NewIterator(h)

	_, ok := it.TryCopy(1)
	require.False(t, ok)
}

func TestNextDetectsGapAfterWraparound(t *testing.T) {
	h := newTestHandle(t, 1<<16, 1<<27)
	rec := NewRecorder(h)
	it := NewIterator(h)
	it.SetCursor(0)

	// Write a few more events than the descriptor ring holds so slot 1
	// (seqno 1) has been overwritten by the time the reader gets to it.
	writes := h.Size().DescriptorCapacity + 5
	for i := uint64(0); i < writes; i++ {
		rec.RecordBytes(EventTypeCapturedFrame, []byte{byte(i)}, [4]uint64{})
	}

	desc, gap, ok := it.Next()
	require.True(t, ok)
	require.Greater(t, gap, uint64(0), "reader starting at seqno 1 must have lapped after writes exceeding descriptor capacity")
	require.Equal(t, desc.Seqno, gap+1)
}

func TestOverflow4GBEmitsRecordError(t *testing.T) {
	h := newTestHandle(t, 1<<16, 1<<27)
	rec := NewRecorder(h)
	it := NewIterator(h)

	res := rec.Reserve(EventTypeCapturedFrame, uint64(1)<<32, [4]uint64{})
	require.Nil(t, res, "oversized reservation must be dropped, not handed back")

	desc, ok := it.TryCopy(1)
	require.True(t, ok)
	require.Equal(t, EventTypeRecordError, desc.EventType)

	dst := make([]byte, desc.PayloadSize)
	got, ok := it.PayloadMemcpy(desc, dst)
	require.True(t, ok)

	errPayload, err := DecodeRecordErrorPayload(got)
	require.NoError(t, err)
	require.Equal(t, Overflow4GB, errPayload.Kind)
	require.EqualValues(t, EventTypeCapturedFrame, errPayload.DiscardedEventType)
	require.EqualValues(t, uint64(1)<<32, errPayload.RequestedPayloadSize)
}

func TestOverflowExpireEmitsRecordError(t *testing.T) {
	// Smallest legal payload buffer: a single request at least
	// payload_buf_size-WindowIncr bytes can never survive its own
	// window advancement.
	h := newTestHandle(t, 1<<16, 1<<27)
	rec := NewRecorder(h)
	it := NewIterator(h)

	huge := h.Size().PayloadBufSize - WindowIncr + 1
	res := rec.Reserve(EventTypeCapturedFrame, huge, [4]uint64{})
	require.Nil(t, res)

	desc, ok := it.TryCopy(1)
	require.True(t, ok)
	require.Equal(t, EventTypeRecordError, desc.EventType)
	require.False(t, it.PayloadCheck(desc), "the record-error event's own payload must read as already expired")
}

// TestWindowAdvancementExpiresEarlierPayload exercises spec.md §4.4 step
// 4 (window advancement) the way spec.md §8 scenario 2 describes it: a
// normal, successfully committed event's payload becomes expired only
// because later, realistically-sized events wrapped the buffer past it
// — not via the synthetic immediate-expiry branch a single oversized
// reservation takes. Descriptor capacity is generous so the descriptor
// slot itself never wraps; only the payload window does.
func TestWindowAdvancementExpiresEarlierPayload(t *testing.T) {
	const payloadBufSize = 1 << MinPayloadBufShift // 128MiB, the smallest size Mmap accepts
	h := newTestHandle(t, 1<<MinDescriptorsShift, payloadBufSize)
	rec := NewRecorder(h)
	it := NewIterator(h)

	first := []byte("first event, committed while the window is still at zero")
	rec.RecordBytes(EventTypeCapturedFrame, first, [4]uint64{})

	firstDesc, ok := it.TryCopy(1)
	require.True(t, ok)
	require.True(t, it.PayloadCheck(firstDesc), "freshly committed event must not be expired yet")

	const chunkSize = 64 * 1024
	chunk := make([]byte, chunkSize)
	// Record enough ordinary-sized events to push next_payload_byte past
	// payload_buf_size-WindowIncr plus slack, so buffer_window_start is
	// guaranteed to have advanced beyond firstDesc's offset.
	for written := uint64(0); written < payloadBufSize-WindowIncr+2*chunkSize; written += chunkSize {
		rec.RecordBytes(EventTypeCapturedFrame, chunk, [4]uint64{})
	}

	require.False(t, it.PayloadCheck(firstDesc), "earlier event's payload must read as expired once later events wrap the window past it")

	dst := make([]byte, firstDesc.PayloadSize)
	_, ok = it.PayloadMemcpy(firstDesc, dst)
	require.False(t, ok, "PayloadMemcpy must refuse to hand back an expired payload")
}

func TestSchemaMismatchRejected(t *testing.T) {
	size := Size{DescriptorCapacity: 1 << 16, PayloadBufSize: 1 << 27}

	f, err := os.CreateTemp(t.TempDir(), "eventring-*.img")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(size.CalcStorage())))

	hashA := mustHash("aa" + strings.Repeat("00", 30) + "0a")
	hashB := mustHash("bb" + strings.Repeat("00", 30) + "0b")
	require.NoError(t, InitFile(size, 1, hashA, f, 0))

	_, err = Mmap(f, 0, ProtRead, &hashB)
	require.Error(t, err)

	var ringErr *Error
	require.ErrorAs(t, err, &ringErr)
	require.Equal(t, SchemaMismatch, ringErr.Kind)
}

func TestWaitSeqnoObservesLateWrite(t *testing.T) {
	h := newTestHandle(t, 1<<16, 1<<27)
	rec := NewRecorder(h)
	it := NewIterator(h)

	go func() {
		time.Sleep(20 * time.Millisecond)
		rec.RecordBytes(EventTypeCapturedFrame, []byte("late"), [4]uint64{})
	}()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     2 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          1.5,
		MaxInterval:         20 * time.Millisecond,
	}
	b.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	desc, err := it.WaitSeqno(ctx, 1, b)
	require.NoError(t, err)
	require.Equal(t, uint64(1), desc.Seqno)
}

// TestTwoMappingsOfSameFileStayConsistent maps the same backing file
// twice, independently, and writes through one mapping while reading
// through the other. It is the in-process substitute for genuine
// cross-process concurrency: two separate Mmap calls against the same
// fd give two independent virtual-memory mappings of the same pages,
// which is the part of the multi-process scenario that matters for
// the ring protocol (everything goes through the page cache, never a
// process-local cache).
func TestTwoMappingsOfSameFileStayConsistent(t *testing.T) {
	size := Size{DescriptorCapacity: 1 << 16, PayloadBufSize: 1 << 27}

	f, err := os.CreateTemp(t.TempDir(), "eventring-*.img")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(size.CalcStorage())))

	var hash [32]byte
	require.NoError(t, InitFile(size, 1, hash, f, 0))

	writerFile, err := os.OpenFile(f.Name(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer writerFile.Close()
	writer, err := Mmap(writerFile, 0, ProtReadWrite, nil)
	require.NoError(t, err)
	defer writer.Unmap()

	readerFile, err := os.Open(f.Name())
	require.NoError(t, err)
	defer readerFile.Close()
	reader, err := Mmap(readerFile, 0, ProtRead, nil)
	require.NoError(t, err)
	defer reader.Unmap()

	rec := NewRecorder(writer)
	it := NewIterator(reader)

	for i := 0; i < 100; i++ {
		rec.RecordBytes(EventTypeCapturedFrame, []byte{byte(i)}, [4]uint64{})
	}

	for seqno := uint64(1); seqno <= 100; seqno++ {
		desc, ok := it.TryCopy(seqno)
		require.True(t, ok, "seqno %d", seqno)
		dst := make([]byte, desc.PayloadSize)
		got, ok := it.PayloadMemcpy(desc, dst)
		require.True(t, ok)
		require.Equal(t, byte(seqno-1), got[0])
	}
}

func TestWaitSeqnoRespectsContextCancellation(t *testing.T) {
	h := newTestHandle(t, 1<<16, 1<<27)
	it := NewIterator(h)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     2 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          1.5,
		MaxInterval:         10 * time.Millisecond,
	}
	b.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := it.WaitSeqno(ctx, 1, b)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
