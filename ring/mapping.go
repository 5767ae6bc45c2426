package ring

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// Prot is the protection requested for a mapping.
type Prot int

const (
	// ProtRead maps the ring read-only; suitable for readers.
	ProtRead Prot = iota
	// ProtReadWrite maps the ring read-write; required by the recorder.
	ProtReadWrite
)

func (p Prot) unixProt() int {
	if p == ProtReadWrite {
		return unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.PROT_READ
}

// Handle is a per-process mapping of a ring image, per spec.md §3 "Live
// ring handle". It maps the header+descriptor ring, the payload buffer,
// and the context area as three independent mmap regions (rather than
// one big mapping) so that each can be unmapped and error-reported
// independently in Unmap, mirroring spec.md §4.3's description of
// mapping "the header, descriptors, payload buffer, and context area"
// as distinct areas.
type Handle struct {
	prot Prot

	metaRegion    []byte // header + descriptor ring
	payloadRegion []byte
	contextRegion []byte

	contentType uint16
	schemaHash  [32]byte
	size        Size
	lay         layout

	control     *controlBlock
	descriptors []rawDescriptor
	payload     []byte
	context     []byte

	descCapacityMask uint64
	payloadBufMask   uint64

	closed atomic.Bool
}

// ContentType returns the ring's declared content-type tag.
func (h *Handle) ContentType() uint16 { return h.contentType }

// SchemaHash returns the 32-byte schema hash pinned at creation.
func (h *Handle) SchemaHash() [32]byte { return h.schemaHash }

// Size returns the ring's validated size structure.
func (h *Handle) Size() Size { return h.size }

// Context returns the mapped, opaque context area. Callers own whatever
// layout they choose to put there; the ring core never interprets it.
func (h *Handle) Context() []byte { return h.context }

// BufferWindowStart returns the current value of the control block's
// buffer_window_start, read with acquire ordering. It is exposed for
// diagnostics (eventringctl inspect); recorder/iterator logic reads
// the field directly rather than going through this accessor.
func (h *Handle) BufferWindowStart() uint64 {
	return atomic.LoadUint64(&h.control.BufferWindowStart)
}

func mmapRegion(f *os.File, offset int64, length uint64, prot Prot) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	b, err := unix.Mmap(int(f.Fd()), offset, int(length), prot.unixProt(), unix.MAP_SHARED)
	if err != nil {
		return nil, newError(BadFile, "mmap at offset %d length %d: %v", offset, length, err)
	}
	return b, nil
}

// Mmap maps a ring image at the given offset within f with the
// requested protection, per spec.md §4.3. If expectedSchemaHash is
// non-nil, the header's schema hash must equal it exactly or mapping
// fails with a SchemaMismatch error and no mapping is left behind.
func Mmap(f *os.File, offset int64, prot Prot, expectedSchemaHash *[32]byte) (*Handle, error) {
	if offset%pageAlign != 0 {
		return nil, newError(BadFile, "offset %d is not %d-byte aligned", offset, pageAlign)
	}

	headerBuf := make([]byte, headerWireSize)
	if _, err := f.ReadAt(headerBuf, offset); err != nil {
		return nil, newError(IoError, "reading header: %v", err)
	}

	meta, err := decodeHeader(headerBuf)
	if err != nil {
		return nil, newError(BadMagic, "%v", err)
	}

	if err := validateSize(meta.Size); err != nil {
		return nil, err
	}

	if expectedSchemaHash != nil && meta.SchemaHash != *expectedSchemaHash {
		return nil, newError(SchemaMismatch, "schema hash mismatch: have %x want %x", meta.SchemaHash, *expectedSchemaHash)
	}

	lay := meta.Size.layout()

	info, err := f.Stat()
	if err != nil {
		return nil, newError(BadFile, "stat: %v", err)
	}
	if info.Size() < offset+int64(lay.total) {
		return nil, newError(BadFile, "file too small: have %d bytes, need %d", info.Size(), offset+int64(lay.total))
	}

	metaLen := lay.descriptorsOffset + lay.descriptorsSize
	metaRegion, err := mmapRegion(f, offset, metaLen, prot)
	if err != nil {
		return nil, err
	}

	payloadRegion, err := mmapRegion(f, offset+int64(lay.payloadOffset), meta.Size.PayloadBufSize, prot)
	if err != nil {
		_ = unix.Munmap(metaRegion)
		return nil, err
	}

	contextRegion, err := mmapRegion(f, offset+int64(lay.contextOffset), meta.Size.ContextAreaSize, prot)
	if err != nil {
		_ = unix.Munmap(metaRegion)
		if payloadRegion != nil {
			_ = unix.Munmap(payloadRegion)
		}
		return nil, err
	}

	h := &Handle{
		prot:          prot,
		metaRegion:    metaRegion,
		payloadRegion: payloadRegion,
		contextRegion: contextRegion,
		contentType:   meta.ContentType,
		schemaHash:    meta.SchemaHash,
		size:          meta.Size,
		lay:           lay,
		control:       bytesToControlBlock(metaRegion[controlOffset:]),
		descriptors:   bytesToDescriptors(metaRegion[lay.descriptorsOffset:], meta.Size.DescriptorCapacity),
		payload:       payloadRegion,
		context:       contextRegion,

		descCapacityMask: meta.Size.DescriptorCapacity - 1,
		payloadBufMask:   meta.Size.PayloadBufSize - 1,
	}
	return h, nil
}

// Unmap releases all mappings backing h and invalidates it. It is safe
// to call more than once. Each of the (up to) three regions is unmapped
// independently and a failure in one does not prevent the others from
// being attempted, with every failure reported back via a combined
// error — grounded in the teacher's PdumpModule.Close, which tries both
// agent.Close and shm.Detach even if the first fails, but upgraded from
// "log every independent failure" to "return every independent failure"
// since this is a library, not a long-running service with its own
// logger.
func (h *Handle) Unmap() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	var result *multierror.Error
	for _, region := range [][]byte{h.metaRegion, h.payloadRegion, h.contextRegion} {
		if region == nil {
			continue
		}
		if err := unix.Munmap(region); err != nil {
			result = multierror.Append(result, fmt.Errorf("munmap: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func validateSize(s Size) error {
	if s.DescriptorCapacity == 0 || s.DescriptorCapacity&(s.DescriptorCapacity-1) != 0 {
		return newError(InvalidSize, "descriptor_capacity %d is not a power of two", s.DescriptorCapacity)
	}
	if s.PayloadBufSize == 0 || s.PayloadBufSize&(s.PayloadBufSize-1) != 0 {
		return newError(InvalidSize, "payload_buf_size %d is not a power of two", s.PayloadBufSize)
	}
	shift := bitLen(s.DescriptorCapacity) - 1
	if shift < MinDescriptorsShift || shift > MaxDescriptorsShift {
		return newError(InvalidSize, "descriptor_capacity 2^%d out of range [2^%d,2^%d]", shift, MinDescriptorsShift, MaxDescriptorsShift)
	}
	shift = bitLen(s.PayloadBufSize) - 1
	if shift < MinPayloadBufShift || shift > MaxPayloadBufShift {
		return newError(InvalidSize, "payload_buf_size 2^%d out of range [2^%d,2^%d]", shift, MinPayloadBufShift, MaxPayloadBufShift)
	}
	return nil
}

func bitLen(v uint64) int {
	n := 0
	for v != 0 {
		v >>= 1
		n++
	}
	return n
}

func bytesToControlBlock(b []byte) *controlBlock {
	return (*controlBlock)(unsafe.Pointer(&b[0]))
}

func bytesToDescriptors(b []byte, n uint64) []rawDescriptor {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*rawDescriptor)(unsafe.Pointer(&b[0])), n)
}
