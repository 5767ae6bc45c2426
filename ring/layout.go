package ring

// Layout & sizing. Given a descriptor-count shift and a payload-buffer-size
// shift, computes the byte layout of a ring image, grounded in the
// teacher's worker-ring sizing (modules/pdump/controlplane/ffi.go's
// SetupRing, which derives size/mask pairs from a single configured
// per-worker size) generalized to the two-shift scheme spec.md requires.

const (
	// DescriptorSize is the fixed, cache-line-aligned size of one event
	// descriptor.
	DescriptorSize = 64

	// PayloadAlign is MONAD_EVENT_PAYLOAD_ALIGN: the minimum alignment
	// the recorder must round payload offsets up to before writing.
	PayloadAlign = 16

	// WindowIncr is the granularity at which buffer_window_start is
	// advanced: 2^24 bytes.
	WindowIncr = 1 << 24

	// MinDescriptorsShift and MaxDescriptorsShift bound k in
	// descriptor_capacity = 2^k.
	MinDescriptorsShift = 16
	MaxDescriptorsShift = 32

	// MinPayloadBufShift and MaxPayloadBufShift bound k in
	// payload_buf_size = 2^k.
	MinPayloadBufShift = 27
	MaxPayloadBufShift = 40

	// pageAlign is the alignment the descriptor ring and the header
	// region are rounded up to, per the file format table in spec.md §6.
	pageAlign = 4096

	// LargePageSize is the large-page size context_area_size is
	// expressed in multiples of, and that the payload buffer and
	// context area are aligned to.
	LargePageSize = 2 << 20 // 2MiB
)

// Size is the validated size structure of a ring: descriptor capacity,
// payload buffer size, and context area size, all in bytes except where
// noted.
type Size struct {
	// DescriptorCapacity is the number of descriptor slots; always a
	// power of two.
	DescriptorCapacity uint64
	// PayloadBufSize is the payload ring size in bytes; always a power
	// of two.
	PayloadBufSize uint64
	// ContextAreaSize is the size in bytes of the opaque context area,
	// a multiple of LargePageSize.
	ContextAreaSize uint64
}

// layout is the concrete byte offsets derived from a Size, all relative
// to the ring's start offset within the file.
type layout struct {
	size Size

	headerSize       uint64 // rounded up to pageAlign
	descriptorsOffset uint64
	descriptorsSize   uint64
	payloadOffset     uint64
	contextOffset     uint64
	total             uint64
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// InitSize validates descriptorsShift and payloadBufShift against their
// documented bounds and returns the resulting Size, per spec.md §4.1.
func InitSize(descriptorsShift, payloadBufShift uint, contextLargePages uint64) (Size, error) {
	if descriptorsShift < MinDescriptorsShift || descriptorsShift > MaxDescriptorsShift {
		return Size{}, newError(InvalidSize,
			"descriptors_shift %d out of range [%d,%d]", descriptorsShift, MinDescriptorsShift, MaxDescriptorsShift)
	}
	if payloadBufShift < MinPayloadBufShift || payloadBufShift > MaxPayloadBufShift {
		return Size{}, newError(InvalidSize,
			"payload_buf_shift %d out of range [%d,%d]", payloadBufShift, MinPayloadBufShift, MaxPayloadBufShift)
	}

	return Size{
		DescriptorCapacity: 1 << descriptorsShift,
		PayloadBufSize:     1 << payloadBufShift,
		ContextAreaSize:    contextLargePages * LargePageSize,
	}, nil
}

// CalcStorage returns the total number of bytes a ring image of this
// Size occupies, including header, descriptor ring, payload buffer,
// context area, and the alignment padding between them.
func (s Size) CalcStorage() uint64 {
	return s.layout().total
}

func (s Size) layout() layout {
	headerSize := alignUp(headerWireSize, pageAlign)

	descriptorsOffset := headerSize
	descriptorsSize := s.DescriptorCapacity * DescriptorSize

	payloadOffset := alignUp(descriptorsOffset+descriptorsSize, pageAlign)
	// Prefer a large-page boundary for the payload buffer so producers
	// can issue aligned stores, per spec.md §4.1; fall back to the 4K
	// boundary already guaranteed above when that's not also large-page
	// aligned is unnecessary since pageAlign divides LargePageSize.
	payloadOffset = alignUp(payloadOffset, LargePageSize)

	contextOffset := alignUp(payloadOffset+s.PayloadBufSize, LargePageSize)

	total := contextOffset + s.ContextAreaSize

	return layout{
		size:              s,
		headerSize:        headerSize,
		descriptorsOffset: descriptorsOffset,
		descriptorsSize:   descriptorsSize,
		payloadOffset:     payloadOffset,
		contextOffset:     contextOffset,
		total:             total,
	}
}
