package ring

import (
	"encoding/binary"
	"errors"
)

// Wire layout constants from spec.md §6. All multi-byte integers are
// little-endian; the ring is host-local and endian-portability is not
// required (spec.md §6), so the in-memory control block and descriptors
// below are addressed directly via unsafe pointer casts rather than
// re-decoded on every access — the header itself is small and touched
// rarely enough that an explicit, offset-documented marshal/unmarshal
// pair is worth the clarity.
const (
	magicOffset       = 0
	contentTypeOffset = 6
	schemaHashOffset  = 8
	sizeStructOffset  = 40
	controlOffset     = 64

	schemaHashSize = 32

	// headerWireSize is 64 bytes of (magic, content_type, schema_hash,
	// size structure) followed by a two-cache-line control block, per
	// spec.md §3 "Ring control block (two cache lines)".
	headerWireSize = controlOffset + controlBlockSize
)

// magic is "RING" followed by the "vv" version suffix: "RING01".
var magic = [6]byte{'R', 'I', 'N', 'G', '0', '1'}

// errBadMagicBytes is returned by decodeHeader when the magic/version
// octets don't match.
var errBadMagicBytes = errors.New("bad magic")

// encodeHeader produces the headerWireSize-byte prefix of a freshly
// initialized ring image: magic, content type, schema hash, and size
// structure, with an all-zero control block (every descriptor seqno
// sentinel value is the zero byte pattern already, so the descriptor
// ring needs no separate zeroing pass beyond being backed by a
// freshly-truncated, zero-filled file region).
func encodeHeader(size Size, contentType uint16, schemaHash [32]byte) []byte {
	buf := make([]byte, headerWireSize)

	copy(buf[magicOffset:], magic[:])
	binary.LittleEndian.PutUint16(buf[contentTypeOffset:], contentType)
	copy(buf[schemaHashOffset:schemaHashOffset+schemaHashSize], schemaHash[:])

	binary.LittleEndian.PutUint64(buf[sizeStructOffset:], size.DescriptorCapacity)
	binary.LittleEndian.PutUint64(buf[sizeStructOffset+8:], size.PayloadBufSize)
	binary.LittleEndian.PutUint64(buf[sizeStructOffset+16:], size.ContextAreaSize)

	// Control block left zero: last_seqno = 0, next_payload_byte = 0,
	// buffer_window_start = 0.
	return buf
}

// headerMeta is the decoded, validated subset of a header needed to
// derive a ring's Size and content type at map time.
type headerMeta struct {
	ContentType uint16
	SchemaHash  [32]byte
	Size        Size
}

// magicPresent reports whether buf begins with the current magic, used
// by InitFile to detect an already-initialized image.
func magicPresent(buf []byte) bool {
	return len(buf) >= len(magic) && string(buf[:len(magic)]) == string(magic[:])
}

// decodeHeader validates the magic and unpacks content type, schema
// hash, and size structure from a header-sized buffer.
func decodeHeader(buf []byte) (headerMeta, error) {
	if len(buf) < headerWireSize {
		return headerMeta{}, errBadMagicBytes
	}
	if !magicPresent(buf) {
		return headerMeta{}, errBadMagicBytes
	}

	var meta headerMeta
	meta.ContentType = binary.LittleEndian.Uint16(buf[contentTypeOffset:])
	copy(meta.SchemaHash[:], buf[schemaHashOffset:schemaHashOffset+schemaHashSize])

	meta.Size.DescriptorCapacity = binary.LittleEndian.Uint64(buf[sizeStructOffset:])
	meta.Size.PayloadBufSize = binary.LittleEndian.Uint64(buf[sizeStructOffset+8:])
	meta.Size.ContextAreaSize = binary.LittleEndian.Uint64(buf[sizeStructOffset+16:])

	return meta, nil
}

// controlBlockSize is two cache lines: last_seqno and next_payload_byte
// share the first line (writer-owned, per spec.md §3); buffer_window_start
// occupies a line by itself so it can be published independently without
// false-sharing against the writer's hot fields.
const controlBlockSize = 128

// controlBlock mirrors the in-memory control block exactly; it is never
// copied by value across a commit boundary, only addressed via a pointer
// into the mapped region so that atomic ops on its fields are atomic ops
// on the shared memory itself.
type controlBlock struct {
	LastSeqno       uint64
	NextPayloadByte uint64
	_pad0           [48]byte
	BufferWindowStart uint64
	_pad1             [56]byte
}

// rawDescriptor mirrors the 64-byte on-disk/in-memory event descriptor
// from spec.md §3 field for field, in declaration order, so that its Go
// memory layout matches the wire layout with no implicit padding.
type rawDescriptor struct {
	Seqno            uint64
	EventType        uint16
	_reserved        uint16
	PayloadSize      uint32
	RecordEpochNanos uint64
	PayloadBufOffset uint64
	ContentExt       [4]uint64
}
