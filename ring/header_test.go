package ring

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestDescriptorLayout(t *testing.T) {
	require.Equal(t, uintptr(DescriptorSize), unsafe.Sizeof(rawDescriptor{}), "descriptor must be exactly 64 bytes")
	require.Equal(t, uintptr(0), unsafe.Offsetof(rawDescriptor{}.Seqno), "seqno must occupy the first 8 bytes")
}

func TestControlBlockLayout(t *testing.T) {
	require.Equal(t, uintptr(controlBlockSize), unsafe.Sizeof(controlBlock{}))
	// buffer_window_start must live on its own 64-byte cache line, away
	// from the writer-owned last_seqno/next_payload_byte pair.
	require.Equal(t, uintptr(64), unsafe.Offsetof(controlBlock{}.BufferWindowStart))
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	size, err := InitSize(16, 27, 1)
	require.NoError(t, err)

	var hash [32]byte
	copy(hash[:], "0123456789abcdef0123456789abcde")

	buf := encodeHeader(size, 42, hash)
	require.Len(t, buf, headerWireSize)
	require.True(t, magicPresent(buf))

	meta, err := decodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(42), meta.ContentType)
	require.Equal(t, hash, meta.SchemaHash)
	require.Equal(t, size, meta.Size)
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, headerWireSize)
	_, err := decodeHeader(buf)
	require.ErrorIs(t, err, errBadMagicBytes)
}
