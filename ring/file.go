package ring

import (
	"io"
	"os"
)

// InitFile writes a fresh ring image into an already-opened, writable
// file at the given byte offset, per spec.md §4.2. The caller is
// responsible for pre-sizing the file (e.g. via Truncate) so that the
// region starting at offset is at least size.CalcStorage() bytes.
//
// All descriptor seqno fields are zero after InitFile returns (the
// "slot never written" sentinel), because the file region backing the
// descriptor ring is assumed to be freshly truncated (and therefore
// zero-filled by the filesystem) — InitFile only writes the header
// prefix, not the whole image, mirroring the teacher's
// pdump_module_config_set_per_worker_ring allocation, which hands back
// a zeroed region for the caller to format in place.
func InitFile(size Size, contentType uint16, schemaHash [32]byte, f *os.File, offset int64) error {
	layout := size.layout()

	info, err := f.Stat()
	if err != nil {
		return newError(BadFile, "stat: %v", err)
	}
	if info.Size() < offset+int64(layout.total) {
		return newError(BadFile, "file too small: have %d bytes at offset %d, need %d", info.Size(), offset, layout.total)
	}

	existing := make([]byte, headerWireSize)
	n, err := f.ReadAt(existing, offset)
	if err != nil && err != io.EOF {
		return newError(IoError, "reading existing header: %v", err)
	}
	if n == len(existing) && magicPresent(existing) {
		return newError(AlreadyInitialized, "ring image already present at offset %d", offset)
	}

	buf := encodeHeader(size, contentType, schemaHash)
	if _, err := f.WriteAt(buf, offset); err != nil {
		return newError(IoError, "writing header: %v", err)
	}

	return nil
}
