package ring

// Span is a payload range inside the ring's circular payload buffer,
// split into First/Second when the range wraps past the end of the
// buffer back to offset 0. Second is empty for a non-wrapping range.
//
// The C surface this is modeled on (spec.md §4.4/§4.5) hands back a
// single pointer and leaves wrap-splitting to the caller; expressing
// the same thing as two slices lets Go's length-carrying slice header
// do that bookkeeping instead of a caller-supplied size parameter.
type Span struct {
	First  []byte
	Second []byte
}

// Len returns the total number of bytes spanned.
func (s Span) Len() int {
	return len(s.First) + len(s.Second)
}

// CopyFrom fills the span from src, wrapping into Second as needed, and
// returns the number of bytes copied.
func (s Span) CopyFrom(src []byte) int {
	n := copy(s.First, src)
	n += copy(s.Second, src[n:])
	return n
}

// CopyTo drains the span into dst, wrapping from Second as needed, and
// returns the number of bytes copied.
func (s Span) CopyTo(dst []byte) int {
	n := copy(dst, s.First)
	n += copy(dst[n:], s.Second)
	return n
}

// span returns the Span covering n bytes starting at the unwrapped
// offset off within h's payload buffer.
func (h *Handle) span(off, n uint64) Span {
	if n == 0 {
		return Span{}
	}
	size := h.size.PayloadBufSize
	start := off & h.payloadBufMask
	end := start + n
	if end <= size {
		return Span{First: h.payload[start:end]}
	}
	return Span{First: h.payload[start:size], Second: h.payload[:end-size]}
}
