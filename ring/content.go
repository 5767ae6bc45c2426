package ring

import (
	"encoding/binary"
	"fmt"
	"iter"
	"sort"

	"github.com/gobwas/glob"
)

// ContentType is the tag a ring declares once at creation; every
// content type owns an independent 16-bit event_type namespace, per
// spec.md §4.6.
type ContentType uint16

// EventType is a value within a ContentType's namespace. 0 is invalid
// in every namespace; 1 is always EventTypeRecordError.
type EventType uint16

// EventTypeRecordError is reserved in every content namespace for the
// in-band loss/overflow report described in spec.md §3.
const EventTypeRecordError EventType = 1

// TypeInfo is the human-readable description of one content type,
// grounded in the teacher's DPModule.Name()/String() pattern
// (controlplane/internal/ffi/shm.go) of giving raw FFI identifiers a
// friendly name for logging and CLI display.
type TypeInfo struct {
	Name       string
	EventNames map[EventType]string
}

// EventName returns the registered name for et, or a numeric fallback.
func (t TypeInfo) EventName(et EventType) string {
	if et == EventTypeRecordError {
		return "RECORD_ERROR"
	}
	if name, ok := t.EventNames[et]; ok {
		return name
	}
	return fmt.Sprintf("event_type(%d)", uint16(et))
}

// Registry is the content-type registry described in spec.md §2/§4.6:
// an enumeration of content types and their human-readable names, kept
// entirely outside the hot recorder/iterator path.
type Registry struct {
	types map[ContentType]TypeInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[ContentType]TypeInfo)}
}

// Register adds or replaces a content type's description.
func (r *Registry) Register(ct ContentType, info TypeInfo) {
	r.types[ct] = info
}

// Name returns the registered name for ct, or a numeric fallback.
func (r *Registry) Name(ct ContentType) string {
	if info, ok := r.types[ct]; ok {
		return info.Name
	}
	return fmt.Sprintf("content_type(%d)", uint16(ct))
}

// EventName returns the registered event name for (ct, et), or a
// numeric fallback if ct or et isn't registered.
func (r *Registry) EventName(ct ContentType, et EventType) string {
	if info, ok := r.types[ct]; ok {
		return info.EventName(et)
	}
	if et == EventTypeRecordError {
		return "RECORD_ERROR"
	}
	return fmt.Sprintf("event_type(%d)", uint16(et))
}

// Names yields every registered content type's name in sorted order,
// for callers (e.g. the CLI) that want to list what's known without
// reaching into the registry's internal map.
func (r *Registry) Names() iter.Seq[string] {
	names := make([]string, 0, len(r.types))
	for _, info := range r.types {
		names = append(names, info.Name)
	}
	sort.Strings(names)

	return func(yield func(string) bool) {
		for _, name := range names {
			if !yield(name) {
				return
			}
		}
	}
}

// Matches reports whether ct's registered name matches the given glob
// pattern (github.com/gobwas/glob). An unregistered ct is matched by
// its numeric fallback name, "content_type(N)"; an invalid pattern
// matches nothing. This backs the CLI's "tail --content-type
// PATTERN" filter so operators don't need to remember numeric tags,
// grounded in the pdump CLI's name-based instance targeting.
func (r *Registry) Matches(ct ContentType, pattern string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(r.Name(ct))
}

// RecordErrorPayload is the fixed payload of every EventTypeRecordError
// event, per spec.md §3: an error kind, the discarded event's type, the
// truncated trailing payload size actually kept, and the untruncated
// requested size (wide enough to hold the 2^32 threshold that triggers
// Overflow4GB in the first place).
type RecordErrorPayload struct {
	Kind                 ErrorKind
	DiscardedEventType   EventType
	TruncatedPayloadSize uint32
	RequestedPayloadSize uint64
}

// recordErrorWireSize is the on-the-wire size of RecordErrorPayload:
// kind(2) + discarded event type(2) + truncated size(4) + requested
// size(8).
const recordErrorWireSize = 16

func (p RecordErrorPayload) encode() []byte {
	buf := make([]byte, recordErrorWireSize)
	binary.LittleEndian.PutUint16(buf[0:], uint16(p.Kind))
	binary.LittleEndian.PutUint16(buf[2:], uint16(p.DiscardedEventType))
	binary.LittleEndian.PutUint32(buf[4:], p.TruncatedPayloadSize)
	binary.LittleEndian.PutUint64(buf[8:], p.RequestedPayloadSize)
	return buf
}

// DecodeRecordErrorPayload parses a RECORD_ERROR event's payload.
func DecodeRecordErrorPayload(buf []byte) (RecordErrorPayload, error) {
	if len(buf) < recordErrorWireSize {
		return RecordErrorPayload{}, fmt.Errorf("record error payload too short: %d bytes", len(buf))
	}
	return RecordErrorPayload{
		Kind:                 ErrorKind(binary.LittleEndian.Uint16(buf[0:])),
		DiscardedEventType:   EventType(binary.LittleEndian.Uint16(buf[2:])),
		TruncatedPayloadSize: binary.LittleEndian.Uint32(buf[4:]),
		RequestedPayloadSize: binary.LittleEndian.Uint64(buf[8:]),
	}, nil
}
