package ring

import (
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// PacketCaptureContentType is the one worked content-type namespace
// this repository ships, modeled directly on the teacher's
// modules/pdump subsystem: event_type 2 carries a captured raw frame,
// with rx/tx device, pipeline index and a drop flag packed into the
// descriptor's content_ext words instead of the teacher's separate
// ring_msg_hdr C struct, since spec.md's descriptor already reserves
// exactly four extension words for this purpose.
const PacketCaptureContentType ContentType = 1

// EventTypeCapturedFrame is the PacketCapture namespace's only non-error
// event type.
const EventTypeCapturedFrame EventType = 2

// RegisterPacketCapture adds the PacketCapture content type's names to
// r, so CLI output and logs print "PacketCapture"/"CAPTURED_FRAME"
// instead of raw integers.
func RegisterPacketCapture(r *Registry) {
	r.Register(PacketCaptureContentType, TypeInfo{
		Name: "PacketCapture",
		EventNames: map[EventType]string{
			EventTypeCapturedFrame: "CAPTURED_FRAME",
		},
	})
}

// PacketCaptureExt is the content_ext encoding for a CAPTURED_FRAME
// event: which devices the frame entered/left on, which pipeline
// processed it, and whether it was a drop — the same fields the
// teacher's ring_msg_hdr carries alongside each captured frame
// (modules/pdump/controlplane/ring.go's pdumppb.RecordMeta).
type PacketCaptureExt struct {
	RxDeviceID  uint32
	TxDeviceID  uint32
	PipelineIdx uint32
	IsDrop      bool
}

// Pack encodes e into the descriptor's four content_ext words.
func (e PacketCaptureExt) Pack() [4]uint64 {
	var ext [4]uint64
	ext[0] = uint64(e.RxDeviceID) | uint64(e.TxDeviceID)<<32
	drop := uint64(0)
	if e.IsDrop {
		drop = 1
	}
	ext[1] = uint64(e.PipelineIdx) | drop<<32
	return ext
}

// UnpackPacketCaptureExt decodes a descriptor's content_ext words
// written by PacketCaptureExt.Pack.
func UnpackPacketCaptureExt(ext [4]uint64) PacketCaptureExt {
	return PacketCaptureExt{
		RxDeviceID:  uint32(ext[0]),
		TxDeviceID:  uint32(ext[0] >> 32),
		PipelineIdx: uint32(ext[1]),
		IsDrop:      ext[1]>>32 != 0,
	}
}

// DecodeFrame parses a CAPTURED_FRAME payload as an Ethernet frame for
// human-readable display, grounded in the teacher's
// common/go/dataplane.NewPacketFromData use of gopacket.Packet.
func DecodeFrame(payload []byte) gopacket.Packet {
	return gopacket.NewPacket(payload, layers.LayerTypeEthernet, gopacket.Default)
}
