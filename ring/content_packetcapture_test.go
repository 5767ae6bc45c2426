package ring

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/monad-crypto/eventring/internal/xerror"
)

func TestPacketCaptureExtPackRoundTrip(t *testing.T) {
	want := PacketCaptureExt{RxDeviceID: 3, TxDeviceID: 7, PipelineIdx: 99, IsDrop: true}
	got := UnpackPacketCaptureExt(want.Pack())
	require.Equal(t, want, got)
}

func TestDecodeFrameParsesEthernetLayer(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       xerror.Unwrap(net.ParseMAC("00:00:00:00:00:01")),
		DstMAC:       xerror.Unwrap(net.ParseMAC("00:11:22:33:44:55")),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	udp := layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip4))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip4, &udp, gopacket.Payload("hi")))

	packet := DecodeFrame(buf.Bytes())

	gotEth := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if diff := cmp.Diff(&eth, gotEth, cmpopts.IgnoreFields(layers.Ethernet{}, "BaseLayer"), cmpopts.IgnoreUnexported(layers.Ethernet{})); diff != "" {
		t.Errorf("ethernet layer mismatch (-want +got):\n%s", diff)
	}

	gotIP4 := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Equal(t, ip4.SrcIP.String(), gotIP4.SrcIP.String())
	require.Equal(t, ip4.DstIP.String(), gotIP4.DstIP.String())

	gotUDP := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.EqualValues(t, udp.SrcPort, gotUDP.SrcPort)
	require.EqualValues(t, udp.DstPort, gotUDP.DstPort)
}
