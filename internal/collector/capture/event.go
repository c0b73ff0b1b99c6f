package capture

import (
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"netsentry/internal/collector/iputil"
	"netsentry/pkg/model"
)

// Event 是采集层输出的原始五元组。连接类事件中 Src 是本机一端，Dst 是对端。
type Event struct {
	Timestamp time.Time
	Origin    string
	Protocol  string
	SrcIP     netip.Addr
	SrcPort   int
	DstIP     netip.Addr
	DstPort   int
}

// Remote 是需要富化和检查的那一端。
type Remote struct {
	Addr      netip.Addr
	Port      int
	LocalPort int
}

// Resolve 选出对端：连接事件总是取 Dst；数据包优先取公网的源地址，其次公网的目的地址。
// 两端都是内网时返回 false，事件应被丢弃。
func (e Event) Resolve() (Remote, bool) {
	if e.Origin == model.SourceConnection {
		if iputil.IsInternal(e.DstIP) {
			return Remote{}, false
		}
		return Remote{Addr: e.DstIP, Port: e.DstPort, LocalPort: e.SrcPort}, true
	}
	switch {
	case !iputil.IsInternal(e.SrcIP):
		return Remote{Addr: e.SrcIP, Port: e.SrcPort, LocalPort: e.DstPort}, true
	case !iputil.IsInternal(e.DstIP):
		return Remote{Addr: e.DstIP, Port: e.DstPort, LocalPort: e.SrcPort}, true
	default:
		return Remote{}, false
	}
}

// packetDecoder 复用解码层对象，不是并发安全的，每个抓包循环各持有一个。
type packetDecoder struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	icmp    layers.ICMPv4
	payload gopacket.Payload

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newPacketDecoder() *packetDecoder {
	d := &packetDecoder{}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&d.eth, &d.ip4, &d.tcp, &d.udp, &d.icmp, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

// DecodePacket 把一帧以太网数据解析成 Event。不含 IPv4 的帧返回 false。
func DecodePacket(data []byte, ts time.Time) (Event, bool) {
	return newPacketDecoder().decode(data, ts)
}

func (d *packetDecoder) decode(data []byte, ts time.Time) (Event, bool) {
	// 截断或畸形的包只要解析出了 IPv4 就照常使用，错误本身不关心
	_ = d.parser.DecodeLayers(data, &d.decoded)

	var (
		ev    = Event{Timestamp: ts, Origin: model.SourcePacket, Protocol: model.ProtocolIP}
		hasIP bool
	)
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			src, ok1 := netip.AddrFromSlice(d.ip4.SrcIP)
			dst, ok2 := netip.AddrFromSlice(d.ip4.DstIP)
			if !ok1 || !ok2 {
				return Event{}, false
			}
			ev.SrcIP, ev.DstIP = src.Unmap(), dst.Unmap()
			hasIP = true
		case layers.LayerTypeTCP:
			ev.Protocol = model.ProtocolTCP
			ev.SrcPort, ev.DstPort = int(d.tcp.SrcPort), int(d.tcp.DstPort)
		case layers.LayerTypeUDP:
			ev.Protocol = model.ProtocolUDP
			ev.SrcPort, ev.DstPort = int(d.udp.SrcPort), int(d.udp.DstPort)
		case layers.LayerTypeICMPv4:
			ev.Protocol = model.ProtocolICMP
		}
	}
	if !hasIP {
		return Event{}, false
	}
	return ev, true
}
