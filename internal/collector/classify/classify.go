package classify

import (
	"fmt"

	"netsentry/pkg/model"
)

const (
	icmpLabel = "ICMP Ping/Network Test"
	ipLabel   = "IP Packet"
)

// wellKnown 先按目的端口匹配，TCP/UDP 共用一张表。
var wellKnown = map[int]string{
	80:   "HTTP Web Request",
	443:  "HTTPS Secure Connection",
	22:   "SSH Remote Access",
	21:   "FTP File Transfer",
	25:   "SMTP Email Send",
	587:  "SMTP Email Send",
	993:  "Email Receive (IMAP/POP3)",
	995:  "Email Receive (IMAP/POP3)",
	3389: "RDP Remote Desktop",
	3306: "MySQL Database Access",
	5432: "PostgreSQL Database",
	8080: "Web Application",
	8000: "Web Application",
	53:   "DNS Name Resolution",
	123:  "NTP Time Sync",
	67:   "DHCP Network Config",
	68:   "DHCP Network Config",
	161:  "SNMP Network Monitor",
	162:  "SNMP Network Monitor",
	1900: "SSDP Device Discovery",
	5353: "mDNS Local Discovery",
}

// UDP 应答包的源端口才是服务端口（例如 DNS 响应 53 -> 随机端口），这些端口也按源端口识别。
var udpEitherSide = map[int]bool{
	53:  true,
	123: true,
}

// Classify 把 (协议, 源端口, 目的端口) 映射为可读的活动标签。纯函数，可并发调用。
func Classify(protocol string, srcPort, dstPort int) string {
	switch protocol {
	case model.ProtocolICMP:
		return icmpLabel
	case model.ProtocolIP:
		return ipLabel
	}

	if label, ok := wellKnown[dstPort]; ok {
		return label
	}
	if protocol == model.ProtocolUDP && udpEitherSide[srcPort] {
		return wellKnown[srcPort]
	}
	return fmt.Sprintf("%s Connection (Port %d)", protocol, dstPort)
}
