package model

import "time"

const (
	ProtocolTCP  = "TCP"
	ProtocolUDP  = "UDP"
	ProtocolICMP = "ICMP"
	ProtocolIP   = "IP"
)

const (
	SourcePacket     = "packet"
	SourceConnection = "connection"
)

// Observation 是一条经过分类与富化的网络事件，创建后不再修改。
type Observation struct {
	ID            int64     `json:"id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	RemoteAddress string    `json:"ip"`
	Protocol      string    `json:"protocol"`
	LocalPort     int       `json:"local_port"`
	RemotePort    int       `json:"port"`
	ActivityLabel string    `json:"type"`
	CountryCity   string    `json:"country"`
	Blacklisted   bool      `json:"blacklisted"`
	AttackCount   int       `json:"attacks"`
	ReportCount   int       `json:"reports"`
	Source        string    `json:"source"`
	Summary       string    `json:"summary"`
	PID           int       `json:"pid"`
}
