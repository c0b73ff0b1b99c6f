package model

import "time"

// MetricsSample 每个采样周期产生一行，同时覆盖写入实时状态。
type MetricsSample struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu"`
	MemoryPercent     float64   `json:"memory"`
	DiskPercent       float64   `json:"disk"`
	NetworkSent       uint64    `json:"network_sent"`
	NetworkRecv       uint64    `json:"network_recv"`
	ActiveConnections int       `json:"active_connections"`
	PacketsCaptured   uint64    `json:"packets_captured"`
}

// LiveMetrics 是 API 读取的实时快照，不经过存储。
type LiveMetrics struct {
	CPUUsage          float64   `json:"cpu_usage"`
	MemoryUsage       float64   `json:"memory_usage"`
	DiskUsage         float64   `json:"disk_usage"`
	NetworkSent       uint64    `json:"network_sent"`
	NetworkRecv       uint64    `json:"network_recv"`
	ActiveConnections int       `json:"active_connections"`
	PacketsCaptured   uint64    `json:"packets_captured"`
	ThreatsDetected   uint64    `json:"threats_detected"`
	CaptureMode       string    `json:"capture_mode"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type SystemInfo struct {
	CPUCores     int     `json:"cpu_cores"`
	CPUFrequency float64 `json:"cpu_frequency"`
	MemoryTotal  uint64  `json:"memory_total"`
	DiskTotal    uint64  `json:"disk_total"`
	Hostname     string  `json:"hostname"`
	Platform     string  `json:"platform"`
}
