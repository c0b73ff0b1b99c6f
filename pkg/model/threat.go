package model

import "time"

const SeverityHigh = "HIGH"

const (
	ThreatBlacklistedIP         = "Blacklisted IP"
	ThreatBlacklistedConnection = "Blacklisted Connection"
)

type ThreatRecord struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	RemoteAddress     string    `json:"ip"`
	ThreatType        string    `json:"threat_type"`
	Severity          string    `json:"severity"`
	Description       string    `json:"description"`
	ObservationSource string    `json:"observation_source"`
}
