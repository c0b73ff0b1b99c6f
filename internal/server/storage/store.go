package storage

import (
	"context"

	"netsentry/pkg/model"
)

// Store 是只追加的持久化端：每次写入是独立事务，查询一律按写入顺序倒序返回。
type Store interface {
	InsertObservation(ctx context.Context, obs *model.Observation) error
	InsertThreat(ctx context.Context, threat *model.ThreatRecord) error
	InsertMetrics(ctx context.Context, sample *model.MetricsSample) error
	InsertLog(ctx context.Context, entry *model.LogEntry) error

	RecentObservations(ctx context.Context, limit int) ([]model.Observation, error)
	QueryByIP(ctx context.Context, ip string, limit int) ([]model.Observation, error)
	RecentThreats(ctx context.Context, limit int) ([]model.ThreatRecord, error)
	RecentMetrics(ctx context.Context, limit int) ([]model.MetricsSample, error)
	RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error)

	Close() error
}
