package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"netsentry/pkg/model"
)

const defaultLimit = 200

// Store 封装四张表的插入与倒序查询，sqlite/duckdb 只负责驱动名与建表语句。
type Store struct {
	db *sql.DB

	insObservation *sql.Stmt
	insThreat      *sql.Stmt
	insMetrics     *sql.Stmt
	insLog         *sql.Stmt
}

// Open 打开数据库并逐条执行 ddl。逐条执行是因为部分驱动不支持一次 Exec 多条语句。
func Open(driver, dsn string, ddl []string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 %s 失败：%w", driver, err)
	}
	s, err := New(db, ddl)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, ddl []string) (*Store, error) {
	s := &Store{db: db}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("建表失败：%w", err)
		}
	}
	if err := s.prepare(); err != nil {
		s.closeStmts()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) prepare() error {
	var err error
	// 插入使用 prepared statement，减少每次写入的 SQL 解析开销。
	if s.insObservation, err = s.db.Prepare(`
INSERT INTO observations (
	timestamp, ip, protocol, local_port, port, type, country,
	blacklisted, attacks, reports, source, summary, pid
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`); err != nil {
		return fmt.Errorf("准备插入语句失败（observations）：%w", err)
	}
	if s.insThreat, err = s.db.Prepare(`
INSERT INTO threats (
	threat_id, timestamp, ip, threat_type, severity, description, observation_source
) VALUES (?, ?, ?, ?, ?, ?, ?);
`); err != nil {
		return fmt.Errorf("准备插入语句失败（threats）：%w", err)
	}
	if s.insMetrics, err = s.db.Prepare(`
INSERT INTO metrics (
	timestamp, cpu, memory, disk, network_sent, network_recv,
	active_connections, packets_captured
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`); err != nil {
		return fmt.Errorf("准备插入语句失败（metrics）：%w", err)
	}
	if s.insLog, err = s.db.Prepare(`
INSERT INTO logs (timestamp, log, level) VALUES (?, ?, ?);
`); err != nil {
		return fmt.Errorf("准备插入语句失败（logs）：%w", err)
	}
	return nil
}

func (s *Store) InsertObservation(ctx context.Context, obs *model.Observation) error {
	if obs == nil {
		return fmt.Errorf("observation 为空")
	}
	_, err := s.insObservation.ExecContext(ctx,
		obs.Timestamp,
		obs.RemoteAddress,
		obs.Protocol,
		obs.LocalPort,
		obs.RemotePort,
		obs.ActivityLabel,
		obs.CountryCity,
		obs.Blacklisted,
		obs.AttackCount,
		obs.ReportCount,
		obs.Source,
		obs.Summary,
		obs.PID,
	)
	if err != nil {
		return fmt.Errorf("插入 observation 失败：%w", err)
	}
	return nil
}

func (s *Store) InsertThreat(ctx context.Context, threat *model.ThreatRecord) error {
	if threat == nil {
		return fmt.Errorf("threat 为空")
	}
	_, err := s.insThreat.ExecContext(ctx,
		threat.ID,
		threat.Timestamp,
		threat.RemoteAddress,
		threat.ThreatType,
		threat.Severity,
		threat.Description,
		threat.ObservationSource,
	)
	if err != nil {
		return fmt.Errorf("插入 threat 失败：%w", err)
	}
	return nil
}

func (s *Store) InsertMetrics(ctx context.Context, sample *model.MetricsSample) error {
	if sample == nil {
		return fmt.Errorf("metrics 为空")
	}
	_, err := s.insMetrics.ExecContext(ctx,
		sample.Timestamp,
		sample.CPUPercent,
		sample.MemoryPercent,
		sample.DiskPercent,
		int64(sample.NetworkSent),
		int64(sample.NetworkRecv),
		sample.ActiveConnections,
		int64(sample.PacketsCaptured),
	)
	if err != nil {
		return fmt.Errorf("插入 metrics 失败：%w", err)
	}
	return nil
}

func (s *Store) InsertLog(ctx context.Context, entry *model.LogEntry) error {
	if entry == nil {
		return fmt.Errorf("log 为空")
	}
	if _, err := s.insLog.ExecContext(ctx, entry.Timestamp, entry.Message, entry.Level); err != nil {
		return fmt.Errorf("插入 log 失败：%w", err)
	}
	return nil
}

const observationColumns = `
	id, timestamp, ip, protocol, local_port, port, type, country,
	blacklisted, attacks, reports, source, summary, pid`

func (s *Store) RecentObservations(ctx context.Context, limit int) ([]model.Observation, error) {
	return s.queryObservations(ctx, `
SELECT`+observationColumns+`
FROM observations
ORDER BY id DESC
LIMIT ?;
`, normalizeLimit(limit))
}

func (s *Store) QueryByIP(ctx context.Context, ip string, limit int) ([]model.Observation, error) {
	return s.queryObservations(ctx, `
SELECT`+observationColumns+`
FROM observations
WHERE ip = ?
ORDER BY id DESC
LIMIT ?;
`, ip, normalizeLimit(limit))
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]model.Observation, 0, 64)
	for rows.Next() {
		var r model.Observation
		if err := rows.Scan(
			&r.ID,
			&r.Timestamp,
			&r.RemoteAddress,
			&r.Protocol,
			&r.LocalPort,
			&r.RemotePort,
			&r.ActivityLabel,
			&r.CountryCity,
			&r.Blacklisted,
			&r.AttackCount,
			&r.ReportCount,
			&r.Source,
			&r.Summary,
			&r.PID,
		); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func (s *Store) RecentThreats(ctx context.Context, limit int) ([]model.ThreatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT threat_id, timestamp, ip, threat_type, severity, description, observation_source
FROM threats
ORDER BY id DESC
LIMIT ?;
`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]model.ThreatRecord, 0, 16)
	for rows.Next() {
		var r model.ThreatRecord
		if err := rows.Scan(
			&r.ID,
			&r.Timestamp,
			&r.RemoteAddress,
			&r.ThreatType,
			&r.Severity,
			&r.Description,
			&r.ObservationSource,
		); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func (s *Store) RecentMetrics(ctx context.Context, limit int) ([]model.MetricsSample, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, cpu, memory, disk, network_sent, network_recv, active_connections, packets_captured
FROM metrics
ORDER BY id DESC
LIMIT ?;
`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]model.MetricsSample, 0, 64)
	for rows.Next() {
		var (
			r                   model.MetricsSample
			sent, recv, packets int64
		)
		if err := rows.Scan(
			&r.Timestamp,
			&r.CPUPercent,
			&r.MemoryPercent,
			&r.DiskPercent,
			&sent,
			&recv,
			&r.ActiveConnections,
			&packets,
		); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		r.NetworkSent = uint64(sent)
		r.NetworkRecv = uint64(recv)
		r.PacketsCaptured = uint64(packets)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, log, level
FROM logs
ORDER BY id DESC
LIMIT ?;
`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]model.LogEntry, 0, 64)
	for rows.Next() {
		var r model.LogEntry
		if err := rows.Scan(&r.Timestamp, &r.Message, &r.Level); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func (s *Store) closeStmts() error {
	var firstErr error
	for _, stmt := range []*sql.Stmt{s.insObservation, s.insThreat, s.insMetrics, s.insLog} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) Close() error {
	firstErr := s.closeStmts()
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
