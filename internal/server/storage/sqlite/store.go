package sqlite

import (
	"strings"

	_ "modernc.org/sqlite"

	"netsentry/internal/server/storage/sqlstore"
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS observations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   TIMESTAMP,
	ip          TEXT,
	protocol    TEXT,
	local_port  INTEGER,
	port        INTEGER,
	type        TEXT,
	country     TEXT,
	blacklisted BOOLEAN,
	attacks     INTEGER,
	reports     INTEGER,
	source      TEXT,
	summary     TEXT,
	pid         INTEGER
);`,
	`CREATE INDEX IF NOT EXISTS idx_observations_ip ON observations(ip);`,
	`CREATE TABLE IF NOT EXISTS threats (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	threat_id          TEXT,
	timestamp          TIMESTAMP,
	ip                 TEXT,
	threat_type        TEXT,
	severity           TEXT,
	description        TEXT,
	observation_source TEXT
);`,
	`CREATE TABLE IF NOT EXISTS metrics (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp          TIMESTAMP,
	cpu                REAL,
	memory             REAL,
	disk               REAL,
	network_sent       INTEGER,
	network_recv       INTEGER,
	active_connections INTEGER,
	packets_captured   INTEGER
);`,
	`CREATE TABLE IF NOT EXISTS logs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP,
	log       TEXT,
	level     TEXT
);`,
}

type Store struct {
	*sqlstore.Store
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "./netsentry.db"
	}
	base, err := sqlstore.Open("sqlite", dsn(path), ddl)
	if err != nil {
		return nil, err
	}
	// 采集、采样、审计日志会并发写入；SQLite 单写者，串行化连接避免 SQLITE_BUSY。
	base.DB().SetMaxOpenConns(1)
	return &Store{Store: base}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
