package duckdb

import (
	_ "github.com/marcboeker/go-duckdb"

	"netsentry/internal/server/storage/sqlstore"
)

// DuckDB 没有 AUTOINCREMENT，用 sequence 生成自增 id，保证按写入顺序倒序查询。
var ddl = []string{
	`CREATE SEQUENCE IF NOT EXISTS observations_id_seq;`,
	`CREATE TABLE IF NOT EXISTS observations (
	id          BIGINT PRIMARY KEY DEFAULT nextval('observations_id_seq'),
	timestamp   TIMESTAMP,
	ip          VARCHAR,
	protocol    VARCHAR,
	local_port  INTEGER,
	port        INTEGER,
	type        VARCHAR,
	country     VARCHAR,
	blacklisted BOOLEAN,
	attacks     INTEGER,
	reports     INTEGER,
	source      VARCHAR,
	summary     VARCHAR,
	pid         INTEGER
);`,
	`CREATE SEQUENCE IF NOT EXISTS threats_id_seq;`,
	`CREATE TABLE IF NOT EXISTS threats (
	id                 BIGINT PRIMARY KEY DEFAULT nextval('threats_id_seq'),
	threat_id          VARCHAR,
	timestamp          TIMESTAMP,
	ip                 VARCHAR,
	threat_type        VARCHAR,
	severity           VARCHAR,
	description        VARCHAR,
	observation_source VARCHAR
);`,
	`CREATE SEQUENCE IF NOT EXISTS metrics_id_seq;`,
	`CREATE TABLE IF NOT EXISTS metrics (
	id                 BIGINT PRIMARY KEY DEFAULT nextval('metrics_id_seq'),
	timestamp          TIMESTAMP,
	cpu                DOUBLE,
	memory             DOUBLE,
	disk               DOUBLE,
	network_sent       BIGINT,
	network_recv       BIGINT,
	active_connections INTEGER,
	packets_captured   BIGINT
);`,
	`CREATE SEQUENCE IF NOT EXISTS logs_id_seq;`,
	`CREATE TABLE IF NOT EXISTS logs (
	id        BIGINT PRIMARY KEY DEFAULT nextval('logs_id_seq'),
	timestamp TIMESTAMP,
	log       VARCHAR,
	level     VARCHAR
);`,
}

type Store struct {
	*sqlstore.Store
}

func NewStore(path string) (*Store, error) {
	// DuckDB 是嵌入式分析型数据库：单文件、零依赖，适合历史指标的聚合查询。
	base, err := sqlstore.Open("duckdb", path, ddl)
	if err != nil {
		return nil, err
	}
	return &Store{Store: base}, nil
}
