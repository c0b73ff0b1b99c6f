package storage

import (
	"fmt"

	"netsentry/internal/server/storage/duckdb"
	"netsentry/internal/server/storage/sqlite"
)

// Open 按驱动名创建存储。
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return sqlite.NewStore(path)
	case "duckdb":
		if path == "" {
			path = "./netsentry.duckdb"
		}
		return duckdb.NewStore(path)
	default:
		return nil, fmt.Errorf("不支持的数据库类型：%s", driver)
	}
}
