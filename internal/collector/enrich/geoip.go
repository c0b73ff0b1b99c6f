package enrich

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"netsentry/internal/collector/iputil"
)

// GeoIPLocator 使用本地 MaxMind City 数据库定位，不依赖外部服务。
type GeoIPLocator struct {
	db  *geoip2.Reader
	log *zap.Logger
}

func OpenGeoIP(path string, log *zap.Logger) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 GeoIP 数据库失败：%w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeoIPLocator{db: db, log: log.With(zap.String("component", "geoip"))}, nil
}

func (g *GeoIPLocator) Geolocate(_ context.Context, ip string) string {
	if iputil.IsInternalString(ip) {
		return LocalNetwork
	}
	record, err := g.db.City(net.ParseIP(ip))
	if err != nil {
		g.log.Warn("GeoIP 查询失败", zap.String("ip", ip), zap.Error(err))
		return Unknown
	}
	return fmt.Sprintf("%s, %s", orUnknown(record.Country.Names["en"]), orUnknown(record.City.Names["en"]))
}

func (g *GeoIPLocator) Close() error {
	return g.db.Close()
}
