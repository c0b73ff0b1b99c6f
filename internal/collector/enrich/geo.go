package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/iputil"
)

const (
	DefaultGeoURL  = "https://geolocation-db.com/json/%s&position=true"
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 64 << 10
)

type HTTPGeolocator struct {
	urlTemplate string
	client      *http.Client
	timeout     time.Duration
	log         *zap.Logger

	// OnFailure 在查询失败（降级为 Unknown）时回调，用于计数。
	OnFailure func(err error)
}

func NewHTTPGeolocator(urlTemplate string, timeout time.Duration, log *zap.Logger) *HTTPGeolocator {
	if urlTemplate == "" {
		urlTemplate = DefaultGeoURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPGeolocator{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		log:         log.With(zap.String("component", "geolocate")),
	}
}

// Geolocate 返回 "{country}, {city}"；内网地址直接返回 Local Network，不发起网络请求；
// 任何失败都降级为 Unknown，不向调用方传播错误。
func (g *HTTPGeolocator) Geolocate(ctx context.Context, ip string) string {
	if iputil.IsInternalString(ip) {
		return LocalNetwork
	}
	loc, err := g.lookup(ctx, ip)
	if err != nil {
		g.log.Warn("地理位置查询失败", zap.String("ip", ip), zap.Error(err))
		if g.OnFailure != nil {
			g.OnFailure(err)
		}
		return Unknown
	}
	return loc
}

type geoResponse struct {
	CountryName string `json:"country_name"`
	City        string `json:"city"`
}

func (g *HTTPGeolocator) lookup(ctx context.Context, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var body geoResponse
	if err := getJSON(ctx, g.client, fmt.Sprintf(g.urlTemplate, ip), &body); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %s", orUnknown(body.CountryName), orUnknown(body.City)), nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET 请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET 请求失败：status=%s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("解析响应 JSON 失败：%w", err)
	}
	return nil
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown
	}
	return s
}
