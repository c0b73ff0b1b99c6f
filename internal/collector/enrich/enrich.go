package enrich

import (
	"context"
	"sync"
)

const (
	LocalNetwork = "Local Network"
	Unknown      = "Unknown"
)

type Geolocator interface {
	Geolocate(ctx context.Context, ip string) string
}

type ReputationChecker interface {
	CheckReputation(ctx context.Context, ip string) Reputation
}

// Reputation 是黑名单判定结果。Checked 表示信誉服务确实给出了应答；
// 查询失败时按 fail-open 处理（未拉黑），此时 Checked 为 false。
type Reputation struct {
	Blacklisted bool
	Attacks     int
	Reports     int
	Checked     bool
}

type Result struct {
	CountryCity string
	Reputation
}

// Enricher 并行执行地理位置与信誉两次查询，总耗时不超过两者中较慢的超时。
type Enricher struct {
	geo Geolocator
	rep ReputationChecker
}

func NewEnricher(geo Geolocator, rep ReputationChecker) *Enricher {
	return &Enricher{geo: geo, rep: rep}
}

func (e *Enricher) Enrich(ctx context.Context, ip string) Result {
	var (
		wg  sync.WaitGroup
		res Result
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.CountryCity = e.geo.Geolocate(ctx, ip)
	}()
	go func() {
		defer wg.Done()
		res.Reputation = e.rep.CheckReputation(ctx, ip)
	}()
	wg.Wait()
	return res
}
