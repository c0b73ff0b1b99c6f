package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/iputil"
)

const DefaultReputationURL = "http://api.blocklist.de/api.php?ip=%s&format=json"

type HTTPReputation struct {
	urlTemplate string
	client      *http.Client
	timeout     time.Duration
	log         *zap.Logger

	OnFailure func(err error)
}

func NewHTTPReputation(urlTemplate string, timeout time.Duration, log *zap.Logger) *HTTPReputation {
	if urlTemplate == "" {
		urlTemplate = DefaultReputationURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPReputation{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		log:         log.With(zap.String("component", "reputation")),
	}
}

// CheckReputation 查询黑名单服务，attacks > 0 即判定为拉黑。
// 失败时返回未拉黑（fail-open），与服务不可达时"按干净处理"的既有策略一致。
func (r *HTTPReputation) CheckReputation(ctx context.Context, ip string) Reputation {
	if iputil.IsInternalString(ip) {
		return Reputation{}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body reputationResponse
	if err := getJSON(ctx, r.client, fmt.Sprintf(r.urlTemplate, ip), &body); err != nil {
		r.log.Warn("信誉查询失败，按未拉黑处理", zap.String("ip", ip), zap.Error(err))
		if r.OnFailure != nil {
			r.OnFailure(err)
		}
		return Reputation{}
	}
	attacks, reports := int(body.Attacks), int(body.Reports)
	return Reputation{
		Blacklisted: attacks > 0,
		Attacks:     attacks,
		Reports:     reports,
		Checked:     true,
	}
}

type reputationResponse struct {
	Attacks looseInt `json:"attacks"`
	Reports looseInt `json:"reports"`
}

// looseInt 同时接受 JSON 数字和数字字符串，空值按 0 处理。
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("非法数字：%q", s)
		}
		*n = looseInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = looseInt(v)
	return nil
}
