//go:build !linux

package capture

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"netsentry/internal/collector/livestate"
)

const DefaultSnaplen = 256

// RawSource 在非 Linux 平台上不可用，Probe 总是失败，采集自动退回轮询。
type RawSource struct{}

func Probe(string, int, *zap.Logger) (*RawSource, error) {
	return nil, errors.New("当前平台不支持 AF_PACKET 抓包")
}

func (s *RawSource) Mode() string { return livestate.ModeRaw }

func (s *RawSource) Run(context.Context, EmitFunc) error {
	return errors.New("当前平台不支持 AF_PACKET 抓包")
}
