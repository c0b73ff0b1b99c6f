package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"netsentry/pkg/model"
)

const (
	DefaultSubject = "netsentry.threats"
	connectTimeout = 10 * time.Second
)

var errNotConnected = errors.New("NATS 连接不可用")

// Publisher 把 ThreatRecord 以 JSON 转发到 NATS，断线重连交给 nats.go 自身处理。
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

func NewPublisher(url, subject string, log *zap.Logger) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "forward"))

	conn, err := nats.Connect(url,
		nats.Name("netsentry"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS 连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS 已重连", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败（%s）：%w", url, err)
	}
	log.Info("NATS 转发已启用", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{conn: conn, subject: subject, log: log}, nil
}

func (p *Publisher) PublishThreat(ctx context.Context, t *model.ThreatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.conn == nil || !p.conn.IsConnected() {
		return errNotConnected
	}
	msg, err := buildMsg(p.subject, t)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("发布威胁记录失败：%w", err)
	}
	return nil
}

func buildMsg(subject string, t *model.ThreatRecord) (*nats.Msg, error) {
	if t == nil {
		return nil, errors.New("threat record 为空")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("序列化威胁记录失败：%w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	// JetStream 据此去重
	msg.Header.Set(nats.MsgIdHdr, t.ID)
	msg.Header.Set("x-threat-type", t.ThreatType)
	msg.Header.Set("x-severity", t.Severity)
	return msg, nil
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("关闭 NATS 连接失败：%w", err)
	}
	return nil
}
