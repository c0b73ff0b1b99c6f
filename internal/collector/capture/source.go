package capture

import (
	"context"
	"errors"
)

// ErrPermission 表示当前进程没有原始抓包权限（需要 root 或 CAP_NET_RAW）。
var ErrPermission = errors.New("capture: permission denied")

// EmitFunc 接收采集到的事件。同一个 Source 内按到达顺序串行调用。
type EmitFunc func(ctx context.Context, ev Event)

// Source 是两种采集方式的共同抽象：原始抓包和连接轮询。
// Run 阻塞直到 ctx 取消（返回 nil）或采集层出错。
type Source interface {
	Mode() string
	Run(ctx context.Context, emit EmitFunc) error
}
