//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"go.uber.org/zap"
	"golang.org/x/net/bpf"

	"netsentry/internal/collector/filter"
	"netsentry/internal/collector/livestate"
)

const DefaultSnaplen = 256

type afpacketHandle struct {
	tp *afpacket.TPacket
}

func openAFPacket(iface string, snaplen int) (*afpacketHandle, error) {
	if iface == "" {
		return nil, fmt.Errorf("interface 不能为空")
	}

	frameSize := nextPow2(snaplen)
	if frameSize < 2048 {
		frameSize = 2048
	}
	if frameSize > 1<<16 {
		frameSize = 1 << 16
	}

	blockSize := 1 << 20
	if blockSize%frameSize != 0 {
		blockSize = frameSize * 16
	}

	opts := []interface{}{
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(64),
		afpacket.OptPollTimeout(250 * time.Millisecond),
	}
	// "any" 不绑定网卡，收所有接口的帧
	if iface != "any" {
		opts = append(opts, afpacket.OptInterface(iface))
	}
	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
			return nil, fmt.Errorf("打开 AF_PACKET 失败（需要 root 或 CAP_NET_RAW）：%w：%w", ErrPermission, err)
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && iface != "any" {
			return nil, fmt.Errorf("打开 AF_PACKET 失败：%w（检查网卡名是否存在：%s）", err, iface)
		}
		return nil, fmt.Errorf("打开 AF_PACKET 失败：%w", err)
	}
	return &afpacketHandle{tp: tp}, nil
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (h *afpacketHandle) Close() {
	if h.tp != nil {
		h.tp.Close()
	}
}

func (h *afpacketHandle) SetBPF(ins []bpf.RawInstruction) error {
	if h.tp == nil {
		return os.ErrInvalid
	}
	return h.tp.SetBPF(ins)
}

// readPacket 在 poll 超时后继续等待，直到读到数据、ctx 取消或出现真正的读错误。
// 返回的 data 只在下一次读之前有效。
func (h *afpacketHandle) readPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if h.tp == nil {
		return nil, gopacket.CaptureInfo{}, os.ErrInvalid
	}
	for {
		data, ci, err := h.tp.ZeroCopyReadPacketData()
		if err == nil {
			return data, ci, nil
		}
		if ctx.Err() != nil {
			return nil, gopacket.CaptureInfo{}, ctx.Err()
		}
		if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
			continue
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("读取 AF_PACKET 失败：%w", err)
	}
}

// RawSource 通过 AF_PACKET 抓取 IPv4 流量。
type RawSource struct {
	handle *afpacketHandle
	log    *zap.Logger
}

// Probe 一次性探测原始抓包能力：打开 AF_PACKET 并挂上 IPv4 过滤器。
// 权限不足时返回的错误满足 errors.Is(err, ErrPermission)。
func Probe(iface string, snaplen int, log *zap.Logger) (*RawSource, error) {
	if snaplen <= 0 {
		snaplen = DefaultSnaplen
	}
	if log == nil {
		log = zap.NewNop()
	}
	h, err := openAFPacket(iface, snaplen)
	if err != nil {
		return nil, err
	}
	ins, err := filter.IPv4BPF()
	if err != nil {
		h.Close()
		return nil, err
	}
	if err := h.SetBPF(ins); err != nil {
		h.Close()
		return nil, fmt.Errorf("设置 BPF 失败：%w", err)
	}
	return &RawSource{handle: h, log: log.With(zap.String("component", "capture"), zap.String("iface", iface))}, nil
}

func (s *RawSource) Mode() string { return livestate.ModeRaw }

func (s *RawSource) Run(ctx context.Context, emit EmitFunc) error {
	defer s.handle.Close()
	dec := newPacketDecoder()

	s.log.Info("开始原始抓包")
	for {
		data, ci, err := s.handle.readPacket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, ok := dec.decode(data, ci.Timestamp)
		if !ok {
			continue
		}
		emit(ctx, ev)
	}
}
