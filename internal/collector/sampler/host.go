package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"netsentry/pkg/model"
)

// Field 标记 HostSample 中的一项读数。
type Field uint8

const (
	FieldCPU Field = 1 << iota
	FieldMemory
	FieldDisk
	FieldIO
	FieldConns
)

// HostSample 是一次主机读数，网络字节数是累计值。
// Failed 记录本轮读取失败的项，这些项的值为 0，不能当作真实读数使用。
type HostSample struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	BytesSent     uint64
	BytesRecv     uint64
	Established   int
	Failed        Field
}

func (h HostSample) OK(f Field) bool {
	return h.Failed&f == 0
}

type Provider interface {
	Sample(ctx context.Context) (HostSample, error)
}

// HostProvider 基于 gopsutil 读取本机指标。
type HostProvider struct {
	diskPath    string
	cpuInterval time.Duration
}

func NewHostProvider() *HostProvider {
	return &HostProvider{diskPath: rootDisk(), cpuInterval: time.Second}
}

func rootDisk() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

// Sample 尽量读全；单项失败时在 Failed 中标记该项，错误合并返回，调用方照样使用读到的部分。
func (p *HostProvider) Sample(ctx context.Context) (HostSample, error) {
	var (
		out  HostSample
		errs []error
	)

	if pct, err := cpu.PercentWithContext(ctx, p.cpuInterval, false); err != nil {
		errs = append(errs, fmt.Errorf("读取 CPU 失败：%w", err))
		out.Failed |= FieldCPU
	} else if len(pct) > 0 {
		out.CPUPercent = round1(pct[0])
	} else {
		errs = append(errs, errors.New("读取 CPU 失败：没有数据"))
		out.Failed |= FieldCPU
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("读取内存失败：%w", err))
		out.Failed |= FieldMemory
	} else {
		out.MemoryPercent = round1(vm.UsedPercent)
	}

	if du, err := disk.UsageWithContext(ctx, p.diskPath); err != nil {
		errs = append(errs, fmt.Errorf("读取磁盘失败：%w", err))
		out.Failed |= FieldDisk
	} else {
		out.DiskPercent = round1(du.UsedPercent)
	}

	if io, err := psnet.IOCountersWithContext(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("读取网卡计数失败：%w", err))
		out.Failed |= FieldIO
	} else if len(io) > 0 {
		out.BytesSent, out.BytesRecv = io[0].BytesSent, io[0].BytesRecv
	} else {
		errs = append(errs, errors.New("读取网卡计数失败：没有数据"))
		out.Failed |= FieldIO
	}

	if conns, err := psnet.ConnectionsWithContext(ctx, "inet"); err != nil {
		errs = append(errs, fmt.Errorf("读取连接失败：%w", err))
		out.Failed |= FieldConns
	} else {
		for _, c := range conns {
			if c.Status == "ESTABLISHED" {
				out.Established++
			}
		}
	}

	return out, errors.Join(errs...)
}

// Info 返回静态的主机信息，读不到的字段保持零值。
func (p *HostProvider) Info(ctx context.Context) (model.SystemInfo, error) {
	var (
		info model.SystemInfo
		errs []error
	)
	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = append(errs, err)
	} else {
		info.CPUCores = n
	}
	if ci, err := cpu.InfoWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else if len(ci) > 0 {
		info.CPUFrequency = ci[0].Mhz
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else {
		info.MemoryTotal = vm.Total
	}
	if du, err := disk.UsageWithContext(ctx, p.diskPath); err != nil {
		errs = append(errs, err)
	} else {
		info.DiskTotal = du.Total
	}
	if hi, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, err)
	} else {
		info.Hostname = hi.Hostname
		info.Platform = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
	}
	if err := errors.Join(errs...); err != nil {
		return info, fmt.Errorf("读取主机信息不完整：%w", err)
	}
	return info, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
