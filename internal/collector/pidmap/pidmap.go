package pidmap

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

const maxFlows = 65535

// Resolver 通过挂在 sock:inet_sock_set_state 上的 eBPF 程序记录
// "IPv4 TCP 四元组 -> 建立连接时的进程 PID"，供采集管线给 Observation 标注进程。
type Resolver struct {
	m    *ebpf.Map
	prog *ebpf.Program
	tp   link.Link
	log  *zap.Logger
}

type flowKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Pad     uint32
}

type offsets struct {
	family   int16
	protocol int16
	newstate int16
	sport    int16
	dport    int16
	saddr    int16
	daddr    int16
}

func NewResolver(log *zap.Logger) (*Resolver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("设置 memlock 失败：%w", err)
	}
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return nil, fmt.Errorf("加载 BTF 失败：%w", err)
	}
	var st *btf.Struct
	if err := spec.TypeByName("trace_event_raw_inet_sock_set_state", &st); err != nil {
		return nil, fmt.Errorf("查找 tracepoint 结构失败：%w", err)
	}
	off, err := resolveOffsets(st)
	if err != nil {
		return nil, err
	}
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "flow_pid_map",
		Type:       ebpf.LRUHash,
		KeySize:    16,
		ValueSize:  4,
		MaxEntries: maxFlows,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 map 失败：%w", err)
	}
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Type:         ebpf.TracePoint,
		Instructions: buildProgram(m, off),
		License:      "GPL",
	})
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("加载 eBPF 程序失败：%w", err)
	}
	tp, err := link.Tracepoint("sock", "inet_sock_set_state", prog, nil)
	if err != nil {
		prog.Close()
		m.Close()
		return nil, fmt.Errorf("挂载 tracepoint 失败：%w", err)
	}
	log.Info("eBPF 进程归属已启用")
	return &Resolver{m: m, prog: prog, tp: tp, log: log.With(zap.String("component", "pidmap"))}, nil
}

// Lookup 返回建立该连接的进程 PID，查不到时返回 0。两个方向都能命中。
func (r *Resolver) Lookup(src netip.Addr, srcPort int, dst netip.Addr, dstPort int) int {
	if r == nil || r.m == nil {
		return 0
	}
	var pid uint32
	if key, ok := makeKeyNet(src, srcPort, dst, dstPort); ok {
		if err := r.m.Lookup(&key, &pid); err == nil {
			return int(pid)
		}
	}
	if key, ok := makeKeyHost(src, srcPort, dst, dstPort); ok {
		if err := r.m.Lookup(&key, &pid); err == nil {
			return int(pid)
		}
	}
	return 0
}

func (r *Resolver) Close() error {
	var firstErr error
	if r.tp != nil {
		if err := r.tp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.prog != nil {
		if err := r.prog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.m != nil {
		if err := r.m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// 内核里 saddr/daddr 是网络序字节数组，按小端读出的 uint32 在内存中与之逐字节一致。
func ipv4Word(a netip.Addr) (uint32, bool) {
	a = a.Unmap()
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return binary.LittleEndian.Uint32(b[:]), true
}

func makeKeyNet(src netip.Addr, srcPort int, dst netip.Addr, dstPort int) (flowKey, bool) {
	k, ok := makeKeyHost(src, srcPort, dst, dstPort)
	if !ok {
		return flowKey{}, false
	}
	k.SrcPort = toNetPort(k.SrcPort)
	k.DstPort = toNetPort(k.DstPort)
	return k, true
}

func makeKeyHost(src netip.Addr, srcPort int, dst netip.Addr, dstPort int) (flowKey, bool) {
	sip, ok1 := ipv4Word(src)
	dip, ok2 := ipv4Word(dst)
	if !ok1 || !ok2 {
		return flowKey{}, false
	}
	return flowKey{
		SrcIP:   sip,
		DstIP:   dip,
		SrcPort: uint16(srcPort),
		DstPort: uint16(dstPort),
	}, true
}

func toNetPort(p uint16) uint16 {
	return (p << 8) | (p >> 8)
}

func resolveOffsets(st *btf.Struct) (offsets, error) {
	var out offsets
	fields := []struct {
		name string
		dst  *int16
	}{
		{"family", &out.family},
		{"protocol", &out.protocol},
		{"newstate", &out.newstate},
		{"sport", &out.sport},
		{"dport", &out.dport},
		{"saddr", &out.saddr},
		{"daddr", &out.daddr},
	}
	for _, f := range fields {
		v, err := memberOffset(st, f.name)
		if err != nil {
			return offsets{}, err
		}
		*f.dst = v
	}
	return out, nil
}

func memberOffset(st *btf.Struct, name string) (int16, error) {
	for _, m := range st.Members {
		if m.Name == name {
			return int16(m.Offset / 8), nil
		}
	}
	return 0, fmt.Errorf("成员缺失：%s", name)
}

// buildProgram 在 TCP 进入 ESTABLISHED 时，把正反两个方向的四元组都写入 map。
func buildProgram(m *ebpf.Map, off offsets) asm.Instructions {
	const (
		afInet         = 2
		ipprotoTCP     = 6
		tcpEstablished = 1
		keyOffset      = -32
		valueOffset    = -16
		keySrcIPOffset = keyOffset
		keyDstIPOffset = keyOffset + 4
		keySrcPOffset  = keyOffset + 8
		keyDstPOffset  = keyOffset + 10
		keyPadOffset   = keyOffset + 12
	)
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R1, asm.R6, off.family, asm.Half),
		asm.JNE.Imm(asm.R1, afInet, "exit"),
		asm.LoadMem(asm.R1, asm.R6, off.protocol, asm.Half),
		asm.JNE.Imm(asm.R1, ipprotoTCP, "exit"),
		asm.LoadMem(asm.R1, asm.R6, off.newstate, asm.Word),
		asm.JNE.Imm(asm.R1, tcpEstablished, "exit"),

		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.StoreMem(asm.RFP, valueOffset, asm.R0, asm.Word),

		asm.LoadMem(asm.R2, asm.R6, off.sport, asm.Half),
		asm.LoadMem(asm.R3, asm.R6, off.dport, asm.Half),
		asm.LoadMem(asm.R4, asm.R6, off.saddr, asm.Word),
		asm.LoadMem(asm.R5, asm.R6, off.daddr, asm.Word),
		asm.StoreMem(asm.RFP, keySrcIPOffset, asm.R4, asm.Word),
		asm.StoreMem(asm.RFP, keyDstIPOffset, asm.R5, asm.Word),
		asm.StoreMem(asm.RFP, keySrcPOffset, asm.R2, asm.Half),
		asm.StoreMem(asm.RFP, keyDstPOffset, asm.R3, asm.Half),
		asm.StoreImm(asm.RFP, keyPadOffset, 0, asm.Word),
		asm.LoadMapPtr(asm.R1, m.FD()),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keyOffset),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, valueOffset),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnMapUpdateElem.Call(),

		// 反方向
		asm.LoadMem(asm.R2, asm.R6, off.sport, asm.Half),
		asm.LoadMem(asm.R3, asm.R6, off.dport, asm.Half),
		asm.LoadMem(asm.R4, asm.R6, off.saddr, asm.Word),
		asm.LoadMem(asm.R5, asm.R6, off.daddr, asm.Word),
		asm.StoreMem(asm.RFP, keySrcIPOffset, asm.R5, asm.Word),
		asm.StoreMem(asm.RFP, keyDstIPOffset, asm.R4, asm.Word),
		asm.StoreMem(asm.RFP, keySrcPOffset, asm.R3, asm.Half),
		asm.StoreMem(asm.RFP, keyDstPOffset, asm.R2, asm.Half),
		asm.StoreImm(asm.RFP, keyPadOffset, 0, asm.Word),
		asm.LoadMapPtr(asm.R1, m.FD()),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keyOffset),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, valueOffset),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnMapUpdateElem.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}
