package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// IPv4BPF 只放行以太网承载的 IPv4 帧，其余一律在内核丢弃。
func IPv4BPF() ([]bpf.RawInstruction, error) {
	ins := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                         // EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 1}, // IPv4? 否则 drop
		bpf.RetConstant{Val: 0xFFFF},                               // accept (snaplen 由 AF_PACKET 控制)
		bpf.RetConstant{Val: 0},                                    // drop
	}

	raw, err := bpf.Assemble(ins)
	if err != nil {
		return nil, fmt.Errorf("组装 BPF 失败：%w", err)
	}
	return raw, nil
}

// Disassemble 把原始指令还原回可执行的 Instruction 列表，测试里用来喂给 bpf.VM。
func Disassemble(raw []bpf.RawInstruction) ([]bpf.Instruction, error) {
	ins, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("BPF 指令无法完整反汇编")
	}
	return ins, nil
}
