package filter

import (
	"testing"

	"golang.org/x/net/bpf"
)

func frame(etherType uint16) []byte {
	b := make([]byte, 60)
	b[12] = byte(etherType >> 8)
	b[13] = byte(etherType)
	return b
}

func TestIPv4BPF(t *testing.T) {
	raw, err := IPv4BPF()
	if err != nil {
		t.Fatalf("IPv4BPF failed: %v", err)
	}
	ins, err := Disassemble(raw)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	vm, err := bpf.NewVM(ins)
	if err != nil {
		t.Fatalf("NewVM failed: %v", err)
	}

	tests := []struct {
		name      string
		etherType uint16
		accept    bool
	}{
		{"ipv4", 0x0800, true},
		{"ipv6", 0x86DD, false},
		{"arp", 0x0806, false},
	}
	for _, tt := range tests {
		n, err := vm.Run(frame(tt.etherType))
		if err != nil {
			t.Fatalf("%s: vm.Run failed: %v", tt.name, err)
		}
		if got := n > 0; got != tt.accept {
			t.Errorf("%s: accepted=%v; want %v", tt.name, got, tt.accept)
		}
	}
}
