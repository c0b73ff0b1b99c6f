package pidmap

import (
	"net/netip"
	"testing"
	"unsafe"
)

func TestMakeKeyNetByteLayout(t *testing.T) {
	src := netip.MustParseAddr("192.168.1.1")
	dst := netip.MustParseAddr("93.184.216.34")

	key, ok := makeKeyNet(src, 12345, dst, 443)
	if !ok {
		t.Fatal("makeKeyNet failed")
	}

	// 内存里的地址字节与网络序一致
	if got := *(*[4]byte)(unsafe.Pointer(&key.SrcIP)); got != [4]byte{0xC0, 0xA8, 0x01, 0x01} {
		t.Errorf("SrcIP bytes = %x", got)
	}
	if got := *(*[4]byte)(unsafe.Pointer(&key.DstIP)); got != [4]byte{93, 184, 216, 34} {
		t.Errorf("DstIP bytes = %x", got)
	}
	// 12345 = 0x3039，网络序 30 39
	if got := *(*[2]byte)(unsafe.Pointer(&key.SrcPort)); got != [2]byte{0x30, 0x39} {
		t.Errorf("SrcPort bytes = %x", got)
	}
}

func TestMakeKeyHostKeepsPortOrder(t *testing.T) {
	key, ok := makeKeyHost(netip.MustParseAddr("10.0.0.1"), 12345, netip.MustParseAddr("1.1.1.1"), 53)
	if !ok {
		t.Fatal("makeKeyHost failed")
	}
	if key.SrcPort != 12345 || key.DstPort != 53 {
		t.Errorf("ports = %d/%d; want 12345/53", key.SrcPort, key.DstPort)
	}
}

func TestMakeKeyAcceptsMappedIPv4(t *testing.T) {
	mapped := netip.MustParseAddr("::ffff:10.0.0.1")
	plain := netip.MustParseAddr("10.0.0.1")
	a, ok1 := makeKeyHost(mapped, 1, plain, 2)
	b, ok2 := makeKeyHost(plain, 1, plain, 2)
	if !ok1 || !ok2 || a != b {
		t.Errorf("mapped address key mismatch: %+v vs %+v", a, b)
	}
}

func TestMakeKeyRejectsIPv6(t *testing.T) {
	if _, ok := makeKeyNet(netip.MustParseAddr("2001:db8::1"), 1, netip.MustParseAddr("10.0.0.1"), 2); ok {
		t.Error("expected IPv6 source to be rejected")
	}
}

func TestToNetPort(t *testing.T) {
	if p := toNetPort(80); p != 0x5000 {
		t.Errorf("Expected 0x5000, got 0x%x", p)
	}
	if p := toNetPort(8080); p != 0x901F {
		t.Errorf("Expected 0x901F, got 0x%x", p)
	}
}

func TestNilResolverLookup(t *testing.T) {
	var r *Resolver
	if pid := r.Lookup(netip.MustParseAddr("10.0.0.1"), 1, netip.MustParseAddr("1.1.1.1"), 443); pid != 0 {
		t.Errorf("nil resolver returned pid %d", pid)
	}
}
