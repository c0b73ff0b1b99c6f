package iputil

import "net/netip"

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// IsInternal 判断地址是否没有公网威胁面：私有、回环、链路本地、组播、广播、未指定地址都算内部。
// 无法解析的地址也按内部处理，调用方据此跳过富化。
func IsInternal(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsMulticast() ||
		addr == limitedBroadcast ||
		addr.IsUnspecified()
}

// IsInternalString 同 IsInternal，输入为字符串形式的 IP。
func IsInternalString(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	return IsInternal(addr)
}
