package iputil

import "testing"

func TestIsInternalString(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"172.16.5.4", true},
		{"192.168.1.10", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"::ffff:192.168.1.1", true},
		{"224.0.0.251", true},
		{"239.255.255.250", true},
		{"ff02::fb", true},
		{"ff05::c", true},
		{"255.255.255.255", true},
		{"not-an-ip", true},
		{"", true},
		{"8.8.8.8", false},
		{"203.0.113.7", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		if got := IsInternalString(tt.ip); got != tt.want {
			t.Errorf("IsInternalString(%q) = %v; want %v", tt.ip, got, tt.want)
		}
	}
}
