package utils

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10, used by carrier-grade NAT, Tailscale and
// Cloudflare WARP.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether an active interface looks like a VPN
// tunnel or sits behind CGNAT, where direct peer-to-peer paths rarely work.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		var ips []net.IP
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					ips = append(ips, v.IP)
				case *net.IPAddr:
					ips = append(ips, v.IP)
				}
			}
		}
		if looksRestricted(iface.Name, ips) {
			return true
		}
	}
	return false
}

func looksRestricted(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, marker := range tunnelNames {
		if strings.Contains(name, marker) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
