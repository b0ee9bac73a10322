package netutil

import (
	"net"
	"strconv"
	"strings"
)

// IsPrivateHost reports whether a URL hostname refers to the local machine or a
// private network. It works on the hostname string itself, without DNS
// resolution, so it is safe to call from pure validation code.
func IsPrivateHost(host string) bool {
	// Hostnames are case-insensitive and url.Parse preserves case.
	host = strings.ToLower(host)
	if host == "localhost" {
		return true
	}
	if net.ParseIP(host) == nil {
		return false
	}
	switch host {
	case "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	if strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "192.168.") {
		return true
	}
	// 172.16.0.0 - 172.31.255.255
	if strings.HasPrefix(host, "172.") {
		parts := strings.Split(host, ".")
		if len(parts) == 4 {
			if second, err := strconv.Atoi(parts[1]); err == nil && second >= 16 && second <= 31 {
				return true
			}
		}
	}
	return false
}

// IsPrivateIP returns true if the IP is in a private, loopback, link-local or
// reserved range. Used to re-check resolved addresses before outbound fetches.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	privateCIDRs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range privateCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}
