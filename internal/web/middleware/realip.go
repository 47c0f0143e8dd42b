package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ParseTrustedProxies parses CIDRs and bare IPs into networks. Empty entries
// are skipped.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if _, network, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, network)
			continue
		}

		// A bare IP such as "127.0.0.1" trusts that host only
		ip := net.ParseIP(entry)
		if ip == nil {
			return nets, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		mask := net.CIDRMask(128, 128)
		if ip.To4() != nil {
			ip = ip.To4()
			mask = net.CIDRMask(32, 32)
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
	}
	return nets, nil
}

// TrustedRealIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For, but
// only for requests whose connection comes from a trusted proxy. Untrusted
// clients cannot spoof their address into rate limiting or the audit trail.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	trustedNets, err := ParseTrustedProxies(trustedCIDRs)
	if err != nil {
		slog.Warn("realip: ignoring invalid trusted proxy", "error", err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isTrusted(extractIP(r.RemoteAddr), trustedNets) {
				if ip := forwardedIP(r); ip != nil {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedIP returns the client address announced by a proxy, preferring
// X-Real-IP over the first X-Forwarded-For hop.
func forwardedIP(r *http.Request) net.IP {
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return net.ParseIP(strings.TrimSpace(rip))
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return net.ParseIP(strings.TrimSpace(first))
	}
	return nil
}

// extractIP parses an IP address from a host:port string or plain IP.
func extractIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}

// isTrusted checks if an IP is within any of the trusted networks.
func isTrusted(ip net.IP, trusted []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
