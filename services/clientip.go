package services

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// LoopbackSentinel is returned when no usable address can be resolved.
const LoopbackSentinel = "127.0.0.1"

// ClientIPResolver extracts the canonical client IP from a request. The
// header list is an ordered priority list; the first header carrying a
// syntactically valid, publicly routable address wins. Comma-separated
// values (X-Forwarded-For chains) take only the first entry.
//
// One resolver instance is shared by the rate limiter, the brute-force
// guard, and the session monitor so all three key on the same identity.
type ClientIPResolver struct {
	headers []string
}

func NewClientIPResolver(headers []string) *ClientIPResolver {
	return &ClientIPResolver{headers: headers}
}

// Resolve is deterministic and total: it always returns an address,
// falling back to the direct connection address and finally the
// loopback sentinel. No network calls.
func (r *ClientIPResolver) Resolve(c *fiber.Ctx) string {
	for _, header := range r.headers {
		value := c.Get(header)
		if value == "" {
			continue
		}
		// Proxy chains list the original client first
		candidate := strings.TrimSpace(strings.Split(value, ",")[0])
		if IsPublicIP(candidate) {
			return normalizeIP(candidate)
		}
	}

	if remote := c.IP(); remote != "" {
		if parsed := net.ParseIP(remote); parsed != nil {
			return parsed.String()
		}
	}

	return LoopbackSentinel
}

// IsPublicIP reports whether s is a valid IP outside the private,
// loopback, link-local, multicast, and unspecified ranges.
func IsPublicIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return false
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return false
	}
	return true
}

// IsValidIP reports whether s parses as an IPv4 or IPv6 address.
// Used to validate operator input before manual ban/unban.
func IsValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// normalizeIP returns the canonical textual form (compressed IPv6).
func normalizeIP(s string) string {
	if parsed := net.ParseIP(s); parsed != nil {
		return parsed.String()
	}
	return s
}
