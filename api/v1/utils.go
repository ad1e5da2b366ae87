package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyIPHeaders are checked in order after X-Forwarded-For. Each carries a
// single address when present.
var proxyIPHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// getClientIP walks the reverse-proxy headers for the first public address
// and falls back to the connection peer. Private and loopback addresses are
// skipped so a proxy hop never masquerades as the visitor.
func getClientIP(c *fiber.Ctx) string {
	if ip := firstPublicIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyIPHeaders {
		if value := c.Get(header); value != "" {
			if ip := firstPublicIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := firstPublicIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	remoteAddr := c.Context().RemoteAddr().String()
	if ip := firstPublicIP([]string{remoteAddr}); ip != "" {
		return ip
	}

	if ip := firstPublicIP([]string{c.IP()}); ip != "" {
		return ip
	}

	return "127.0.0.1"
}

// firstPublicIP returns the first routable IPv4 candidate, or the first
// routable IPv6 one when no IPv4 is present.
func firstPublicIP(candidates []string) string {
	var v6Fallback string

	for _, raw := range candidates {
		addr, ok := parseAddr(raw)
		if !ok || !isPublic(addr) {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
		if v6Fallback == "" {
			v6Fallback = addr.String()
		}
	}

	return v6Fallback
}

func parseAddr(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return netip.Addr{}, false
	}

	// Strip a zone identifier such as fe80::1%eth0
	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().Unmap(), true
	}

	clean = strings.TrimPrefix(clean, "[")
	clean = strings.TrimSuffix(clean, "]")

	if addr, err := netip.ParseAddr(clean); err == nil {
		return addr.Unmap(), true
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return parseAddr(host)
	}

	return netip.Addr{}, false
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsUnspecified()
}

// parseForwardedHeader extracts the for= pairs of an RFC 7239 header.
func parseForwardedHeader(header string) []string {
	var candidates []string

	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, strings.TrimPrefix(part, "for="))
			}
		}
	}

	return candidates
}

// generateETag creates a strong ETag from content using SHA-256
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}
