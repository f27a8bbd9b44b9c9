package unsubscribe

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
)

// ValidateExternalURL rejects targets that could reach internal infrastructure.
// Only http/https schemes are allowed, the host must resolve, and every
// resolved address must be a public unicast IP. Headers come from untrusted
// mail, so this runs before any fetch.
func ValidateExternalURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("host %q did not resolve", host)
	}

	for _, addr := range addrs {
		if !publicUnicast(addr.Unmap()) {
			return fmt.Errorf("host %q resolves to non-public address %s", host, addr)
		}
	}
	return nil
}

func publicUnicast(addr netip.Addr) bool {
	switch {
	case !addr.IsValid(), addr.IsUnspecified(), addr.IsLoopback():
		return false
	case addr.IsPrivate(), addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return false
	case addr.IsMulticast():
		return false
	}
	return true
}
