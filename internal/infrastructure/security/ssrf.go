// Package security holds outbound request validation and credential encryption.
package security

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/ordersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// Resolver resolves host names to addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedPorts = map[int]struct{}{
	22: {}, 23: {}, 25: {}, 53: {}, 110: {}, 143: {}, 993: {}, 995: {},
	1433: {}, 3306: {}, 5432: {}, 6379: {}, 27017: {},
}

var blockedFragments = []string{"file://", "ftp://", "gopher://", "dict://", "localhost", "0.0.0.0"}

// Ranges not covered by the netip predicates
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// Guard validates outbound URLs before any platform request is made
type Guard struct {
	resolver Resolver
	logger   *zap.Logger
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithResolver replaces the DNS resolver
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) {
		g.resolver = r
	}
}

// WithGuardLogger sets the logger rejections are reported to
func WithGuardLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a guard using net.DefaultResolver
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate rejects rawURL unless it is an https URL on an allowed domain whose
// every resolved address is publicly routable.
func (g *Guard) Validate(ctx context.Context, rawURL string, allowedDomains []string) error {
	if err := g.validate(ctx, rawURL, allowedDomains); err != nil {
		g.logger.Error("outbound URL rejected",
			zap.String("url", redactQuery(rawURL)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (g *Guard) validate(ctx context.Context, rawURL string, allowedDomains []string) error {
	lowered := strings.ToLower(rawURL)
	for _, frag := range blockedFragments {
		if strings.Contains(lowered, frag) {
			return fmt.Errorf("%w: %w: contains %q", integration.ErrSSRFRejected, integration.ErrInvalidURL, frag)
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", integration.ErrSSRFRejected, integration.ErrInvalidURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: %w: scheme %q is not allowed", integration.ErrSSRFRejected, integration.ErrInvalidURL, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: %w: missing host", integration.ErrSSRFRejected, integration.ErrInvalidURL)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: %w: invalid port %q", integration.ErrSSRFRejected, integration.ErrInvalidURL, p)
		}
		if _, blocked := blockedPorts[port]; blocked {
			return fmt.Errorf("%w: port %d is blocked", integration.ErrSSRFRejected, port)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: address %s is not publicly routable", integration.ErrSSRFRejected, addr)
		}
	}

	if !domainAllowed(host, allowedDomains) {
		return fmt.Errorf("%w: host %s is not in the allowed domains", integration.ErrSSRFRejected, host)
	}

	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s: %v", integration.ErrSSRFRejected, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s resolved to no addresses", integration.ErrSSRFRejected, host)
	}
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: %s resolves to non-public address %s", integration.ErrSSRFRejected, host, addr)
		}
	}
	return nil
}

// IsBlockedAddr reports whether addr is private, loopback, link-local, reserved,
// multicast or unspecified.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	if addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func domainAllowed(host string, allowed []string) bool {
	for _, d := range allowed {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// redactQuery drops the query string, which carries signed credentials
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
