package security

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"code.dny.dev/ssrf"

	"github.com/ordersync/backend/internal/domain/integration"
)

// DialControl returns a net.Dialer Control hook that refuses connections to
// non-public addresses and to ports other than ports. It runs on the address
// actually dialed, after DNS resolution, so a host that resolved to a public
// address during Validate and to a private one at connect time is still refused.
func DialControl(ports ...uint16) func(network, address string, c syscall.RawConn) error {
	if len(ports) == 0 {
		ports = []uint16{443}
	}
	guardian := ssrf.New(ssrf.WithPorts(ports...))

	return func(network, address string, c syscall.RawConn) error {
		if err := guardian.Safe(network, address, c); err != nil {
			return fmt.Errorf("%w: dial %s: %v", integration.ErrSSRFRejected, address, err)
		}
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("%w: dial %s: %v", integration.ErrSSRFRejected, address, err)
		}
		addr, err := netip.ParseAddr(host)
		if err != nil || IsBlockedAddr(addr) {
			return fmt.Errorf("%w: dial %s: address is not publicly routable", integration.ErrSSRFRejected, address)
		}
		return nil
	}
}
