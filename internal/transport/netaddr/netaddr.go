// Package netaddr maps service identifiers and peer addresses onto host:port
// pairs for the socket-based transports.
package netaddr

import (
	"context"
	"fmt"
	"net"

	"github.com/omochice/linkchat/internal/chat"
)

// Services maps service identifiers to bind addresses.
type Services map[string]string

// Bind returns the listen address for serviceID. A service id that is itself
// a host:port is used as-is.
func (s Services) Bind(serviceID string) (string, error) {
	if addr, ok := s[serviceID]; ok {
		return addr, nil
	}
	if _, _, err := net.SplitHostPort(serviceID); err == nil {
		return serviceID, nil
	}
	return "", fmt.Errorf("unknown service %q", serviceID)
}

// Target returns the host:port to dial for a peer. A bare host takes its
// port from the service's bind address. Hosts that do not resolve fail with
// chat.ErrUnresolvable.
func (s Services) Target(ctx context.Context, address, serviceID string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		bind, berr := s.Bind(serviceID)
		if berr != nil {
			return "", fmt.Errorf("%w: %v", chat.ErrUnresolvable, berr)
		}
		if _, port, err = net.SplitHostPort(bind); err != nil {
			return "", fmt.Errorf("%w: service %q: %v", chat.ErrUnresolvable, serviceID, err)
		}
		host = address
	}

	if host == "" {
		return "", fmt.Errorf("%w: empty host in %q", chat.ErrUnresolvable, address)
	}
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return "", fmt.Errorf("%w: %v", chat.ErrUnresolvable, err)
		}
	}
	return net.JoinHostPort(host, port), nil
}
