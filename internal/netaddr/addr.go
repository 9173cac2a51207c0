// Package netaddr turns the relay's <IP> <PORT> arguments into a socket
// address whose family is picked at runtime from the IP.
package netaddr

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Addr is a parsed listen or dial address.
type Addr struct {
	IP   netip.Addr
	Port uint16
}

// Parse validates ip and port. IPv6 literals may be bracketed; port 0 asks the
// kernel for an ephemeral port.
func Parse(ip, port string) (Addr, error) {
	ip = strings.TrimSpace(ip)
	ip = strings.TrimSuffix(strings.TrimPrefix(ip, "["), "]")
	if ip == "" {
		return Addr{}, errors.New("empty ip")
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	p, err := strconv.ParseUint(strings.TrimSpace(port), 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid port %q: %w", port, err)
	}
	return Addr{IP: a.Unmap(), Port: uint16(p)}, nil
}

// Family returns AF_INET for IPv4 addresses and AF_INET6 otherwise.
func (a Addr) Family() int {
	if a.IP.Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// Network is the matching net package network name.
func (a Addr) Network() string {
	if a.IP.Is4() {
		return "tcp4"
	}
	return "tcp6"
}

// Sockaddr builds the raw address used for bind(2).
func (a Addr) Sockaddr() (unix.Sockaddr, error) {
	if a.IP.Is4() {
		return &unix.SockaddrInet4{Port: int(a.Port), Addr: a.IP.As4()}, nil
	}
	sa := &unix.SockaddrInet6{Port: int(a.Port), Addr: a.IP.As16()}
	if zone := a.IP.Zone(); zone != "" {
		ifi, err := net.InterfaceByName(zone)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", zone, err)
		}
		sa.ZoneId = uint32(ifi.Index)
	}
	return sa, nil
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}
