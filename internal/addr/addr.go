// Package addr holds the wire-level UDP address type and the
// address-to-identity / identity-to-addresses map described in spec §3
// and §4.6.
package addr

import (
	"fmt"
	"net"
)

// UDPAddress is a bare (IP, port) pair, independent of net.UDPAddr so it
// stays comparable and hashable as a map key.
type UDPAddress struct {
	IP   string // net.IP.String() form
	Port int
}

func FromUDPAddr(a *net.UDPAddr) UDPAddress {
	return UDPAddress{IP: a.IP.String(), Port: a.Port}
}

func (a UDPAddress) ToUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
}

func (a UDPAddress) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}
