package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"clustertransport/internal/wire"
)

// socketEntry is one row of the socket table (spec §3): a bound
// interface with its unicast and broadcast-receive sockets.
type socketEntry struct {
	ifaceName   string
	ifaceAddr   net.IP
	ifaceMask   net.IPMask
	broadcastIP net.IP

	unicast   *net.UDPConn
	broadcast *net.UDPConn
}

// discoverSockets enumerates non-loopback IPv4 interfaces and binds a
// unicast socket in [DynamicPortLow, DynamicPortHigh] plus a
// broadcast-receive socket on BroadcastPort for each, per spec §4.1.
// An interface with no free dynamic port is skipped, not fatal.
func discoverSockets() ([]*socketEntry, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var entries []*socketEntry
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			log.Warn().Err(err).Str("iface", iface.Name).Msg("failed to list interface addresses")
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}

			entry, err := bindInterface(iface.Name, ip4, ipnet.Mask)
			if err != nil {
				log.Warn().Err(err).Str("iface", iface.Name).Str("addr", ip4.String()).Msg("skipping interface, bind failed")
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func bindInterface(name string, ip net.IP, mask net.IPMask) (*socketEntry, error) {
	unicastConn, err := bindFirstFreePort(ip, wire.DynamicPortLow, wire.DynamicPortHigh)
	if err != nil {
		return nil, fmt.Errorf("no free unicast port in [%d,%d]: %w", wire.DynamicPortLow, wire.DynamicPortHigh, err)
	}
	if err := enableBroadcast(unicastConn); err != nil {
		unicastConn.Close()
		return nil, fmt.Errorf("enable broadcast: %w", err)
	}

	broadcastConn, err := bindReuseAddr(ip, wire.BroadcastPort)
	if err != nil {
		unicastConn.Close()
		return nil, fmt.Errorf("bind broadcast-receive socket: %w", err)
	}

	return &socketEntry{
		ifaceName:   name,
		ifaceAddr:   ip,
		ifaceMask:   mask,
		broadcastIP: broadcastAddress(ip, mask),
		unicast:     unicastConn,
		broadcast:   broadcastConn,
	}, nil
}

func bindFirstFreePort(ip net.IP, low, high int) (*net.UDPConn, error) {
	var lastErr error
	for port := low; port <= high; port++ {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func bindReuseAddr(ip net.IP, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("%s:%d", ip.String(), port))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func broadcastAddress(ip net.IP, mask net.IPMask) net.IP {
	bcast := make(net.IP, len(ip))
	for i := range ip {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

// socketForTarget returns the unicast socket of the first interface
// whose network prefix (masked by its own subnet mask) matches target's
// address masked the same way. Per spec §9, both sides are masked
// identically and every compared byte (full and partial) must agree —
// the historical "compare with == when assignment to same was intended"
// bug is not reproduced here: net.IP.Mask already handles partial bytes
// correctly, so a plain byte-slice equality check after masking is
// sufficient and cannot silently accept a partial mismatch.
func socketForTarget(entries []*socketEntry, target net.IP) *socketEntry {
	ip4 := target.To4()
	if ip4 == nil {
		return nil
	}
	for _, e := range entries {
		maskedIface := e.ifaceAddr.Mask(e.ifaceMask)
		maskedTarget := ip4.Mask(e.ifaceMask)
		if maskedIface.Equal(maskedTarget) {
			return e
		}
	}
	return nil
}

func closeSockets(entries []*socketEntry) {
	for _, e := range entries {
		e.unicast.Close()
		e.broadcast.Close()
	}
}
