// Package transmit sends telemetry records as connectionless datagrams and
// recovers from send failures by replacing the socket.
package transmit

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

var (
	// ErrClosed is returned when sending on a closed transmitter.
	ErrClosed = errors.New("transmit: transmitter closed")
	// ErrNoTransmitter is returned when no transmitter could be opened.
	ErrNoTransmitter = errors.New("transmit: no transmitter available")
)

// Transmitter sends one datagram per call.
type Transmitter interface {
	Send(b []byte, dst *net.UDPAddr) error
	Close() error
}

// Dialer opens fresh transmitters. It is called again after every failure.
type Dialer interface {
	Open() (Transmitter, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func() (Transmitter, error)

// Open calls f.
func (f DialerFunc) Open() (Transmitter, error) {
	return f()
}

// MulticastOptions controls the IPv4 multicast socket options applied to
// each new transmitter.
type MulticastOptions struct {
	// TTL of outgoing multicast datagrams. One keeps traffic on the local link.
	TTL int
	// Interface names the outgoing interface. Empty uses the routing table.
	Interface string
	// Loopback delivers datagrams to listeners on the sending host.
	Loopback bool
}

// MulticastDialer opens unconnected UDP sockets configured for multicast.
type MulticastDialer struct {
	opts MulticastOptions
}

// NewMulticastDialer returns a Dialer using opts.
func NewMulticastDialer(opts MulticastOptions) *MulticastDialer {
	return &MulticastDialer{opts: opts}
}

// Open creates a UDP socket bound to an ephemeral port.
func (d *MulticastDialer) Open() (Transmitter, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open udp socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if d.opts.TTL > 0 {
		if err := pc.SetMulticastTTL(d.opts.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set multicast ttl %d: %w", d.opts.TTL, err)
		}
	}
	if d.opts.Interface != "" {
		ifi, err := net.InterfaceByName(d.opts.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to find interface %q: %w", d.opts.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set multicast interface %q: %w", d.opts.Interface, err)
		}
	}
	if err := pc.SetMulticastLoopback(d.opts.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast loopback: %w", err)
	}

	return &udpTransmitter{conn: conn}, nil
}

type udpTransmitter struct {
	conn *net.UDPConn
}

func (t *udpTransmitter) Send(b []byte, dst *net.UDPAddr) error {
	if t.conn == nil {
		return ErrClosed
	}
	n, err := t.conn.WriteToUDP(b, dst)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(b))
	}
	return nil
}

func (t *udpTransmitter) Close() error {
	if t.conn == nil {
		return ErrClosed
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
