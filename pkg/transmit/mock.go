package transmit

import (
	"errors"
	"net"
	"sync"
)

// ErrMockSend is the error returned by MockDialer transmitters on scripted failures.
var ErrMockSend = errors.New("mock send failure")

// MockDatagram records one successful send.
type MockDatagram struct {
	Data []byte
	Dst  *net.UDPAddr
}

// MockDialer opens MockTransmitters that share a failure script. The first
// FailSends sends fail across all transmitters, then sends succeed.
type MockDialer struct {
	mu sync.Mutex
	// FailSends is the number of sends that fail before the first success.
	FailSends int
	// FailOpens is the number of Open calls that fail before the first success.
	FailOpens int

	Opens  int
	Closes int
	Sent   []MockDatagram
}

// Open returns a new MockTransmitter or a scripted error.
func (d *MockDialer) Open() (Transmitter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOpens > 0 {
		d.FailOpens--
		return nil, errors.New("mock open failure")
	}
	d.Opens++
	return &MockTransmitter{dialer: d}, nil
}

// Datagrams returns a copy of the successfully sent datagrams.
func (d *MockDialer) Datagrams() []MockDatagram {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]MockDatagram(nil), d.Sent...)
}

// MockTransmitter implements Transmitter for tests.
type MockTransmitter struct {
	dialer *MockDialer
	closed bool
}

// Send records b or fails according to the dialer's script.
func (t *MockTransmitter) Send(b []byte, dst *net.UDPAddr) error {
	d := t.dialer
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if d.FailSends > 0 {
		d.FailSends--
		return ErrMockSend
	}
	d.Sent = append(d.Sent, MockDatagram{Data: append([]byte(nil), b...), Dst: dst})
	return nil
}

// Close marks the transmitter closed.
func (t *MockTransmitter) Close() error {
	t.dialer.mu.Lock()
	defer t.dialer.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	t.dialer.Closes++
	return nil
}
