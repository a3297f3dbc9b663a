package transmit

import (
	"fmt"
	"net"
	"time"

	"github.com/open-teleop/tracklink/pkg/clock"
	customlog "github.com/open-teleop/tracklink/pkg/log"
)

// SenderStats counts transmit outcomes since the sender was created.
type SenderStats struct {
	Sent         uint64 `json:"sent"`
	SendFailures uint64 `json:"send_failures"`
	Recreations  uint64 `json:"recreations"`
	OpenFailures uint64 `json:"open_failures"`
}

// SenderOptions configures a Sender.
type SenderOptions struct {
	// Backoff is slept between closing a failed transmitter and opening its
	// replacement.
	Backoff time.Duration
	// LogInterval bounds how often repeated failures are logged.
	LogInterval time.Duration
}

// Sender owns the current transmitter and replaces it on failure. It is not
// safe for concurrent use; the fusion loop is its only caller.
type Sender struct {
	dialer  Dialer
	dst     *net.UDPAddr
	opts    SenderOptions
	clock   clock.Clock
	logger  customlog.Logger
	current Transmitter
	stats   SenderStats

	lastLog    time.Time
	suppressed int
}

// NewSender creates a Sender and opens the first transmitter. A failed open
// is logged and retried on the first Send.
func NewSender(dialer Dialer, dst *net.UDPAddr, opts SenderOptions, clk clock.Clock, logger customlog.Logger) *Sender {
	s := &Sender{
		dialer: dialer,
		dst:    dst,
		opts:   opts,
		clock:  clk,
		logger: logger.WithField("dst", dst.String()),
	}
	if err := s.open(); err != nil {
		s.logger.Warnf("Initial transmitter open failed: %v", err)
	}
	return s
}

// Send transmits b as one datagram. On failure the transmitter is closed,
// the sender waits Backoff and opens a replacement. The datagram is not
// retried; the next call carries fresher data.
func (s *Sender) Send(b []byte) error {
	if s.current == nil {
		if err := s.open(); err != nil {
			s.report("Transmitter unavailable: %v", err)
			return fmt.Errorf("%w: %v", ErrNoTransmitter, err)
		}
	}

	err := s.current.Send(b, s.dst)
	if err == nil {
		s.stats.Sent++
		return nil
	}

	s.stats.SendFailures++
	s.recreate()
	s.report("Send failed, transmitter recreated: %v", err)
	return err
}

// Stats returns a copy of the counters.
func (s *Sender) Stats() SenderStats {
	return s.stats
}

// Destination returns the datagram destination.
func (s *Sender) Destination() *net.UDPAddr {
	return s.dst
}

// Close releases the current transmitter.
func (s *Sender) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func (s *Sender) recreate() {
	if s.current != nil {
		// Close errors are irrelevant; the handle is discarded either way.
		_ = s.current.Close()
		s.current = nil
	}
	s.clock.Sleep(s.opts.Backoff)
	if err := s.open(); err == nil {
		s.stats.Recreations++
	}
}

func (s *Sender) open() error {
	t, err := s.dialer.Open()
	if err != nil {
		s.stats.OpenFailures++
		return err
	}
	s.current = t
	return nil
}

// report logs at most once per LogInterval and folds the rest into a
// suppressed count.
func (s *Sender) report(format string, args ...interface{}) {
	now := s.clock.Now()
	if !s.lastLog.IsZero() && now.Sub(s.lastLog) < s.opts.LogInterval {
		s.suppressed++
		return
	}
	if s.suppressed > 0 {
		s.logger.WithField("suppressed", s.suppressed).Warnf(format, args...)
	} else {
		s.logger.Warnf(format, args...)
	}
	s.lastLog = now
	s.suppressed = 0
}
