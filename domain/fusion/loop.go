// Package fusion runs the dual-rate detection/telemetry loop.
package fusion

import (
	"context"
	"fmt"
	"time"

	"github.com/open-teleop/tracklink/domain/tracking"
	"github.com/open-teleop/tracklink/pkg/clock"
	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/pkg/source"
	"github.com/open-teleop/tracklink/pkg/transmit"
	"github.com/open-teleop/tracklink/pkg/wire"
)

// Emitter sends one encoded telemetry record. *transmit.Sender implements it.
type Emitter interface {
	Send(b []byte) error
	Stats() transmit.SenderStats
}

// Options configures a Loop.
type Options struct {
	DetectionPeriod time.Duration
	TelemetryPeriod time.Duration
	// Yield is slept after every iteration.
	Yield  time.Duration
	Layout wire.Layout
	// RequireFreshOrientation skips emission on telemetry ticks that
	// received no orientation sample.
	RequireFreshOrientation bool
}

// Stats counts loop activity. Counters only grow.
type Stats struct {
	Iterations         uint64 `json:"iterations"`
	DetectionTicks     uint64 `json:"detection_ticks"`
	Batches            uint64 `json:"batches"`
	TelemetryTicks     uint64 `json:"telemetry_ticks"`
	OrientationSamples uint64 `json:"orientation_samples"`
	Emitted            uint64 `json:"emitted"`
	Skipped            uint64 `json:"skipped"`
	TransmitErrors     uint64 `json:"transmit_errors"`
}

// Snapshot is handed to observers after every telemetry tick that encoded a
// packet. It shares nothing with the loop.
type Snapshot struct {
	Time   time.Time            `json:"time"`
	State  tracking.State       `json:"state"`
	Packet wire.Packet          `json:"-"`
	Stats  Stats                `json:"stats"`
	Sender transmit.SenderStats `json:"sender"`
}

// Observer receives snapshots on the loop goroutine. Implementations must
// not block.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// Observe calls f(s).
func (f ObserverFunc) Observe(s Snapshot) { f(s) }

// Loop owns the fused state and advances both timers from a single goroutine.
type Loop struct {
	tracker     *tracking.Tracker
	state       tracking.State
	detections  source.DetectionSource
	orientation source.OrientationSource
	emitter     Emitter
	clock       clock.Clock
	opts        Options
	logger      customlog.Logger

	detectionTimer Timer
	telemetryTimer Timer

	packet    wire.Packet
	buf       []byte
	stats     Stats
	observers []Observer
}

// NewLoop builds a loop for tracker. The layout must match the tracker's
// profile: one entity per role and a flag byte exactly when a relation is set.
func NewLoop(tracker *tracking.Tracker, detections source.DetectionSource, orientation source.OrientationSource,
	emitter Emitter, clk clock.Clock, opts Options, logger customlog.Logger) (*Loop, error) {
	p := tracker.Profile()
	if opts.Layout.Entities != len(p.Roles) {
		return nil, fmt.Errorf("layout carries %d entities, profile has %d roles", opts.Layout.Entities, len(p.Roles))
	}
	if opts.Layout.Flag != (p.Relation != nil) {
		return nil, fmt.Errorf("layout flag byte (%t) does not match relation presence (%t)", opts.Layout.Flag, p.Relation != nil)
	}
	if emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	now := clk.Now()
	return &Loop{
		tracker:        tracker,
		state:          tracker.NewState(),
		detections:     detections,
		orientation:    orientation,
		emitter:        emitter,
		clock:          clk,
		opts:           opts,
		logger:         logger,
		detectionTimer: NewTimer(opts.DetectionPeriod, now),
		telemetryTimer: NewTimer(opts.TelemetryPeriod, now),
		buf:            make([]byte, 0, opts.Layout.Size()),
	}, nil
}

// AddObserver registers o. It must be called before Run.
func (l *Loop) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// State returns a copy of the current fused state.
func (l *Loop) State() tracking.State {
	return l.state.Clone()
}

// Stats returns the loop counters. Not safe to call concurrently with Run.
func (l *Loop) Stats() Stats {
	return l.stats
}

// Run steps the loop until ctx is done. Steady-state failures never stop it.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infof("Fusion loop started: detection=%v telemetry=%v yield=%v layout=%s",
		l.opts.DetectionPeriod, l.opts.TelemetryPeriod, l.opts.Yield, l.opts.Layout)
	for {
		select {
		case <-ctx.Done():
			l.logger.Infof("Fusion loop stopped after %d iterations, %d packets emitted", l.stats.Iterations, l.stats.Emitted)
			return nil
		default:
		}
		l.Step()
		l.clock.Sleep(l.opts.Yield)
	}
}

// Step runs one iteration: at most one detection fire followed by at most
// one telemetry fire.
func (l *Loop) Step() {
	l.stats.Iterations++
	now := l.clock.Now()

	if l.detectionTimer.Due(now) {
		l.detectionTick()
	}
	if l.telemetryTimer.Due(now) {
		l.telemetryTick(now)
	}
}

func (l *Loop) detectionTick() {
	l.stats.DetectionTicks++
	if l.detections == nil {
		return
	}
	batch, ok := l.detections.TryTakeBatch()
	if !ok {
		return
	}
	l.stats.Batches++
	l.tracker.Apply(&l.state, batch)
}

func (l *Loop) telemetryTick(now time.Time) {
	l.stats.TelemetryTicks++

	var samples []tracking.Quaternion
	if l.orientation != nil {
		samples = l.orientation.TryTakeSamples()
	}
	if n := len(samples); n > 0 {
		l.state.Orientation = samples[n-1]
		l.stats.OrientationSamples += uint64(n)
		if !l.state.OrientationSeen {
			l.state.OrientationSeen = true
			l.logger.Infof("First orientation sample received (|q|=%.3f)", l.state.Orientation.Norm())
		}
	} else if l.opts.RequireFreshOrientation {
		l.stats.Skipped++
		return
	}

	tracking.SaturateInto(&l.packet, &l.state)
	buf, err := l.opts.Layout.Append(l.buf[:0], l.packet)
	if err != nil {
		// Unreachable with a layout checked in NewLoop.
		l.logger.Errorf("Encode failed: %v", err)
		return
	}
	l.buf = buf

	if err := l.emitter.Send(buf); err != nil {
		l.stats.TransmitErrors++
	} else {
		l.stats.Emitted++
	}

	if len(l.observers) == 0 {
		return
	}
	snap := Snapshot{
		Time:   now,
		State:  l.state.Clone(),
		Packet: wire.Packet{Positions: append([][3]int16(nil), l.packet.Positions...), Flag: l.packet.Flag, Orientation: l.packet.Orientation},
		Stats:  l.stats,
		Sender: l.emitter.Stats(),
	}
	for _, o := range l.observers {
		o.Observe(snap)
	}
}
