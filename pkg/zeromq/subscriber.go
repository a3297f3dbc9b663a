package zeromq

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/tracklink/domain/tracking"
	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/pkg/source"
)

// Sink receives decoded envelopes from a Subscriber.
type Sink interface {
	Deliver(messageType string, data json.RawMessage) error
}

// QueueSink decodes sample messages into the fusion loop's input queues.
// A nil queue ignores messages of that type.
type QueueSink struct {
	Detections  *source.DetectionQueue
	Orientation *source.OrientationQueue
}

// Deliver implements Sink.
func (q QueueSink) Deliver(messageType string, data json.RawMessage) error {
	switch messageType {
	case MsgTypeDetections:
		if q.Detections == nil {
			return nil
		}
		batch, err := DecodeDetections(data)
		if err != nil {
			return err
		}
		q.Detections.Push(batch)
	case MsgTypeOrientation:
		if q.Orientation == nil {
			return nil
		}
		samples, err := DecodeOrientation(data)
		if err != nil {
			return err
		}
		for _, s := range samples {
			q.Orientation.Push(s)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, messageType)
	}
	return nil
}

// DecodeDetections parses a DETECTIONS payload. Both the batch object
// {"detections":[...]} and a bare array are accepted; an empty batch is valid.
func DecodeDetections(data json.RawMessage) (tracking.DetectionBatch, error) {
	var batch tracking.DetectionBatch
	if len(data) == 0 {
		return batch, nil
	}
	if data[0] == '[' {
		if err := json.Unmarshal(data, &batch.Detections); err != nil {
			return tracking.DetectionBatch{}, fmt.Errorf("%w: detections: %v", ErrInvalidMessage, err)
		}
		return batch, nil
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return tracking.DetectionBatch{}, fmt.Errorf("%w: detections: %v", ErrInvalidMessage, err)
	}
	return batch, nil
}

// DecodeOrientation parses an ORIENTATION payload: one quaternion object or
// an array of them, oldest first.
func DecodeOrientation(data json.RawMessage) ([]tracking.Quaternion, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: orientation: empty payload", ErrInvalidMessage)
	}
	if data[0] == '[' {
		var samples []tracking.Quaternion
		if err := json.Unmarshal(data, &samples); err != nil {
			return nil, fmt.Errorf("%w: orientation: %v", ErrInvalidMessage, err)
		}
		return samples, nil
	}
	var q tracking.Quaternion
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("%w: orientation: %v", ErrInvalidMessage, err)
	}
	return []tracking.Quaternion{q}, nil
}

// Subscriber reads envelopes from a SUB socket connected to a sample producer.
type Subscriber struct {
	socket  *zmq4.Socket
	sink    Sink
	address string
	logger  customlog.Logger
	running atomic.Bool
	wg      *sync.WaitGroup

	received atomic.Uint64
	rejected atomic.Uint64
}

func newSubscriber(ctx *zmq4.Context, address string, sink Sink, logger customlog.Logger, wg *sync.WaitGroup) (*Subscriber, error) {
	socket, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.SetRcvtimeo(socketTimeout); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}
	// Subscribe to all messages
	if err := socket.SetSubscribe(""); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	logger.Infof("Subscriber connected to %s", address)

	return &Subscriber{
		socket:  socket,
		sink:    sink,
		address: address,
		logger:  logger.WithField("sub", address),
		wg:      wg,
	}, nil
}

// Start begins the receive loop
func (s *Subscriber) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.receiveLoop()
}

// Stop stops the receive loop. The socket is closed by the loop goroutine.
func (s *Subscriber) Stop() {
	s.running.Store(false)
}

// Counts returns the number of delivered and rejected messages.
func (s *Subscriber) Counts() (received, rejected uint64) {
	return s.received.Load(), s.rejected.Load()
}

func (s *Subscriber) receiveLoop() {
	defer s.wg.Done()
	defer s.socket.Close()

	for s.running.Load() {
		frames, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			// Receive timeouts surface as EAGAIN and only re-check running.
			if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) && s.running.Load() {
				s.logger.Warnf("Error receiving message: %v", err)
			}
			continue
		}
		if len(frames) == 0 {
			continue
		}

		// The payload is the last frame; leading frames are topics.
		if err := s.deliver(frames[len(frames)-1]); err != nil {
			s.rejected.Add(1)
			s.logger.Debugf("Dropped message: %v", err)
			continue
		}
		s.received.Add(1)
	}
}

func (s *Subscriber) deliver(payload []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return s.sink.Deliver(msg.Type, msg.Data)
}
