package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/tracklink/pkg/config"
	customlog "github.com/open-teleop/tracklink/pkg/log"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrNoPublisher        = errors.New("zeromq publisher not configured")
)

// Message types
const (
	MsgTypeConfigRequest    = "CONFIG_REQUEST"
	MsgTypeConfigResponse   = "CONFIG_RESPONSE"
	MsgTypeConfigUpdated    = "CONFIG_UPDATED"
	MsgTypeSnapshotRequest  = "SNAPSHOT_REQUEST"
	MsgTypeSnapshotResponse = "SNAPSHOT_RESPONSE"
	MsgTypeDetections       = "DETECTIONS"
	MsgTypeOrientation      = "ORIENTATION"
	MsgTypeError            = "ERROR"
)

// Publish topics
const (
	TopicState              = "tracking.state"
	TopicConfigNotification = "configuration.notification"
)

// socketTimeout bounds blocking receives so Stop is observed promptly.
const socketTimeout = 500 * time.Millisecond

// ZeroMQMessage represents a generic message structure for ZeroMQ communication
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// inboundMessage is ZeroMQMessage with the payload left undecoded.
type inboundMessage struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse represents an error response message
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MessageHandler defines the interface for handlers that process specific message types
type MessageHandler interface {
	HandleMessage(data []byte) ([]byte, error)
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(data []byte) ([]byte, error)

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(data []byte) ([]byte, error) {
	return f(data)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// encodeMessage wraps data in the JSON envelope.
func encodeMessage(messageType string, data interface{}) ([]byte, error) {
	return json.Marshal(ZeroMQMessage{Type: messageType, Timestamp: nowSeconds(), Data: data})
}

func encodeError(err error, code int) []byte {
	b, _ := encodeMessage(MsgTypeError, ErrorResponse{Message: err.Error(), Code: code})
	return b
}

// MessageDispatcher routes messages to the appropriate handlers
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   customlog.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a specific message type
func (d *MessageDispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// Dispatch parses the envelope and routes data to the handler for its type
func (d *MessageDispatcher) Dispatch(data []byte) ([]byte, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}

	d.mu.RLock()
	handler, exists := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}
	d.logger.Debugf("Dispatching message of type: %s", msg.Type)
	return handler.HandleMessage(data)
}

// MessageReceiver answers requests on a REP socket
type MessageReceiver struct {
	socket     *zmq4.Socket
	dispatcher *MessageDispatcher
	poller     *zmq4.Poller
	logger     customlog.Logger
	address    string
	running    atomic.Bool
	wg         *sync.WaitGroup
}

func newMessageReceiver(ctx *zmq4.Context, address string, dispatcher *MessageDispatcher, logger customlog.Logger, wg *sync.WaitGroup) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.SetSndtimeo(socketTimeout); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	if endpoint, err := socket.GetLastEndpoint(); err == nil {
		address = endpoint
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("MessageReceiver initialized on %s", address)

	return &MessageReceiver{
		socket:     socket,
		dispatcher: dispatcher,
		poller:     poller,
		logger:     logger,
		address:    address,
		wg:         wg,
	}, nil
}

// Start begins the message receiving loop
func (r *MessageReceiver) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.socket.Close()
		r.logger.Debugf("MessageReceiver started")

		for r.running.Load() {
			sockets, err := r.poller.Poll(socketTimeout)
			if err != nil {
				if r.running.Load() {
					r.logger.Warnf("Error polling socket: %v", err)
				}
				continue
			}
			if len(sockets) == 0 {
				continue
			}

			msg, err := r.socket.RecvBytes(0)
			if err != nil {
				if r.running.Load() {
					r.logger.Warnf("Error receiving message: %v", err)
				}
				continue
			}

			response, err := r.dispatcher.Dispatch(msg)
			if err != nil {
				r.logger.Warnf("Error dispatching message: %v", err)
				code := 500
				if errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownMessageType) {
					code = 400
				}
				response = encodeError(err, code)
			}

			// REP requires exactly one reply per request.
			if _, err := r.socket.SendBytes(response, 0); err != nil && r.running.Load() {
				r.logger.Warnf("Error sending response: %v", err)
			}
		}
	}()
}

// Stop halts the receive loop. The socket is closed by the loop goroutine.
func (r *MessageReceiver) Stop() {
	r.running.Store(false)
}

// Address returns the bound endpoint.
func (r *MessageReceiver) Address() string {
	return r.address
}

// MessageSender publishes multipart topic/payload messages on a PUB socket
type MessageSender struct {
	socket  *zmq4.Socket
	logger  customlog.Logger
	address string
	running bool
	mu      sync.Mutex
}

func newMessageSender(ctx *zmq4.Context, address string, logger customlog.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	// Slow subscribers lose snapshots instead of stalling the publisher.
	if err := socket.SetSndhwm(16); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send high water mark: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	if endpoint, err := socket.GetLastEndpoint(); err == nil {
		address = endpoint
	}

	logger.Infof("MessageSender initialized on %s", address)

	return &MessageSender{
		socket:  socket,
		logger:  logger,
		address: address,
		running: true,
	}, nil
}

// PublishMessage sends a message with the given topic
func (s *MessageSender) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	if _, err := s.socket.Send(topic, zmq4.SNDMORE|zmq4.DONTWAIT); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, zmq4.DONTWAIT); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
}

// ZeroMQService owns the ZeroMQ context and the device's REP, PUB and SUB sockets
type ZeroMQService struct {
	config      config.ZeroMQBootstrap
	ctx         *zmq4.Context
	receiver    *MessageReceiver
	sender      *MessageSender
	subscribers []*Subscriber
	dispatcher  *MessageDispatcher
	logger      customlog.Logger
	running     atomic.Bool
	wg          sync.WaitGroup
}

// NewZeroMQService creates the sockets named in cfg. Empty addresses are skipped.
func NewZeroMQService(cfg config.ZeroMQBootstrap, logger customlog.Logger) (*ZeroMQService, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	s := &ZeroMQService{
		config:     cfg,
		ctx:        ctx,
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
	}

	if cfg.RequestBindAddress != "" {
		s.receiver, err = newMessageReceiver(ctx, cfg.RequestBindAddress, s.dispatcher, logger, &s.wg)
		if err != nil {
			ctx.Term()
			return nil, err
		}
	}

	if cfg.PublishBindAddress != "" {
		s.sender, err = newMessageSender(ctx, cfg.PublishBindAddress, logger)
		if err != nil {
			if s.receiver != nil {
				s.receiver.socket.Close()
			}
			ctx.Term()
			return nil, err
		}
	}

	return s, nil
}

// RegisterHandler adds a handler for a specific message type
func (s *ZeroMQService) RegisterHandler(messageType string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(messageType, handler)
}

// RegisterHandlerFunc adds a handler function for a specific message type
func (s *ZeroMQService) RegisterHandlerFunc(messageType string, handler func([]byte) ([]byte, error)) {
	s.dispatcher.RegisterHandler(messageType, HandlerFunc(handler))
}

// Subscribe connects a SUB socket to address and routes its messages
// through sink. It must be called before Start.
func (s *ZeroMQService) Subscribe(address string, sink Sink) error {
	sub, err := newSubscriber(s.ctx, address, sink, s.logger, &s.wg)
	if err != nil {
		return err
	}
	s.subscribers = append(s.subscribers, sub)
	return nil
}

// RequestAddress returns the bound REP endpoint, or "" when disabled.
func (s *ZeroMQService) RequestAddress() string {
	if s.receiver == nil {
		return ""
	}
	return s.receiver.Address()
}

// PublishAddress returns the bound PUB endpoint, or "" when disabled.
func (s *ZeroMQService) PublishAddress() string {
	if s.sender == nil {
		return ""
	}
	return s.sender.address
}

// Start begins the ZeroMQ service
func (s *ZeroMQService) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	s.logger.Infof("Starting ZeroMQ service")

	if s.receiver != nil {
		s.receiver.Start()
	}
	for _, sub := range s.subscribers {
		sub.Start()
	}
	return nil
}

// Stop halts the ZeroMQ service
func (s *ZeroMQService) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.logger.Infof("Stopping ZeroMQ service")

	if s.receiver != nil {
		s.receiver.Stop()
	}
	for _, sub := range s.subscribers {
		sub.Stop()
	}
	if s.sender != nil {
		s.sender.Close()
	}

	s.logger.Debugf("Waiting for socket goroutines to finish...")
	s.wg.Wait()

	if s.ctx != nil {
		s.ctx.Term()
		s.ctx = nil
	}

	s.logger.Infof("ZeroMQ service stopped")
}

// PublishMessage sends a message with the given topic
func (s *ZeroMQService) PublishMessage(topic string, message []byte) error {
	if !s.running.Load() {
		return ErrServiceClosed
	}
	if s.sender == nil {
		return ErrNoPublisher
	}
	return s.sender.PublishMessage(topic, message)
}

// PublishJSON publishes a JSON-serializable message with the given topic
func (s *ZeroMQService) PublishJSON(topic string, messageType string, data interface{}) error {
	msgData, err := encodeMessage(messageType, data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.PublishMessage(topic, msgData)
}
