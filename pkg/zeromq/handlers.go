package zeromq

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/open-teleop/tracklink/pkg/config"
	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/pkg/snapshot"
)

// ConfigProvider returns the tracking configuration the loop is running.
type ConfigProvider interface {
	GetConfig() *config.Config
}

// ConfigHandler handles CONFIG_REQUEST messages
type ConfigHandler struct {
	configs ConfigProvider
	logger  customlog.Logger
}

// NewConfigHandler creates a new handler for configuration requests
func NewConfigHandler(configs ConfigProvider, logger customlog.Logger) *ConfigHandler {
	return &ConfigHandler{
		configs: configs,
		logger:  logger,
	}
}

// HandleMessage answers a CONFIG_REQUEST with the running profile. Persisted
// updates that wait for a restart are not reported.
func (h *ConfigHandler) HandleMessage(data []byte) ([]byte, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type != MsgTypeConfigRequest {
		return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
	}

	cfg := h.configs.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("no tracking configuration loaded")
	}

	responseData, err := encodeMessage(MsgTypeConfigResponse, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	h.logger.Debugf("Sending configuration response (%d bytes)", len(responseData))
	return responseData, nil
}

// SnapshotSource returns the most recent fused state.
type SnapshotSource interface {
	Latest() (snapshot.FusedState, bool)
}

// FlatbufferData carries a FlatBuffer inside the JSON envelope.
type FlatbufferData struct {
	Topic      string `json:"topic"`
	Base64Data string `json:"base64_data"`
}

// SnapshotHandler answers SNAPSHOT_REQUEST with the latest FusedState FlatBuffer
type SnapshotHandler struct {
	source SnapshotSource
	logger customlog.Logger
}

// NewSnapshotHandler creates a handler serving snapshots from src
func NewSnapshotHandler(src SnapshotSource, logger customlog.Logger) *SnapshotHandler {
	return &SnapshotHandler{source: src, logger: logger}
}

// HandleMessage implements MessageHandler.
func (h *SnapshotHandler) HandleMessage(data []byte) ([]byte, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type != MsgTypeSnapshotRequest {
		return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
	}

	state, ok := h.source.Latest()
	if !ok {
		return nil, fmt.Errorf("no snapshot available yet")
	}

	return encodeMessage(MsgTypeSnapshotResponse, FlatbufferData{
		Topic:      TopicState,
		Base64Data: base64.StdEncoding.EncodeToString(snapshot.Encode(state)),
	})
}

// DecodeSnapshotResponse extracts the FusedState from a SNAPSHOT_RESPONSE envelope.
func DecodeSnapshotResponse(data []byte) (snapshot.FusedState, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return snapshot.FusedState{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != MsgTypeSnapshotResponse {
		return snapshot.FusedState{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}
	var fb FlatbufferData
	if err := json.Unmarshal(msg.Data, &fb); err != nil {
		return snapshot.FusedState{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	raw, err := base64.StdEncoding.DecodeString(fb.Base64Data)
	if err != nil {
		return snapshot.FusedState{}, fmt.Errorf("failed to decode base64 data for topic %s: %w", fb.Topic, err)
	}
	return snapshot.Decode(raw)
}
