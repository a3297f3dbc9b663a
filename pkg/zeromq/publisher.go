package zeromq

import (
	"context"
	"sync"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/tracklink/domain/fusion"
	"github.com/open-teleop/tracklink/pkg/config"
	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/pkg/snapshot"
)

// Publisher sends one topic/payload message.
type Publisher interface {
	PublishMessage(topic string, message []byte) error
}

// SnapshotPublisher records the loop's latest state and republishes it as a
// FusedState FlatBuffer at a fixed rate, decoupled from the telemetry rate.
type SnapshotPublisher struct {
	pub      Publisher
	configID string
	labels   []string
	logger   customlog.Logger

	mu      sync.Mutex
	latest  snapshot.FusedState
	have    bool
	version uint64

	published uint64
	failures  uint64
	builder   *flatbuffers.Builder
}

// NewSnapshotPublisher creates a publisher; labels name the entities in packet order.
func NewSnapshotPublisher(pub Publisher, configID string, labels []string, logger customlog.Logger) *SnapshotPublisher {
	return &SnapshotPublisher{
		pub:      pub,
		configID: configID,
		labels:   append([]string(nil), labels...),
		logger:   logger,
		builder:  flatbuffers.NewBuilder(256),
	}
}

// Observe implements fusion.Observer. It only stores the snapshot.
func (p *SnapshotPublisher) Observe(s fusion.Snapshot) {
	state := snapshot.New(s.Time, p.configID, p.labels, s.Packet, s.Sender.Sent, s.Sender.SendFailures)
	p.mu.Lock()
	p.latest = state
	p.have = true
	p.version++
	p.mu.Unlock()
}

// Latest implements SnapshotSource.
func (p *SnapshotPublisher) Latest() (snapshot.FusedState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.have
}

// Run publishes at hz until ctx is done. Unchanged state is not republished.
func (p *SnapshotPublisher) Run(ctx context.Context, hz int) {
	if hz <= 0 {
		hz = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			p.logger.Infof("Snapshot publisher stopped: %d published, %d failed", p.published, p.failures)
			return
		case <-ticker.C:
			sent = p.publishIfNewer(sent)
		}
	}
}

// publishIfNewer publishes the latest snapshot when its version is past
// since and returns the version now considered sent.
func (p *SnapshotPublisher) publishIfNewer(since uint64) uint64 {
	p.mu.Lock()
	state, have, version := p.latest, p.have, p.version
	p.mu.Unlock()
	if !have || version == since {
		return since
	}

	if err := p.pub.PublishMessage(TopicState, snapshot.EncodeWith(p.builder, state)); err != nil {
		p.failures++
		if p.failures == 1 {
			p.logger.Warnf("Snapshot publish failed: %v", err)
		}
		return since
	}
	p.published++
	return version
}

// ConfigPublisher announces tracking configuration changes to subscribers
type ConfigPublisher struct {
	service *ZeroMQService
	logger  customlog.Logger
}

// NewConfigPublisher creates a new publisher for configuration updates
func NewConfigPublisher(service *ZeroMQService, logger customlog.Logger) *ConfigPublisher {
	return &ConfigPublisher{
		service: service,
		logger:  logger,
	}
}

// PublishConfigUpdatedNotification publishes a notification that the config has been updated
func (p *ConfigPublisher) PublishConfigUpdatedNotification(cfg *config.Config) error {
	p.logger.Infof("Publishing configuration update notification (ID: %s)", cfg.ConfigID)

	notification := map[string]interface{}{
		"config_id":    cfg.ConfigID,
		"version":      cfg.Version,
		"last_updated": cfg.LastUpdated,
	}
	return p.service.PublishJSON(TopicConfigNotification, MsgTypeConfigUpdated, notification)
}

// RegisterConfigHandlers registers config-related handlers and returns the notification publisher
func RegisterConfigHandlers(service *ZeroMQService, configs ConfigProvider, logger customlog.Logger) *ConfigPublisher {
	service.RegisterHandler(MsgTypeConfigRequest, NewConfigHandler(configs, logger))
	logger.Debugf("Registered configuration handlers and publisher")
	return NewConfigPublisher(service, logger)
}
