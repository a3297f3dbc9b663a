package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/open-teleop/tracklink/domain/fusion"
	"github.com/open-teleop/tracklink/pkg/source"
)

// QueueStatsProvider is implemented by the source queues.
type QueueStatsProvider interface {
	Stats() source.QueueStats
	Len() int
}

// QueueMetrics is the reported state of one input queue.
type QueueMetrics struct {
	source.QueueStats
	Depth int `json:"depth"`
}

// Metrics represents the device diagnostics information
type Metrics struct {
	InstanceID    string                  `json:"instance_id"`
	DeviceID      string                  `json:"device_id"`
	ConfigID      string                  `json:"config_id"`
	StartedAt     time.Time               `json:"started_at"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	LastTelemetry *time.Time              `json:"last_telemetry,omitempty"`
	Stale         bool                    `json:"stale"`
	Latest        *fusion.Snapshot        `json:"latest,omitempty"`
	Queues        map[string]QueueMetrics `json:"queues,omitempty"`
}

// DiagnosticService keeps the fusion loop's latest snapshot for HTTP and
// websocket readers.
type DiagnosticService struct {
	instanceID string
	deviceID   string
	configID   string
	startedAt  time.Time
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	latest  fusion.Snapshot
	have    bool
	version uint64
	queues  map[string]QueueStatsProvider
}

// NewDiagnosticService creates a new diagnostic service instance. A snapshot
// older than staleAfter is reported stale; zero disables the check.
func NewDiagnosticService(deviceID, configID string, staleAfter time.Duration) *DiagnosticService {
	return &DiagnosticService{
		instanceID: uuid.New().String(),
		deviceID:   deviceID,
		configID:   configID,
		startedAt:  time.Now(),
		staleAfter: staleAfter,
		now:        time.Now,
		queues:     make(map[string]QueueStatsProvider),
	}
}

// InstanceID identifies this process run.
func (s *DiagnosticService) InstanceID() string {
	return s.instanceID
}

// AddQueue registers an input queue under name.
func (s *DiagnosticService) AddQueue(name string, q QueueStatsProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[name] = q
}

// Observe implements fusion.Observer.
func (s *DiagnosticService) Observe(snap fusion.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.have = true
	s.version++
}

// Latest returns the newest snapshot and its version. Versions start at 1
// and only grow; ok is false before the first telemetry tick.
func (s *DiagnosticService) Latest() (snap fusion.Snapshot, version uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.version, s.have
}

// GetMetrics returns the current device metrics
func (s *DiagnosticService) GetMetrics() Metrics {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	m := Metrics{
		InstanceID:    s.instanceID,
		DeviceID:      s.deviceID,
		ConfigID:      s.configID,
		StartedAt:     s.startedAt,
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		Stale:         true,
	}
	if s.have {
		latest := s.latest
		last := latest.Time
		m.Latest = &latest
		m.LastTelemetry = &last
		m.Stale = s.staleAfter > 0 && now.Sub(last) > s.staleAfter
	}
	if len(s.queues) > 0 {
		m.Queues = make(map[string]QueueMetrics, len(s.queues))
		for name, q := range s.queues {
			m.Queues[name] = QueueMetrics{QueueStats: q.Stats(), Depth: q.Len()}
		}
	}
	return m
}

// GetMetricsHandler handles API requests for device metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}

// HealthHandler reports 200 while telemetry is fresh and 503 otherwise.
func (s *DiagnosticService) HealthHandler(c *fiber.Ctx) error {
	m := s.GetMetrics()
	if m.Stale {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":      "stale",
			"instance_id": m.InstanceID,
		})
	}
	return c.JSON(fiber.Map{
		"status":      "ok",
		"instance_id": m.InstanceID,
	})
}
