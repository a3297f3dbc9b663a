package api

import (
	"encoding/json"
	"errors"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/open-teleop/tracklink/domain/fusion"
	customlog "github.com/open-teleop/tracklink/pkg/log"
)

// StateSource exposes the most recent loop snapshot and its version.
type StateSource interface {
	Latest() (fusion.Snapshot, uint64, bool)
}

// StateWebSocketHandler streams StateMsg JSON to one client. The source is
// polled every interval and only new snapshots are sent, so a slow client
// skips states instead of queueing them.
func StateWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, states StateSource, sentinel int32, interval time.Duration) {
	logger.Infof("State WebSocket connected: %s", conn.RemoteAddr())

	// The read loop only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logClose(logger, err)
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-closed:
			logger.Infof("State WebSocket disconnected: %s", conn.RemoteAddr())
			return
		case <-ticker.C:
		}

		snap, version, ok := states.Latest()
		if !ok || version == sent {
			continue
		}
		payload, err := json.Marshal(NewStateMsg(snap, sentinel))
		if err != nil {
			logger.Errorf("Failed to encode state message: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logClose(logger, err)
			return
		}
		sent = version
	}
}

func logClose(logger customlog.Logger, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		logger.Errorf("State WS error: %v", err)
		return
	}
	// Don't log normal closures as errors
	if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
		logger.Debugf("State WS connection closed: %v", err)
	}
}
