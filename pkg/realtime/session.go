package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
)

type queuedFrame struct {
	data     []byte
	critical bool
}

// session is one open socket. Frames queue through send and are drained
// by a single writer goroutine, so delivery to one session is FIFO.
type session struct {
	id          string
	userID      int64
	conn        *websocket.Conn
	connectedAt time.Time
	logger      *slog.Logger

	mu     sync.Mutex
	queue  []queuedFrame
	wake   chan struct{}
	closed bool
}

func newSession(id string, userID int64, conn *websocket.Conn) *session {
	return &session{
		id:          id,
		userID:      userID,
		conn:        conn,
		connectedAt: time.Now().UTC(),
		logger:      slog.With("component", "realtime", "session_id", id, "user_id", userID),
		wake:        make(chan struct{}, 1),
	}
}

// enqueue adds a frame to the send queue. On overflow the oldest
// non-critical frame is dropped; if every queued frame is critical, the
// oldest is dropped anyway.
func (s *session) enqueue(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		s.logger.Error("Failed to encode frame", "error", err)
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= sendQueueSize {
		dropped := false
		for i, q := range s.queue {
			if !q.critical {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			s.queue = s.queue[1:]
		}
		s.logger.Warn("Send queue full, dropped oldest frame")
	}
	s.queue = append(s.queue, queuedFrame{data: data, critical: f.critical()})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// writeLoop drains the queue until ctx ends or a write fails.
func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(writeCtx, websocket.MessageText, next.data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// pingLoop closes idle detection: a ping every interval, no reply
// within the write timeout closes the session.
func (s *session) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
