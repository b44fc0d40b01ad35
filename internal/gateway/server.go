package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunbase/bunquery/internal/apperrors"
	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
	"github.com/kartikbazzad/bunbase/bunquery/internal/resolver"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Config controls the gateway's admission and liveness parameters.
type Config struct {
	MaxWorkers           int
	QueueCapacity        int
	MaxInboundFrameBytes int64
}

// Server is the WebSocket front-end: it upgrades connections at /ws,
// spins up a per-connection worker pool bounded by Config.MaxWorkers,
// and answers /health for load balancer probes.
type Server struct {
	cfg      Config
	resolver *resolver.Resolver
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*ConnectionState]struct{}
}

// New builds a Server that resolves and executes queries through r.
func New(cfg Config, r *resolver.Resolver) *Server {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 3
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	if cfg.MaxInboundFrameBytes <= 0 {
		cfg.MaxInboundFrameBytes = 64 * 1024
	}
	return &Server{
		cfg:      cfg,
		resolver: r,
		conns:    make(map[*ConnectionState]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler bunquery-server mounts at /ws and
// /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ActiveConnections reports the number of currently upgraded
// connections, for the admin API.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ConnectionSnapshot is a point-in-time view of one connection's
// queue/task/worker state, for GET /admin/connections.
type ConnectionSnapshot struct {
	ID          string `json:"id"`
	QueueDepth  int    `json:"queueDepth"`
	ActiveTasks int    `json:"activeTasks"`
	Workers     int    `json:"workers"`
}

// Snapshots returns a ConnectionSnapshot for every live connection.
// Each read takes the connection's own locks briefly and releases them
// before moving to the next; it never blocks a worker for longer than
// a map/channel-length read.
func (s *Server) Snapshots() []ConnectionSnapshot {
	s.mu.Lock()
	conns := make([]*ConnectionState, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	out := make([]ConnectionSnapshot, 0, len(conns))
	for _, c := range conns {
		c.tasksMu.RLock()
		active := len(c.tasks)
		c.tasksMu.RUnlock()

		c.workersMu.Lock()
		workers := c.workers
		c.workersMu.Unlock()

		out = append(out, ConnectionSnapshot{
			ID:          fmt.Sprintf("%p", c.conn),
			QueueDepth:  len(c.queue),
			ActiveTasks: active,
			Workers:     workers,
		})
	}
	return out
}

// Shutdown cancels every active connection's in-flight tasks. It does
// not close the sockets themselves, and http.Server.Shutdown does not
// close hijacked WebSocket connections either.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*ConnectionState, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.tasksMu.RLock()
		tasks := make([]*QueryTask, 0, len(c.tasks))
		for _, t := range c.tasks {
			tasks = append(tasks, t)
		}
		c.tasksMu.RUnlock()
		for _, t := range tasks {
			t.cancel()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("healthy"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Get().Warn("websocket upgrade failed", "error", err)
		return
	}

	connState := newConnectionState(conn, s.cfg.QueueCapacity)
	connID := fmt.Sprintf("%p", conn)
	log := logger.Get().With("connectionId", connID)

	s.mu.Lock()
	s.conns[connState] = struct{}{}
	s.mu.Unlock()

	defer func() {
		connState.drain()
		s.mu.Lock()
		delete(s.conns, connState)
		s.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(s.cfg.MaxInboundFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(logger.WithConnection(r.Context(), connID))
	defer cancel()

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		go s.runWorker(ctx, connState)
	}
	go writePings(ctx, conn, connState)

	for {
		var frame InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Info("connection closed unexpectedly", "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameCancel:
			s.handleCancel(connState, frame.StreamID)
		case FrameQuery:
			s.handleQuery(ctx, connState, frame)
		default:
			connState.send(errorFrame(frame.StreamID, fmt.Sprintf("unknown frame type %q", frame.Type), string(apperrors.CodeInvalidRequest)))
		}
	}
}

func (s *Server) handleCancel(conn *ConnectionState, streamID string) {
	if streamID == "" {
		conn.send(errorFrame(streamID, "streamId is required", string(apperrors.CodeInvalidRequest)))
		return
	}
	if err := conn.cancelStream(streamID); err != nil {
		conn.send(errorFrame(streamID, err.Error(), errCode(err)))
		return
	}
	conn.send(statusFrame(streamID, StatusCancelled))
}

func (s *Server) handleQuery(ctx context.Context, conn *ConnectionState, frame InboundFrame) {
	if frame.StreamID == "" || frame.QueryID == "" {
		conn.send(errorFrame(frame.StreamID, "streamId and queryId are required", string(apperrors.CodeInvalidRequest)))
		return
	}

	task := &QueryTask{
		StreamID:     frame.StreamID,
		QueryID:      frame.QueryID,
		TemplateData: frame.TemplateData,
	}

	if err := conn.admit(ctx, frame.StreamID, task); err != nil {
		// Admission failures (duplicate stream, full queue) never reach
		// "running": the client gets both the error and a terminal
		// status:failed for the rejected stream.
		conn.send(errorFrame(frame.StreamID, err.Error(), errCode(err)))
		conn.send(statusFrame(frame.StreamID, StatusFailed))
		return
	}
	conn.send(statusFrame(frame.StreamID, StatusQueued))
}

func writePings(ctx context.Context, conn *websocket.Conn, connState *ConnectionState) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connState.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			connState.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func errCode(err error) string {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return string(ae.Code)
	}
	return ""
}
