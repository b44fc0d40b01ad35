package gateway

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunbase/bunquery/internal/apperrors"
)

// ConnectionState holds everything scoped to a single upgraded
// WebSocket connection: its outbound serialization lock, its bounded
// work queue, and the index of tasks currently queued or running on
// it. The active-task index is read and mutated by copying the
// relevant entries out under lock and releasing the lock before doing
// any I/O against them.
type ConnectionState struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	queue chan *QueryTask

	tasksMu sync.RWMutex
	tasks   map[string]*QueryTask

	workersMu sync.Mutex
	workers   int
}

func newConnectionState(conn *websocket.Conn, queueCapacity int) *ConnectionState {
	return &ConnectionState{
		conn:  conn,
		queue: make(chan *QueryTask, queueCapacity),
		tasks: make(map[string]*QueryTask),
	}
}

// admit registers a new task under streamID if none is already active
// there, and enqueues it for a worker to pick up. It returns an error
// without mutating state if the stream is a duplicate or the queue is
// full.
func (c *ConnectionState) admit(ctx context.Context, streamID string, task *QueryTask) error {
	taskCtx, cancel := context.WithCancel(ctx)
	task.ctx = taskCtx
	task.cancel = cancel
	task.Status = StatusQueued

	c.tasksMu.Lock()
	if _, exists := c.tasks[streamID]; exists {
		c.tasksMu.Unlock()
		cancel()
		return apperrors.DuplicateStream(streamID)
	}
	c.tasks[streamID] = task
	c.tasksMu.Unlock()

	select {
	case c.queue <- task:
		return nil
	default:
		c.tasksMu.Lock()
		delete(c.tasks, streamID)
		c.tasksMu.Unlock()
		cancel()
		return apperrors.QueueFull()
	}
}

// cancelStream marks streamID cancelled and removes it from the active
// index, returning apperrors.StreamNotFound if no such stream is
// active.
func (c *ConnectionState) cancelStream(streamID string) error {
	c.tasksMu.Lock()
	task, exists := c.tasks[streamID]
	if exists {
		delete(c.tasks, streamID)
	}
	c.tasksMu.Unlock()

	if !exists {
		return apperrors.StreamNotFound(streamID)
	}
	task.Status = StatusCancelled
	task.cancel()
	return nil
}

// release removes a task from the active index once its worker has
// finished with it, whatever the outcome.
func (c *ConnectionState) release(streamID string) {
	c.tasksMu.Lock()
	delete(c.tasks, streamID)
	c.tasksMu.Unlock()
}

// drain cancels every active task and closes the work queue. Called
// once, on connection teardown.
func (c *ConnectionState) drain() {
	c.tasksMu.Lock()
	tasks := make([]*QueryTask, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t)
	}
	c.tasks = make(map[string]*QueryTask)
	c.tasksMu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	close(c.queue)
}

func (c *ConnectionState) incWorkers(delta int) {
	c.workersMu.Lock()
	c.workers += delta
	c.workersMu.Unlock()
}
