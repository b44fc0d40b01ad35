package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/kartikbazzad/bunbase/bunquery/internal/apperrors"
	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
)

// runWorker drains connState's queue until ctx is cancelled, executing
// one task at a time. A fixed number of these run concurrently per
// connection.
func (s *Server) runWorker(ctx context.Context, conn *ConnectionState) {
	conn.incWorkers(1)
	defer conn.incWorkers(-1)

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-conn.queue:
			if !ok {
				return
			}
			s.runTask(conn, task)
		}
	}
}

func (s *Server) runTask(conn *ConnectionState, task *QueryTask) {
	log := logger.FromContext(task.ctx).With("streamId", task.StreamID, "queryId", task.QueryID)

	task.Status = StatusRunning
	task.ExecutedAt = time.Now()
	conn.send(statusFrame(task.StreamID, StatusRunning))

	err := s.execute(task.ctx, conn, task)

	conn.release(task.StreamID)

	switch {
	case errors.Is(task.ctx.Err(), context.Canceled):
		// Cancellation already sent its own status frame; a task whose
		// context died mid-stream reports nothing further, whether the
		// driver surfaced that as an error or swallowed its own
		// ErrStop and returned nil.
		log.Debug("task cancelled mid-stream")
	case err == nil:
		task.Status = StatusCompleted
		conn.send(statusFrame(task.StreamID, StatusCompleted))
	default:
		task.Status = StatusFailed
		log.Warn("query execution failed", "error", err)
		code := ""
		var ae *apperrors.Error
		if errors.As(err, &ae) {
			code = string(ae.Code)
		}
		conn.send(errorFrame(task.StreamID, err.Error(), code))
		conn.send(statusFrame(task.StreamID, StatusFailed))
	}
}

// execute resolves and streams a single query's rows to the client,
// stopping cleanly if the client disconnects the write side or the
// task's context is cancelled.
func (s *Server) execute(ctx context.Context, conn *ConnectionState, task *QueryTask) error {
	handle, err := s.resolver.Resolve(ctx, task.QueryID, task.TemplateData)
	if err != nil {
		return err
	}
	defer handle.Close()

	var totalRows int64
	streamErr := handle.Stream(func(cols []string, row []driver.Value) error {
		select {
		case <-ctx.Done():
			return driver.ErrStop
		default:
		}

		if cols != nil {
			return conn.send(metadataFrame(task.StreamID, cols))
		}
		if row != nil {
			totalRows++
			return conn.send(rowFrame(task.StreamID, row))
		}
		return nil
	})

	if streamErr != nil {
		return streamErr
	}
	if ctx.Err() != nil {
		return nil
	}
	return conn.sendComplete(task.StreamID, totalRows)
}

func (c *ConnectionState) sendComplete(streamID string, totalRows int64) error {
	return c.send(completeFrame(streamID, totalRows))
}

func (c *ConnectionState) send(frame OutboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}
