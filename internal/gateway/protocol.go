// Package gateway implements the connection-scoped streaming execution
// engine: the WebSocket front-end, per-connection worker pool, active-
// task index, and the row-oriented wire protocol clients speak against
// a single upgraded connection.
package gateway

import (
	"context"
	"time"
)

// FrameType is the closed set of inbound and outbound frame
// discriminants.
type FrameType string

const (
	// Inbound
	FrameQuery  FrameType = "query"
	FrameCancel FrameType = "cancel"

	// Outbound
	FrameStatus   FrameType = "status"
	FrameMetadata FrameType = "metadata"
	FrameRow      FrameType = "row"
	FrameComplete FrameType = "complete"
	FrameError    FrameType = "error"
)

// Status is one of QueryTask's lifecycle states.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// InboundFrame is the closed schema for client->server messages.
// QueryID and TemplateData are meaningful only for "query"; "cancel"
// uses StreamID alone.
type InboundFrame struct {
	Type         FrameType              `json:"type"`
	StreamID     string                 `json:"streamId"`
	QueryID      string                 `json:"queryId,omitempty"`
	TemplateData map[string]interface{} `json:"templateData,omitempty"`
}

// OutboundFrame is the closed schema for server->client messages.
type OutboundFrame struct {
	Type     FrameType              `json:"type"`
	StreamID string                 `json:"streamId"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

func statusFrame(streamID string, status Status) OutboundFrame {
	return OutboundFrame{
		Type:     FrameStatus,
		StreamID: streamID,
		Payload:  map[string]interface{}{"status": status},
	}
}

func metadataFrame(streamID string, columns []string) OutboundFrame {
	return OutboundFrame{
		Type:     FrameMetadata,
		StreamID: streamID,
		Payload: map[string]interface{}{
			"metadata": map[string]interface{}{
				"columns":   columns,
				"totalRows": 0,
			},
		},
	}
}

func rowFrame(streamID string, data interface{}) OutboundFrame {
	return OutboundFrame{
		Type:     FrameRow,
		StreamID: streamID,
		Payload:  map[string]interface{}{"data": data},
	}
}

func completeFrame(streamID string, totalRows int64) OutboundFrame {
	return OutboundFrame{
		Type:     FrameComplete,
		StreamID: streamID,
		Payload:  map[string]interface{}{"totalRows": totalRows},
	}
}

func errorFrame(streamID string, message string, code string) OutboundFrame {
	payload := map[string]interface{}{"error": message}
	if code != "" {
		payload["code"] = code
	}
	return OutboundFrame{Type: FrameError, StreamID: streamID, Payload: payload}
}

// QueryTask is one admitted stream's execution state.
type QueryTask struct {
	StreamID     string
	QueryID      string
	TemplateData map[string]interface{}

	Status     Status
	ExecutedAt time.Time

	cancel context.CancelFunc
	ctx    context.Context
}
