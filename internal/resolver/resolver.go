// Package resolver implements the pure composition of metadata lookup,
// template render, driver build/connect/query that turns a request
// into a live stream. It is stateless: its only side effects are the
// two metadata reads and the backend session it opens.
package resolver

import (
	"bytes"
	"context"
	"text/template"

	"github.com/kartikbazzad/bunbase/bunquery/internal/apperrors"
	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metadata"
)

// Resolver turns a (queryID, templateData) request into a live
// StreamHandle. It holds no mutable state of its own beyond the
// metadata store and driver registry it was built with, so a single
// Resolver may be shared and invoked concurrently across workers.
type Resolver struct {
	store    metadata.Store
	registry *driver.Registry
}

// New builds a Resolver over store, using the given driver registry
// (typically driver.Global()).
func New(store metadata.Store, registry *driver.Registry) *Resolver {
	return &Resolver{store: store, registry: registry}
}

// StreamHandle composes a live RowStream with the driver that produced
// it. Close does not drain or abort the stream: running the stream to
// its end, or stopping it via ErrStop or ctx, is the caller's job before
// calling Close. Close itself only closes the driver's backend session
// and is safe to call more than once; the stream is single-shot.
type StreamHandle struct {
	Stream driver.RowStream
	drv    driver.Driver
	closed bool
}

// Close closes the underlying driver session. Idempotent.
func (h *StreamHandle) Close() error {
	if h.closed || h.drv == nil {
		return nil
	}
	h.closed = true
	return h.drv.Close()
}

// Resolve runs the fetch-render-connect-query pipeline. All errors
// returned are *apperrors.Error with an appropriate Kind so the
// gateway can decide status:failed vs. transport teardown.
func (r *Resolver) Resolve(ctx context.Context, queryID string, templateData map[string]interface{}) (*StreamHandle, error) {
	query, err := r.store.Query(ctx, queryID)
	if err != nil {
		if err == metadata.ErrNotFound {
			return nil, apperrors.QueryNotFound(queryID)
		}
		return nil, apperrors.New(apperrors.KindResolution, apperrors.CodeQueryNotFound, "failed to fetch query", err)
	}

	rendered, err := render(query.Content, templateData)
	if err != nil {
		return nil, err
	}

	connector, err := r.store.Connector(ctx, query.ConnectorID)
	if err != nil {
		if err == metadata.ErrNotFound {
			return nil, apperrors.ConnectorNotFound(query.ConnectorID)
		}
		return nil, apperrors.New(apperrors.KindResolution, apperrors.CodeConnectorNotFound, "failed to fetch connector", err)
	}

	backendType := driver.Type(connector.Type)
	drv, err := r.registry.New(backendType, connector.Config)
	if err != nil {
		return nil, apperrors.UnsupportedBackend(connector.Type)
	}

	if err := drv.Connect(ctx); err != nil {
		drv.Close()
		return nil, wrapDriverErr(err, apperrors.ConnectError)
	}

	stream, err := drv.Query(ctx, rendered)
	if err != nil {
		drv.Close()
		return nil, wrapDriverErr(err, apperrors.QueryError)
	}

	return &StreamHandle{Stream: stream, drv: drv}, nil
}

// wrapDriverErr classifies err into a retryable or plain apperrors.Error
// of the given fallback kind: retryable classification is reported but
// never acted on here.
func wrapDriverErr(err error, fallback func(error) *apperrors.Error) *apperrors.Error {
	if re, ok := err.(driver.RetryableError); ok && re.Retryable() {
		return apperrors.Retryable(apperrors.CodeQueryError, re.Error(), err)
	}
	return fallback(err)
}

func render(content string, data map[string]interface{}) (string, error) {
	tmpl, err := template.New("query").Parse(content)
	if err != nil {
		return "", apperrors.TemplateParseError(err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", apperrors.TemplateRenderError(err)
	}
	return buf.String(), nil
}
