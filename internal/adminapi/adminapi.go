// Package adminapi exposes read-only introspection of the gateway's
// driver registry and live connections, mounted alongside /ws and
// /health. It follows the same handler-per-resource convention as
// bunbase's other internal HTTP APIs, cut down to two diagnostic GET
// routes with no mutation.
package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
	"github.com/kartikbazzad/bunbase/bunquery/internal/gateway"
)

// Handler serves the admin routes over a running gateway.Server.
type Handler struct {
	server *gateway.Server
}

// NewHandler builds a Handler reading state from server.
func NewHandler(server *gateway.Server) *Handler {
	return &Handler{server: server}
}

// Mount registers the admin routes onto engine.
func (h *Handler) Mount(engine *gin.Engine) {
	group := engine.Group("/admin")
	group.GET("/drivers", h.Drivers)
	group.GET("/connections", h.Connections)
}

// Drivers returns the registered backend-type tags. GET /admin/drivers
func (h *Handler) Drivers(c *gin.Context) {
	types := driver.Types()
	tags := make([]string, 0, len(types))
	for _, t := range types {
		tags = append(tags, string(t))
	}
	c.JSON(http.StatusOK, gin.H{"drivers": tags})
}

// Connections returns a snapshot of every live connection's queue
// depth, active-task count and worker count. GET /admin/connections
func (h *Handler) Connections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": h.server.Snapshots()})
}
