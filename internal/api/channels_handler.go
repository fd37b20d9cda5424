package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// getChannel reports the live workers and queued jobs of a channel.
// GET /api/v1/channels/:name
func (r *Router) getChannel(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	workers, err := r.channels.WorkersRegistered(ctx, name)
	if err != nil {
		r.channelError(c, err, "count workers")
		return
	}

	response := gin.H{"channel": name, "workers": workers}
	if r.depth != nil {
		depth, depthErr := r.depth.Depth(ctx, name)
		if depthErr != nil {
			r.channelError(c, depthErr, "read queue depth")
			return
		}
		response["queued"] = depth
	}
	c.JSON(http.StatusOK, response)
}

// heartbeat registers or refreshes a worker on a channel.
// PUT /api/v1/channels/:name/workers/:worker
func (r *Router) heartbeat(c *gin.Context) {
	if err := r.channels.Heartbeat(c.Request.Context(), c.Param("name"), c.Param("worker")); err != nil {
		r.channelError(c, err, "register worker")
		return
	}
	c.Status(http.StatusNoContent)
}

// deregister removes a worker from a channel.
// DELETE /api/v1/channels/:name/workers/:worker
func (r *Router) deregister(c *gin.Context) {
	if err := r.channels.Deregister(c.Request.Context(), c.Param("name"), c.Param("worker")); err != nil {
		r.channelError(c, err, "deregister worker")
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Router) channelError(c *gin.Context, err error, operation string) {
	r.log.Error("Channel request failed",
		logger.String("channel", c.Param("name")),
		logger.String("operation", operation),
		logger.Error(err),
	)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + operation})
}
