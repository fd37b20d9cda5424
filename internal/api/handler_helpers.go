package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/lifecycle"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// parseJobID reads the :id parameter, writing a 400 when it is not a positive integer.
func parseJobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return 0, false
	}
	return id, true
}

// bindOptionalJSON binds the request body into dst. An empty body is allowed.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// handleJobError maps tracker and store errors to responses.
func (r *Router) handleJobError(c *gin.Context, err error, operation string) {
	var inconsistency *lifecycle.StateInconsistencyError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.As(err, &inconsistency):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "Job is not in a state that accepts this signal",
			"status":   inconsistency.Status,
			"expected": inconsistency.Expected,
		})
	default:
		r.log.Error("Job request failed", logger.String("operation", operation), logger.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + operation})
	}
}
