package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// runPass runs one scheduling pass immediately and reports its outcome.
// POST /api/v1/passes
func (r *Router) runPass(c *gin.Context) {
	result, err := r.passes.RunPass(c.Request.Context())
	if err != nil {
		r.log.Error("Manual pass failed", logger.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run pass"})
		return
	}

	dispatchErrors := make([]string, 0, len(result.Dispatch.Errors))
	for _, e := range result.Dispatch.Errors {
		dispatchErrors = append(dispatchErrors, e.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"definitions": result.Definitions,
		"failed":      result.Failed,
		"jobs":        result.Jobs,
		"dispatch": gin.H{
			"submitted": result.Dispatch.Submitted,
			"postponed": result.Dispatch.Postponed,
			"failed":    result.Dispatch.Failed,
			"skipped":   result.Dispatch.Skipped,
			"errors":    dispatchErrors,
		},
	})
}
