package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/queue"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// listJobs returns jobs, optionally filtered by status.
// GET /api/v1/jobs?status=READY,SUBMITTED&limit=100&offset=0
func (r *Router) listJobs(c *gin.Context) {
	filter, err := parseJobFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := r.jobs.List(c.Request.Context(), filter)
	if err != nil {
		r.handleJobError(c, err, "list jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getJob returns one job.
// GET /api/v1/jobs/:id
func (r *Router) getJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}

	job, err := r.jobs.Get(c.Request.Context(), id)
	if err != nil {
		r.handleJobError(c, err, "get job")
		return
	}
	c.JSON(http.StatusOK, job)
}

type startedRequest struct {
	Worker string `json:"worker"`
}

// jobStarted applies a started signal.
// POST /api/v1/jobs/:id/started
func (r *Router) jobStarted(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	var req startedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	job, err := r.signals.OnStarted(c.Request.Context(), id, req.Worker)
	if err != nil {
		r.handleJobError(c, err, "start job")
		return
	}
	c.JSON(http.StatusOK, job)
}

type completedRequest struct {
	Bytes     int64               `json:"bytes"`
	Objects   int64               `json:"objects"`
	PerConfig []queue.ConfigCount `json:"per_config"`
}

// jobCompleted applies a completion signal.
// POST /api/v1/jobs/:id/completed
func (r *Router) jobCompleted(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	var req completedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Bytes < 0 || req.Objects < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bytes and objects must not be negative"})
		return
	}

	sig := queue.SignalMessage{Bytes: req.Bytes, Objects: req.Objects, PerConfig: req.PerConfig}
	job, err := r.signals.OnCompleted(c.Request.Context(), id, sig.Report())
	if err != nil {
		r.handleJobError(c, err, "complete job")
		return
	}
	c.JSON(http.StatusOK, job)
}

type failedRequest struct {
	Reason string `json:"reason"`
}

// jobFailed applies a failure signal. The response is the job after any
// automatic resubmission.
// POST /api/v1/jobs/:id/failed
func (r *Router) jobFailed(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	var req failedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	job, err := r.signals.OnFailed(c.Request.Context(), id, req.Reason)
	if err != nil {
		r.handleJobError(c, err, "fail job")
		return
	}
	c.JSON(http.StatusOK, job)
}

func parseJobFilter(c *gin.Context) (domain.JobFilter, error) {
	filter := domain.JobFilter{Limit: defaultListLimit}

	if raw := c.Query("status"); raw != "" {
		for part := range strings.SplitSeq(raw, ",") {
			status := domain.JobStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !slices.Contains(domain.AllStatuses(), status) {
				return filter, &queryError{param: "status", value: part}
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			return filter, &queryError{param: "limit", value: raw}
		}
		filter.Limit = limit
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, &queryError{param: "offset", value: raw}
		}
		filter.Offset = offset
	}

	return filter, nil
}

type queryError struct {
	param string
	value string
}

func (e *queryError) Error() string {
	return "invalid " + e.param + ": " + strconv.Quote(e.value)
}
