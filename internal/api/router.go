package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/queue"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/scheduler"
)

const serviceName = "harvest-scheduler"

// JobReader reads jobs for inspection.
type JobReader interface {
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
}

// Channels exposes worker registrations per channel.
type Channels interface {
	Heartbeat(ctx context.Context, channel, workerID string) error
	Deregister(ctx context.Context, channel, workerID string) error
	WorkersRegistered(ctx context.Context, channel string) (int, error)
}

// QueueDepth reports how many jobs are waiting on a channel.
type QueueDepth interface {
	Depth(ctx context.Context, channel string) (int64, error)
}

// PassRunner runs one scheduling pass on demand.
type PassRunner interface {
	RunPass(ctx context.Context) (scheduler.PassResult, error)
}

// Router holds the API dependencies. Any of them may be nil, in which case
// the routes that need it are not registered.
type Router struct {
	jobs     JobReader
	signals  queue.SignalHandler
	channels Channels
	depth    QueueDepth
	passes   PassRunner
	gatherer prometheus.Gatherer
	checks   map[string]HealthChecker
	version  string
	log      logger.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSignals enables the signal endpoints.
func WithSignals(h queue.SignalHandler) RouterOption {
	return func(r *Router) {
		r.signals = h
	}
}

// WithChannels enables the channel endpoints.
func WithChannels(channels Channels, depth QueueDepth) RouterOption {
	return func(r *Router) {
		r.channels = channels
		r.depth = depth
	}
}

// WithPassRunner enables POST /api/v1/passes.
func WithPassRunner(p PassRunner) RouterOption {
	return func(r *Router) {
		r.passes = p
	}
}

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(r *Router) {
		r.gatherer = g
	}
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthChecker) RouterOption {
	return func(r *Router) {
		r.checks[name] = check
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) RouterOption {
	return func(r *Router) {
		r.version = version
	}
}

// NewRouter creates a router over jobs.
func NewRouter(jobs JobReader, log logger.Logger, opts ...RouterOption) *Router {
	r := &Router{
		jobs:    jobs,
		checks:  make(map[string]HealthChecker),
		version: "dev",
		log:     log.With(logger.Component("api")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup registers every route on router.
func (r *Router) Setup(router *gin.Engine) {
	health := healthHandler(serviceName, r.version, r.checks)
	router.GET("/health", health)
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	if r.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")

	jobs := v1.Group("/jobs")
	jobs.GET("", r.listJobs)
	jobs.GET("/:id", r.getJob)
	if r.signals != nil {
		jobs.POST("/:id/started", r.jobStarted)
		jobs.POST("/:id/completed", r.jobCompleted)
		jobs.POST("/:id/failed", r.jobFailed)
	}

	if r.channels != nil {
		channels := v1.Group("/channels/:name")
		channels.GET("", r.getChannel)
		channels.PUT("/workers/:worker", r.heartbeat)
		channels.DELETE("/workers/:worker", r.deregister)
	}

	if r.passes != nil {
		v1.POST("/passes", r.runPass)
	}
}
