package config

import (
	"errors"
	"fmt"
)

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every section and joins all problems found.
func (c *Config) Validate() error {
	return errors.Join(
		c.validateLogging(),
		c.validateServer(),
		c.validateRedis(),
		c.JobGen.Validate(),
		c.Scheduler.Validate(),
	)
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"}
	}
}

func (c *Config) validateServer() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	return nil
}

func (c *Config) validateRedis() error {
	var errs []error
	if c.Redis.Address == "" {
		errs = append(errs, &ValidationError{Field: "redis.address", Message: "is required"})
	}
	if c.Redis.WorkerTTL <= 0 {
		errs = append(errs, &ValidationError{Field: "redis.worker_ttl", Message: "must be positive"})
	}
	if c.Redis.MaxStreamLen < 0 {
		errs = append(errs, &ValidationError{Field: "redis.max_stream_len", Message: "must not be negative"})
	}
	return errors.Join(errs...)
}

// Validate checks the job generation settings.
func (c *JobGenConfig) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: "jobgen." + field, Message: msg})
	}

	switch c.Strategy {
	case StrategySizeBounded, StrategyFixedCount:
	default:
		add("strategy", "must be one of: size_bounded, fixed_count")
	}
	switch c.SizeDifferenceRule {
	case RuleAnd, RuleOr:
	default:
		add("size_difference_rule", "must be one of: and, or")
	}
	if c.ErrorFactorPrevResult < 0 {
		add("error_factor_prev_result", "must not be negative")
	}
	if c.ErrorFactorBestGuess < 0 {
		add("error_factor_best_guess", "must not be negative")
	}
	if c.ExpectedAverageBytesPerObject < 0 {
		add("expected_average_bytes_per_object", "must not be negative")
	}
	if c.MaxDomainSizeGuess < 0 {
		add("max_domain_size_guess", "must not be negative")
	}
	if c.MaxRelativeSizeDifference < 0 {
		add("max_relative_size_difference", "must not be negative")
	}
	if c.MinAbsoluteSizeDifference < 0 {
		add("min_absolute_size_difference", "must not be negative")
	}
	if c.MaxTotalJobSize <= 0 {
		add("max_total_job_size", "must be positive")
	}
	if c.MaxTimeToComplete < 0 {
		add("max_time_to_complete", "must not be negative")
	}
	if c.DomainConfigSubsetSize <= 0 {
		add("domain_config_subset_size", "must be positive")
	}
	if c.DefaultSnapshotChannel == "" {
		add("default_snapshot_channel", "is required")
	}
	if c.DefaultFocusedChannel == "" {
		add("default_focused_channel", "is required")
	}
	return errors.Join(errs...)
}

// Validate checks the loop and lifecycle settings.
func (c *SchedulerConfig) Validate() error {
	var errs []error
	if c.JobGenerationPeriod <= 0 {
		errs = append(errs, &ValidationError{Field: "scheduler.job_generation_period", Message: "must be positive"})
	}
	if c.JobTimeoutTime <= 0 {
		errs = append(errs, &ValidationError{Field: "scheduler.job_timeout_time", Message: "must be positive"})
	}
	if c.TimeoutSweepInterval <= 0 {
		errs = append(errs, &ValidationError{Field: "scheduler.timeout_sweep_interval", Message: "must be positive"})
	}
	if c.MaxResubmits < 0 {
		errs = append(errs, &ValidationError{Field: "scheduler.max_resubmits", Message: "must not be negative"})
	}
	if c.DispatchRetryAttempts < 1 {
		errs = append(errs, &ValidationError{Field: "scheduler.dispatch_retry_attempts", Message: "must be at least 1"})
	}
	return errors.Join(errs...)
}
