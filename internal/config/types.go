package config

import (
	"time"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// Config is the complete, immutable service configuration built once at startup.
type Config struct {
	Logging   logger.Config   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	JobGen    JobGenConfig    `yaml:"jobgen"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST"     yaml:"host"`
	Port     string `env:"POSTGRES_PORT"     yaml:"port"`
	User     string `env:"POSTGRES_USER"     yaml:"user"`
	Password string `env:"POSTGRES_PASSWORD" yaml:"password"`
	DBName   string `env:"POSTGRES_DB"       yaml:"dbname"`
	SSLMode  string `env:"POSTGRES_SSLMODE"  yaml:"sslmode"`
}

// RedisConfig holds the Redis settings used by the job queue, the worker
// registry and the signal stream.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
	// Prefix namespaces every key the service touches.
	Prefix string `env:"REDIS_PREFIX" yaml:"prefix"`
	// WorkerTTL is how long a worker heartbeat keeps it registered on a channel.
	WorkerTTL    time.Duration `env:"REDIS_WORKER_TTL"     yaml:"worker_ttl"`
	MaxStreamLen int64         `env:"REDIS_MAX_STREAM_LEN" yaml:"max_stream_len"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port            int           `env:"SERVER_PORT"             yaml:"port"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
	Debug           bool          `env:"SERVER_DEBUG"            yaml:"debug"`
}

// JobGenConfig tunes estimation and packing.
type JobGenConfig struct {
	// Strategy selects the packing variant: size_bounded or fixed_count.
	Strategy string `env:"JOBGEN_STRATEGY" yaml:"strategy"`

	ErrorFactorPrevResult         float64 `env:"JOBGEN_ERROR_FACTOR_PREV_RESULT"          yaml:"error_factor_prev_result"`
	ErrorFactorBestGuess          float64 `env:"JOBGEN_ERROR_FACTOR_BEST_GUESS"           yaml:"error_factor_best_guess"`
	ExpectedAverageBytesPerObject int64   `env:"JOBGEN_EXPECTED_AVERAGE_BYTES_PER_OBJECT" yaml:"expected_average_bytes_per_object"`
	MaxDomainSizeGuess            int64   `env:"JOBGEN_MAX_DOMAIN_SIZE_GUESS"             yaml:"max_domain_size_guess"`

	MaxRelativeSizeDifference float64 `env:"JOBGEN_MAX_RELATIVE_SIZE_DIFFERENCE" yaml:"max_relative_size_difference"`
	MinAbsoluteSizeDifference int64   `env:"JOBGEN_MIN_ABSOLUTE_SIZE_DIFFERENCE" yaml:"min_absolute_size_difference"`
	// SizeDifferenceRule combines the relative and absolute tests: "and" or "or".
	SizeDifferenceRule string `env:"JOBGEN_SIZE_DIFFERENCE_RULE" yaml:"size_difference_rule"`
	MaxTotalJobSize    int64  `env:"JOBGEN_MAX_TOTAL_JOB_SIZE"   yaml:"max_total_job_size"`
	// MaxTimeToComplete is copied onto every job. Zero means unbounded.
	MaxTimeToComplete time.Duration `env:"JOBGEN_MAX_TIME_TO_COMPLETE" yaml:"max_time_to_complete"`

	DomainConfigSubsetSize   int `env:"JOBGEN_DOMAIN_CONFIG_SUBSET_SIZE"   yaml:"domain_config_subset_size"`
	FixedConfigCountFocused  int `env:"JOBGEN_FIXED_CONFIG_COUNT_FOCUSED"  yaml:"fixed_config_count_focused"`
	FixedConfigCountSnapshot int `env:"JOBGEN_FIXED_CONFIG_COUNT_SNAPSHOT" yaml:"fixed_config_count_snapshot"`

	ExcludeZeroBudgetDomains    bool `env:"JOBGEN_EXCLUDE_ZERO_BUDGET_DOMAINS"    yaml:"exclude_zero_budget_domains"`
	PostponeUnregisteredChannel bool `env:"JOBGEN_POSTPONE_UNREGISTERED_CHANNEL" yaml:"postpone_unregistered_channel"`
	SplitByObjectLimit          bool `env:"JOBGEN_SPLIT_BY_OBJECT_LIMIT"          yaml:"split_by_object_limit"`

	DefaultSnapshotChannel string `env:"JOBGEN_DEFAULT_SNAPSHOT_CHANNEL" yaml:"default_snapshot_channel"`
	DefaultFocusedChannel  string `env:"JOBGEN_DEFAULT_FOCUSED_CHANNEL"  yaml:"default_focused_channel"`
}

// SchedulerConfig drives the periodic loop and the lifecycle tracker.
type SchedulerConfig struct {
	JobGenerationPeriod  time.Duration `env:"SCHEDULER_JOB_GENERATION_PERIOD"  yaml:"job_generation_period"`
	JobTimeoutTime       time.Duration `env:"SCHEDULER_JOB_TIMEOUT_TIME"       yaml:"job_timeout_time"`
	TimeoutSweepInterval time.Duration `env:"SCHEDULER_TIMEOUT_SWEEP_INTERVAL" yaml:"timeout_sweep_interval"`
	// MaxResubmits bounds automatic resubmission of failed jobs. Zero disables it.
	MaxResubmits          int           `env:"SCHEDULER_MAX_RESUBMITS"           yaml:"max_resubmits"`
	DispatchRetryAttempts int           `env:"SCHEDULER_DISPATCH_RETRY_ATTEMPTS" yaml:"dispatch_retry_attempts"`
	DispatchRetryDelay    time.Duration `env:"SCHEDULER_DISPATCH_RETRY_DELAY"    yaml:"dispatch_retry_delay"`
}

// Strategy names.
const (
	StrategySizeBounded = "size_bounded"
	StrategyFixedCount  = "fixed_count"
)

// Size difference rules.
const (
	RuleAnd = "and"
	RuleOr  = "or"
)

// Default returns a Config populated with every default value.
func Default() Config {
	return Config{
		Logging: logger.Config{Level: logger.DefaultLevel},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "harvest_scheduler",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			Prefix:       "harvest",
			WorkerTTL:    90 * time.Second,
			MaxStreamLen: 10000,
		},
		Server: ServerConfig{
			Port:            8070,
			ShutdownTimeout: 30 * time.Second,
		},
		JobGen: JobGenConfig{
			Strategy:                      StrategySizeBounded,
			ErrorFactorPrevResult:         10,
			ErrorFactorBestGuess:          20,
			ExpectedAverageBytesPerObject: 38000,
			MaxDomainSizeGuess:            5000,
			MaxRelativeSizeDifference:     0.99,
			MinAbsoluteSizeDifference:     2000,
			SizeDifferenceRule:            RuleAnd,
			MaxTotalJobSize:               8_000_000_000,
			DomainConfigSubsetSize:        10000,
			FixedConfigCountFocused:       0,
			FixedConfigCountSnapshot:      10000,
			PostponeUnregisteredChannel:   true,
			DefaultSnapshotChannel:        "SNAPSHOT",
			DefaultFocusedChannel:         "FOCUSED",
		},
		Scheduler: SchedulerConfig{
			JobGenerationPeriod:   60 * time.Second,
			JobTimeoutTime:        7 * 24 * time.Hour,
			TimeoutSweepInterval:  time.Minute,
			DispatchRetryAttempts: 3,
			DispatchRetryDelay:    200 * time.Millisecond,
		},
	}
}
