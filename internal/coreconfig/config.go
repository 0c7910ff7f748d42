// Package coreconfig defines the central execution substrate's own
// configuration, loaded independently of the teacher's chat-oriented
// internal/config (gateway/channels/agents/providers) since the two cover
// disjoint concerns: this one is the Store/Scheduler/Dispatcher/Runner/
// Provider-Queue/Summary-pipeline's tuning knobs (spec §6 "Configuration").
//
// The struct-plus-YAML-plus-sane-defaults shape, the SHA-256 content hash
// for optimistic-concurrency config edits, and UpdateByName's "apply one
// named section at a time" pattern are all grounded directly on the
// teacher's internal/config (config.go's Hash/Clone/UpdateByName,
// instance.go's InstanceManager with file locking and timestamped
// backups).
package coreconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/zubot/central/internal/config"
	"github.com/zubot/central/internal/consts"
)

// ProviderQueueConfig is the per-queue_group tuning the spec calls
// "per provider queue_min_interval_sec, queue_jitter_sec,
// queue_max_retries, queue_retry_backoff_sec".
type ProviderQueueConfig struct {
	MinIntervalSec int `yaml:"queue_min_interval_sec"`
	JitterSec      int `yaml:"queue_jitter_sec"`
	MaxRetries     int `yaml:"queue_max_retries"`
	BackoffSec     int `yaml:"queue_retry_backoff_sec"`
}

// LoggingConfig mirrors the teacher's config.LoggingConfig field-for-field:
// logging is carried as an ambient concern even though spec.md §6's
// configuration table never names it.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// Config carries every recognized key from spec.md §6's "Configuration"
// table as a typed field.
type Config struct {
	CentralServiceEnabled bool `yaml:"central_service_enabled"`

	HeartbeatPollIntervalSec int    `yaml:"heartbeat_poll_interval_sec"`
	TaskRunnerConcurrency    int    `yaml:"task_runner_concurrency"`
	SchedulerDBPath          string `yaml:"scheduler_db_path"`
	RunHistoryRetentionDays  int    `yaml:"run_history_retention_days"`
	RunHistoryMaxRows        int    `yaml:"run_history_max_rows"`

	MemoryManagerSweepIntervalSec      int `yaml:"memory_manager_sweep_interval_sec"`
	MemoryManagerCompletionDebounceSec int `yaml:"memory_manager_completion_debounce_sec"`
	QueueWarningThreshold              int `yaml:"queue_warning_threshold"`
	RunningAgeWarningSec               int `yaml:"running_age_warning_sec"`
	DBQueueBusyTimeoutMs               int `yaml:"db_queue_busy_timeout_ms"`
	DBQueueDefaultMaxRows              int `yaml:"db_queue_default_max_rows"`
	WaitingForUserTimeoutSec           int `yaml:"waiting_for_user_timeout_sec"`

	MemoryAutoloadSummaryDays    int  `yaml:"memory_autoload_summary_days"`
	RealtimeSummaryTurnThreshold int  `yaml:"realtime_summary_turn_threshold"`
	SummaryWorkerPollSec         int  `yaml:"summary_worker_poll_sec"`
	SummaryWorkerMaxJobsPerTick  int  `yaml:"summary_worker_max_jobs_per_tick"`
	DailySummaryUseModel         bool `yaml:"daily_summary_use_model"`

	RunLogDir string `yaml:"run_log_dir"`

	ControlAPIBind string `yaml:"control_api_bind"`

	Logging LoggingConfig `yaml:"logging"`

	ProviderQueues map[string]ProviderQueueConfig `yaml:"provider_queues"`

	// Providers and Channels reuse the teacher's own component config
	// shapes (internal/config.ProviderConfig/ChannelConfig) to stand up the
	// eino model providers and notification channels the agentic task
	// bodies and the Control API's optional delivery path need.
	Providers map[string]config.ProviderConfig `yaml:"providers"`
	Channels  map[string]config.ChannelConfig  `yaml:"channels"`
}

// Clone returns a deep copy, the same round-trip-through-JSON approach the
// teacher's Config.Clone uses.
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("coreconfig: config is nil")
	}
	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("coreconfig: marshal config: %w", err)
	}
	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("coreconfig: unmarshal config clone: %w", err)
	}
	return &cloned, nil
}

// Hash returns a content hash over the config's canonical JSON form, used
// for optimistic-concurrency Control API edits (compare-and-swap on the
// previously observed hash), mirroring the teacher's Config.Hash.
func (c *Config) Hash() string {
	enc := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := enc.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Validate fills every unset interval/limit with the spec's documented
// default, the same "fill defaults in the constructor/validator, not the
// zero value" convention as the teacher's Config.Validate and
// cronjob.NewScheduler's maxConcurrent<=0 guard.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("coreconfig: config cannot be nil")
	}
	if c.HeartbeatPollIntervalSec <= 0 {
		c.HeartbeatPollIntervalSec = 15
	}
	if c.TaskRunnerConcurrency <= 0 {
		c.TaskRunnerConcurrency = 3
	}
	if c.SchedulerDBPath == "" {
		c.SchedulerDBPath = consts.DefaultCentralDBPath()
	}
	if c.RunHistoryRetentionDays <= 0 {
		c.RunHistoryRetentionDays = 30
	}
	if c.RunHistoryMaxRows <= 0 {
		c.RunHistoryMaxRows = 10000
	}
	if c.MemoryManagerSweepIntervalSec <= 0 {
		c.MemoryManagerSweepIntervalSec = 3600
	}
	if c.MemoryManagerCompletionDebounceSec <= 0 {
		c.MemoryManagerCompletionDebounceSec = 30
	}
	if c.QueueWarningThreshold <= 0 {
		c.QueueWarningThreshold = 20
	}
	if c.RunningAgeWarningSec <= 0 {
		c.RunningAgeWarningSec = 1800
	}
	if c.DBQueueBusyTimeoutMs <= 0 {
		c.DBQueueBusyTimeoutMs = 5000
	}
	if c.DBQueueDefaultMaxRows <= 0 {
		c.DBQueueDefaultMaxRows = 1000
	}
	if c.WaitingForUserTimeoutSec <= 0 {
		c.WaitingForUserTimeoutSec = 3600
	}
	if c.MemoryAutoloadSummaryDays <= 0 {
		c.MemoryAutoloadSummaryDays = 7
	}
	if c.RealtimeSummaryTurnThreshold <= 0 {
		c.RealtimeSummaryTurnThreshold = 40
	}
	if c.SummaryWorkerPollSec <= 0 {
		c.SummaryWorkerPollSec = 20
	}
	if c.SummaryWorkerMaxJobsPerTick <= 0 {
		c.SummaryWorkerMaxJobsPerTick = 3
	}
	if c.RunLogDir == "" {
		c.RunLogDir = consts.DefaultRunLogDir()
	}
	if c.ControlAPIBind == "" {
		c.ControlAPIBind = "127.0.0.1:8090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	normalizedProviders := make(map[string]config.ProviderConfig, len(c.Providers))
	for id, pc := range c.Providers {
		pc.ID = id
		normalizedProviders[id] = pc
	}
	c.Providers = normalizedProviders

	normalizedChannels := make(map[string]config.ChannelConfig, len(c.Channels))
	for id, cc := range c.Channels {
		cc.ID = id
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("coreconfig: channels[%s]: %w", id, err)
		}
		normalizedChannels[id] = cc
	}
	c.Channels = normalizedChannels

	normalized := make(map[string]ProviderQueueConfig, len(c.ProviderQueues))
	for group, pq := range c.ProviderQueues {
		if pq.MinIntervalSec <= 0 {
			pq.MinIntervalSec = 1
		}
		if pq.MaxRetries < 0 {
			pq.MaxRetries = 0
		}
		if pq.BackoffSec <= 0 {
			pq.BackoffSec = 5
		}
		normalized[group] = pq
	}
	c.ProviderQueues = normalized
	return nil
}

// UpdateByName applies a partial update to one named section, the same
// dispatch-by-name shape as the teacher's Config.UpdateByName, scoped down
// to coreconfig's two sections ("config" for a full replace,
// "provider_queue" for replacing the whole per-queue_group tuning map).
func (c *Config) UpdateByName(name string, value any) error {
	if c == nil {
		return fmt.Errorf("coreconfig: config cannot be nil")
	}
	switch name {
	case "config":
		typed, ok := value.(*Config)
		if !ok || typed == nil {
			return fmt.Errorf("coreconfig: name 'config' requires *Config")
		}
		*c = *typed
	case "provider_queue":
		typed, ok := value.(*map[string]ProviderQueueConfig)
		if !ok || typed == nil {
			return fmt.Errorf("coreconfig: name 'provider_queue' requires *map[string]ProviderQueueConfig")
		}
		next := make(map[string]ProviderQueueConfig, len(*typed))
		for k, v := range *typed {
			next[k] = v
		}
		c.ProviderQueues = next
	default:
		return fmt.Errorf("coreconfig: unsupported config name: %s", name)
	}
	return nil
}
