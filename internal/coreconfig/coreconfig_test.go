package coreconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.HeartbeatPollIntervalSec != 15 {
		t.Fatalf("expected default heartbeat_poll_interval_sec=15, got %d", cfg.HeartbeatPollIntervalSec)
	}
	if cfg.TaskRunnerConcurrency != 3 {
		t.Fatalf("expected default task_runner_concurrency=3, got %d", cfg.TaskRunnerConcurrency)
	}
	if cfg.WaitingForUserTimeoutSec != 3600 {
		t.Fatalf("expected default waiting_for_user_timeout_sec=3600, got %d", cfg.WaitingForUserTimeoutSec)
	}
	if cfg.RealtimeSummaryTurnThreshold != 40 {
		t.Fatalf("expected default realtime_summary_turn_threshold=40, got %d", cfg.RealtimeSummaryTurnThreshold)
	}
	if cfg.SchedulerDBPath == "" {
		t.Fatalf("expected scheduler_db_path to default")
	}
}

func TestValidateNormalizesProviderQueues(t *testing.T) {
	cfg := &Config{ProviderQueues: map[string]ProviderQueueConfig{
		"openai": {MaxRetries: -1},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	pq := cfg.ProviderQueues["openai"]
	if pq.MinIntervalSec != 1 || pq.BackoffSec != 5 || pq.MaxRetries != 0 {
		t.Fatalf("expected normalized provider queue defaults, got %+v", pq)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := &Config{}
	_ = a.Validate()
	h1 := a.Hash()

	b, err := a.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	b.TaskRunnerConcurrency = 9
	h2 := b.Hash()

	if h1 == h2 {
		t.Fatalf("expected hash to change after mutation")
	}
	if a.Hash() != h1 {
		t.Fatalf("expected original config hash to be unaffected by clone mutation")
	}
}

func TestUpdateByNameConfigReplace(t *testing.T) {
	cfg := &Config{}
	_ = cfg.Validate()
	next := &Config{TaskRunnerConcurrency: 7}
	if err := cfg.UpdateByName("config", next); err != nil {
		t.Fatalf("update by name: %v", err)
	}
	if cfg.TaskRunnerConcurrency != 7 {
		t.Fatalf("expected full replace to apply, got %d", cfg.TaskRunnerConcurrency)
	}
}

func TestUpdateByNameUnknownSection(t *testing.T) {
	cfg := &Config{}
	if err := cfg.UpdateByName("nonsense", nil); err == nil {
		t.Fatalf("expected error for unknown section name")
	}
}

func TestLoadCreatesDefaultFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "central.yaml")

	ins := &InstanceManager{}
	cfg, err := ins.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HeartbeatPollIntervalSec != 15 {
		t.Fatalf("expected defaulted config, got %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
}

func TestInstanceManagerApplyAndSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "central.yaml")

	ins := &InstanceManager{}
	if _, err := ins.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ins.Apply("config", &Config{TaskRunnerConcurrency: 11}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := ins.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := &InstanceManager{}
	cfg, err := reloaded.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.TaskRunnerConcurrency != 11 {
		t.Fatalf("expected saved value to persist across reload, got %d", cfg.TaskRunnerConcurrency)
	}
}

func TestApplyWithCASRejectsStaleHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "central.yaml")

	ins := &InstanceManager{}
	if _, err := ins.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	staleHash, err := ins.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := ins.Apply("config", &Config{TaskRunnerConcurrency: 5}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := ins.ApplyWithCAS("config", &Config{TaskRunnerConcurrency: 6}, staleHash); err == nil {
		t.Fatalf("expected stale-hash CAS to fail")
	}
}

func TestResolvePathHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.yaml")
	t.Setenv(EnvConfigPath, custom)
	if got := ResolvePath(); got != custom {
		t.Fatalf("expected ResolvePath to honor %s, got %q", EnvConfigPath, got)
	}
}
