package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad output format", func(c *Config) { c.Selection.OutputFormat = "xml" }, "selection.output_format"},
		{"empty address", func(c *Config) { c.Coordinator.Address = "" }, "coordinator.address"},
		{"bad address", func(c *Config) { c.Coordinator.Address = "localhost" }, "coordinator.address"},
		{"host address", func(c *Config) { c.Coordinator.Address = "coordinator.local:8787" }, ""},
		{"wait exceeds write timeout", func(c *Config) { c.Coordinator.MaxAssignmentWait = 2 * time.Minute }, "coordinator.max_assignment_wait"},
		{"bad strategy", func(c *Config) { c.Scheduler.ScopeStrategy = "random" }, "scheduler.scope_strategy"},
		{"zero inflight", func(c *Config) { c.Scheduler.MaxInflightScopes = 0 }, "scheduler.max_inflight_scopes"},
		{"liveness disabled", func(c *Config) { c.Scheduler.LivenessTimeout = 0; c.Scheduler.LivenessInterval = 0 }, ""},
		{"interval above timeout", func(c *Config) { c.Scheduler.LivenessInterval = 2 * time.Minute }, "scheduler.liveness_interval"},
		{"bad coordinator url", func(c *Config) { c.Worker.CoordinatorURL = "coordinator:8787" }, "worker.coordinator_url"},
		{"zero slots", func(c *Config) { c.Worker.Slots = 0 }, "worker.slots"},
		{"no command", func(c *Config) { c.Worker.Command = nil }, "worker.command"},
		{"short poll", func(c *Config) { c.Worker.PollWait = 100 * time.Millisecond }, "worker.poll_wait"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"file without path", func(c *Config) { c.Logging.Output = "file" }, "logging.file_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := ValidateConfig(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.MaxInflightScopes = 0
	cfg.Worker.Slots = 0
	cfg.Logging.Level = ""

	err := ValidateConfig(cfg)
	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, isValidAddress(":8787"))
	assert.True(t, isValidAddress("127.0.0.1:8787"))
	assert.True(t, isValidAddress("coordinator:80"))
	assert.False(t, isValidAddress(":"))
	assert.False(t, isValidAddress("8787"))
	assert.False(t, isValidAddress("-bad-:80"))
}
