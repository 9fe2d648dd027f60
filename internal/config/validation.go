package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/slice"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var (
	validStrategies    = []string{"param", "scope", "file"}
	validOutputFormats = []string{"json", "yaml", "text"}
	validLevels        = []string{"debug", "info", "warn", "error"}
	validLogFormats    = []string{"json", "console"}
	validLogOutputs    = []string{"stdout", "stderr", "file", "both"}
)

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError adds a validation error.
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateSelectionConfig(&cfg.Selection)
	v.validateCoordinatorConfig(&cfg.Coordinator)
	v.validateSchedulerConfig(&cfg.Scheduler)
	v.validateWorkerConfig(&cfg.Worker)
	v.validateLoggingConfig(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateSelectionConfig(cfg *SelectionConfig) {
	if !slice.Contain(validOutputFormats, strings.ToLower(cfg.OutputFormat)) {
		v.addError("selection.output_format", fmt.Sprintf("invalid output format '%s', must be one of: %s",
			cfg.OutputFormat, strings.Join(validOutputFormats, ", ")))
	}
}

func (v *Validator) validateCoordinatorConfig(cfg *CoordinatorConfig) {
	if cfg.Address == "" {
		v.addError("coordinator.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("coordinator.address", "invalid address format, expected host:port or :port")
	}

	if cfg.ReadTimeout < 0 {
		v.addError("coordinator.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("coordinator.write_timeout", "write timeout must be non-negative")
	}
	if cfg.MaxAssignmentWait <= 0 {
		v.addError("coordinator.max_assignment_wait", "max assignment wait must be positive")
	}
	// 长轮询必须在写超时之前返回
	if cfg.WriteTimeout > 0 && cfg.MaxAssignmentWait >= cfg.WriteTimeout {
		v.addError("coordinator.max_assignment_wait", "max assignment wait should be less than write timeout")
	}
}

func (v *Validator) validateSchedulerConfig(cfg *SchedulerConfig) {
	if !slice.Contain(validStrategies, cfg.ScopeStrategy) {
		v.addError("scheduler.scope_strategy", fmt.Sprintf("invalid scope strategy '%s', must be one of: %s",
			cfg.ScopeStrategy, strings.Join(validStrategies, ", ")))
	}
	if cfg.MaxInflightScopes < 1 {
		v.addError("scheduler.max_inflight_scopes", "max inflight scopes must be at least 1")
	}
	if cfg.LivenessTimeout < 0 {
		v.addError("scheduler.liveness_timeout", "liveness timeout must be non-negative")
	}
	if cfg.LivenessTimeout > 0 {
		if cfg.LivenessInterval <= 0 {
			v.addError("scheduler.liveness_interval", "liveness interval must be positive")
		} else if cfg.LivenessInterval > cfg.LivenessTimeout {
			v.addError("scheduler.liveness_interval", "liveness interval should not exceed liveness timeout")
		}
	}
	if cfg.EventBuffer < 0 {
		v.addError("scheduler.event_buffer", "event buffer must be non-negative")
	}
}

func (v *Validator) validateWorkerConfig(cfg *WorkerConfig) {
	if cfg.CoordinatorURL == "" {
		v.addError("worker.coordinator_url", "coordinator url is required")
	} else if u, err := url.Parse(cfg.CoordinatorURL); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("worker.coordinator_url", "invalid coordinator url, expected http://host:port")
	}

	if cfg.Slots < 1 {
		v.addError("worker.slots", "slots must be at least 1")
	}
	if len(cfg.Command) == 0 {
		v.addError("worker.command", "command is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		v.addError("worker.heartbeat_interval", "heartbeat interval must be positive")
	}
	if cfg.PollWait < time.Second {
		v.addError("worker.poll_wait", "poll wait should be at least 1 second")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("worker.request_timeout", "request timeout must be positive")
	}
}

func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !slice.Contain(validLevels, strings.ToLower(cfg.Level)) {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: %s",
			cfg.Level, strings.Join(validLevels, ", ")))
	}

	if !slice.Contain(validLogFormats, strings.ToLower(cfg.Format)) {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: %s",
			cfg.Format, strings.Join(validLogFormats, ", ")))
	}

	output := strings.ToLower(cfg.Output)
	if !slice.Contain(validLogOutputs, output) {
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: %s",
			cfg.Output, strings.Join(validLogOutputs, ", ")))
	}
	if (output == "file" || output == "both") && cfg.FilePath == "" {
		v.addError("logging.file_path", "file path is required for file output")
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return false
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ValidateConfig is a convenience function to validate a configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
