package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/test-scheduler/pkg/logger"
)

// Config represents the complete configuration for the test scheduler.
type Config struct {
	Selection   SelectionConfig   `yaml:"selection"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Worker      WorkerConfig      `yaml:"worker"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SelectionConfig holds the inputs and output of test selection.
type SelectionConfig struct {
	Playbook     string `yaml:"playbook" env:"TS_SELECTION_PLAYBOOK"`
	Items        string `yaml:"items" env:"TS_SELECTION_ITEMS"`
	OutputFormat string `yaml:"output_format" env:"TS_SELECTION_OUTPUT_FORMAT"`
}

// CoordinatorConfig holds the coordinator HTTP server configuration.
type CoordinatorConfig struct {
	Address      string        `yaml:"address" env:"TS_COORDINATOR_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"TS_COORDINATOR_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"TS_COORDINATOR_WRITE_TIMEOUT"`
	// MaxAssignmentWait caps the long-poll wait of assignment requests.
	MaxAssignmentWait time.Duration `yaml:"max_assignment_wait" env:"TS_COORDINATOR_MAX_ASSIGNMENT_WAIT"`
}

// SchedulerConfig holds scope scheduling configuration.
type SchedulerConfig struct {
	// ScopeStrategy is one of param, scope, file.
	ScopeStrategy     string        `yaml:"scope_strategy" env:"TS_SCHEDULER_SCOPE_STRATEGY"`
	MaxInflightScopes int           `yaml:"max_inflight_scopes" env:"TS_SCHEDULER_MAX_INFLIGHT_SCOPES"`
	LivenessTimeout   time.Duration `yaml:"liveness_timeout" env:"TS_SCHEDULER_LIVENESS_TIMEOUT"`
	LivenessInterval  time.Duration `yaml:"liveness_interval" env:"TS_SCHEDULER_LIVENESS_INTERVAL"`
	EventBuffer       int           `yaml:"event_buffer" env:"TS_SCHEDULER_EVENT_BUFFER"`
}

// WorkerConfig holds worker agent configuration.
type WorkerConfig struct {
	ID                string            `yaml:"id" env:"TS_WORKER_ID"`
	Name              string            `yaml:"name" env:"TS_WORKER_NAME"`
	CoordinatorURL    string            `yaml:"coordinator_url" env:"TS_WORKER_COORDINATOR_URL"`
	Slots             int               `yaml:"slots" env:"TS_WORKER_SLOTS"`
	Labels            map[string]string `yaml:"labels" env:"TS_WORKER_LABELS"`
	Command           []string          `yaml:"command" env:"TS_WORKER_COMMAND"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval" env:"TS_WORKER_HEARTBEAT_INTERVAL"`
	PollWait          time.Duration     `yaml:"poll_wait" env:"TS_WORKER_POLL_WAIT"`
	RequestTimeout    time.Duration     `yaml:"request_timeout" env:"TS_WORKER_REQUEST_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"TS_LOG_LEVEL"`
	Format     string `yaml:"format" env:"TS_LOG_FORMAT"`
	Output     string `yaml:"output" env:"TS_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"TS_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"TS_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"TS_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"TS_LOG_MAX_AGE"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Selection: SelectionConfig{
			OutputFormat: "text",
		},
		Coordinator: CoordinatorConfig{
			Address:           ":8787",
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			MaxAssignmentWait: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			ScopeStrategy:     "param",
			MaxInflightScopes: 2,
			LivenessTimeout:   60 * time.Second,
			LivenessInterval:  10 * time.Second,
			EventBuffer:       100,
		},
		Worker: WorkerConfig{
			CoordinatorURL:    "http://localhost:8787",
			Slots:             2,
			Labels:            make(map[string]string),
			Command:           []string{"pytest", "{nodeid}"},
			HeartbeatInterval: 10 * time.Second,
			PollWait:          30 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoggerConfig converts the logging section for pkg/logger.
func (c *LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
	lookupEnv  func(string) string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs:   make(map[string]string),
		lookupEnv: os.Getenv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets command-line arguments for configuration override,
// keyed by dotted path such as "scheduler.max_inflight_scopes".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// WithEnv replaces the environment lookup.
func (l *Loader) WithEnv(lookup func(string) string) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用命令行参数覆盖失败: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // 文件不存在时使用默认值
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := l.lookupEnv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by its dotted yaml path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

// fieldByYAMLName finds a struct field by its yaml tag.
func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	case reflect.Map:
		// key=value,key=value 格式
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的 map 类型")
		}
		m := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 {
				m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
