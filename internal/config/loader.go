package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentmode.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// LoadWithCLI applies CLI flags on top of LoadFrom. It returns the resolved
// config file path alongside the config.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// CLIFlags holds command-line overrides. Nil fields were not set.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	Workspace  *string
	LiteLLMURL *string
	Model      *string
	Memory     *string
	DSN        *string
	NatsURL    *string
}

// RegisterFlags adds the global configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", DefaultConfigFile, "path to the YAML config file")
	fs.StringP("port", "p", "", "HTTP listen port")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.StringP("workspace", "w", "", "workspace root directory")
	fs.String("litellm-url", "", "LiteLLM proxy URL")
	fs.String("model", "", "model used for planning and self-correction")
	fs.String("memory", "", "strategy memory backend (memory, sqlite, postgres)")
	fs.String("dsn", "", "PostgreSQL DSN")
	fs.String("nats-url", "", "NATS URL (empty disables NATS)")
}

// FlagsFrom extracts the flags that were explicitly set on fs.
func FlagsFrom(fs *pflag.FlagSet) CLIFlags {
	get := func(name string) *string {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			return nil
		}
		v := f.Value.String()
		return &v
	}
	return CLIFlags{
		ConfigPath: get("config"),
		Port:       get("port"),
		LogLevel:   get("log-level"),
		Workspace:  get("workspace"),
		LiteLLMURL: get("litellm-url"),
		Model:      get("model"),
		Memory:     get("memory"),
		DSN:        get("dsn"),
		NatsURL:    get("nats-url"),
	}
}

// ParseFlags parses args into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := pflag.NewFlagSet("agentmode", pflag.ContinueOnError)
	fs.SetOutput(nopWriter{})
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}
	return FlagsFrom(fs), nil
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func applyCLI(cfg *Config, f CLIFlags) {
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&cfg.Server.Port, f.Port)
	apply(&cfg.Logging.Level, f.LogLevel)
	apply(&cfg.Workspace.Root, f.Workspace)
	apply(&cfg.LiteLLM.URL, f.LiteLLMURL)
	apply(&cfg.LiteLLM.Model, f.Model)
	apply(&cfg.Memory.Backend, f.Memory)
	apply(&cfg.Postgres.DSN, f.DSN)
	apply(&cfg.NATS.URL, f.NatsURL)
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTMODE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTMODE_CORS_ORIGIN")
	setInt(&cfg.Server.PlanRatePerMinute, "AGENTMODE_PLAN_RATE_PER_MINUTE")
	setInt(&cfg.Server.PlanBurst, "AGENTMODE_PLAN_BURST")
	setString(&cfg.Workspace.Root, "AGENTMODE_WORKSPACE")
	setString(&cfg.Workspace.StateDir, "AGENTMODE_STATE_DIR")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "AGENTMODE_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "AGENTMODE_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "AGENTMODE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTMODE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTMODE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTMODE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTMODE_BREAKER_TIMEOUT")
	setInt(&cfg.Planner.ChunkLimit, "AGENTMODE_CHUNK_LIMIT")
	setInt(&cfg.Planner.MaxSteps, "AGENTMODE_MAX_STEPS")
	setInt(&cfg.Planner.DefaultMaxRetries, "AGENTMODE_MAX_RETRIES")
	setString(&cfg.Planner.Model, "AGENTMODE_PLANNER_MODEL")
	setInt(&cfg.Planner.MaxTokens, "AGENTMODE_PLANNER_MAX_TOKENS")
	setFloat64(&cfg.Planner.Temperature, "AGENTMODE_PLANNER_TEMPERATURE")
	setDuration(&cfg.Planner.ChunkTTL, "AGENTMODE_CHUNK_TTL")
	setInt(&cfg.Planner.MaxPendingTasks, "AGENTMODE_MAX_PENDING_TASKS")
	setInt(&cfg.Planner.RelevanceThreshold, "AGENTMODE_RELEVANCE_THRESHOLD")
	setDuration(&cfg.Runtime.RetryBaseDelay, "AGENTMODE_RETRY_BASE_DELAY")
	setDuration(&cfg.Runtime.RetryMaxDelay, "AGENTMODE_RETRY_MAX_DELAY")
	setString(&cfg.Runtime.DefaultTestCommand, "AGENTMODE_TEST_COMMAND")
	setDuration(&cfg.Runtime.CommandTimeout, "AGENTMODE_COMMAND_TIMEOUT")
	setInt(&cfg.Runtime.MaxOutputBytes, "AGENTMODE_MAX_OUTPUT_BYTES")
	setInt(&cfg.Runtime.MaxConcurrentCommands, "AGENTMODE_MAX_CONCURRENT_COMMANDS")
	setInt(&cfg.Metacog.HelpBudget, "AGENTMODE_HELP_BUDGET")
	setInt(&cfg.Metacog.RepeatedErrorThreshold, "AGENTMODE_REPEATED_ERROR_THRESHOLD")
	setInt(&cfg.Metacog.NoProgressThreshold, "AGENTMODE_NO_PROGRESS_THRESHOLD")
	setDuration(&cfg.Metacog.StepTimeout, "AGENTMODE_STEP_TIMEOUT")
	setString(&cfg.Memory.Backend, "AGENTMODE_MEMORY_BACKEND")
	setString(&cfg.Memory.SQLitePath, "AGENTMODE_SQLITE_PATH")
	setInt(&cfg.Memory.MaxCASRetries, "AGENTMODE_MAX_CAS_RETRIES")
	setDuration(&cfg.Memory.CacheTTL, "AGENTMODE_CACHE_TTL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTMODE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTMODE_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "AGENTMODE_NATS_KV_BUCKET")
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTMODE_CACHE_L1_SIZE_MB")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Otel.Insecure, "AGENTMODE_OTEL_INSECURE")
	setString(&cfg.Otel.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.Otel.SampleRate, "AGENTMODE_OTEL_SAMPLE_RATE")
	setBool(&cfg.MCP.Enabled, "AGENTMODE_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "AGENTMODE_MCP_API_KEY")
	setString(&cfg.Secrets.File, "AGENTMODE_SECRETS_FILE")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.PlanRatePerMinute > 0 && cfg.Server.PlanBurst < 1 {
		return errors.New("server.plan_burst must be >= 1 when plan_rate_per_minute is set")
	}
	if cfg.Workspace.Root == "" {
		return errors.New("workspace.root is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Planner.ChunkLimit < 1 {
		return errors.New("planner.chunk_limit must be >= 1")
	}
	if cfg.Planner.MaxSteps < 1 {
		return errors.New("planner.max_steps must be >= 1")
	}
	if cfg.Planner.DefaultMaxRetries < 0 {
		return errors.New("planner.default_max_retries must be >= 0")
	}
	if cfg.Planner.MaxPendingTasks < 1 {
		return errors.New("planner.max_pending_tasks must be >= 1")
	}
	if cfg.Runtime.MaxConcurrentCommands < 1 {
		return errors.New("runtime.max_concurrent_commands must be >= 1")
	}
	if cfg.Metacog.HelpBudget < 0 {
		return errors.New("metacog.help_budget must be >= 0")
	}
	switch cfg.Memory.Backend {
	case "memory", "sqlite":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres memory backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("memory.backend %q is not one of memory, sqlite, postgres", cfg.Memory.Backend)
	}
	if cfg.Memory.MaxCASRetries < 1 {
		return errors.New("memory.max_cas_retries must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
