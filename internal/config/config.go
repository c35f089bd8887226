// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Storage() StorageConfig
	GitHub() GitHubConfig
	Engine() EngineConfig
	Actions() ActionsConfig
	Deploy() DeployConfig
	Workflow() WorkflowConfig
	Server() ServerConfig

	// Setters used by CLI flag overrides.
	SetGitHubRepo(repo string)
	SetStorageDriver(driver string)
	SetServerAddr(addr string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	StorageCfg  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	GitHubCfg   GitHubConfig   `mapstructure:"github" yaml:"github"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ActionsCfg  ActionsConfig  `mapstructure:"actions" yaml:"actions"`
	DeployCfg   DeployConfig   `mapstructure:"deploy" yaml:"deploy"`
	WorkflowCfg WorkflowConfig `mapstructure:"workflow" yaml:"workflow"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Storage() StorageConfig   { return c.StorageCfg }
func (c *Config) GitHub() GitHubConfig     { return c.GitHubCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Actions() ActionsConfig   { return c.ActionsCfg }
func (c *Config) Deploy() DeployConfig     { return c.DeployCfg }
func (c *Config) Workflow() WorkflowConfig { return c.WorkflowCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetGitHubRepo(repo string) { c.GitHubCfg.Repo = repo }
func (c *Config) SetServerAddr(addr string) { c.ServerCfg.Addr = addr }

func (c *Config) SetStorageDriver(driver string) {
	c.StorageCfg.Driver = driver
	c.StorageCfg.defaultDSN()
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects the event log store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Dir holds the JSON collections for the file driver and the default SQLite database.
	Dir string `mapstructure:"dir" yaml:"dir"`
	DSN string `mapstructure:"dsn" yaml:"-"`
}

// GitHubConfig holds the issue tracker connection details.
type GitHubConfig struct {
	Token   string        `mapstructure:"token" yaml:"-"`
	Repo    string        `mapstructure:"repo" yaml:"repo"`
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RequestsPerSecond caps outbound API calls; zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Redispatch policies.
const (
	RedispatchAlways   = "always"
	RedispatchCooldown = "cooldown"
)

// EngineConfig tunes the collectors and the dispatch policy.
type EngineConfig struct {
	StaleAfterDays int `mapstructure:"stale_after_days" yaml:"stale_after_days"`
	BuildWindow    int `mapstructure:"build_window" yaml:"build_window"`
	DeployWindow   int `mapstructure:"deploy_window" yaml:"deploy_window"`
	ReviewWindow   int `mapstructure:"review_window" yaml:"review_window"`
	CodeQualityMin int `mapstructure:"code_quality_min" yaml:"code_quality_min"`

	Redispatch string        `mapstructure:"redispatch" yaml:"redispatch"`
	Cooldown   time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	// CooldownWindow bounds how many recent action records are scanned for a prior dispatch.
	CooldownWindow int `mapstructure:"cooldown_window" yaml:"cooldown_window"`
}

// FixRule maps an error message pattern to the fix it implies.
type FixRule struct {
	Pattern        string `mapstructure:"pattern" yaml:"pattern"`
	Classification string `mapstructure:"classification" yaml:"classification"`
}

// ActionsConfig configures the action handlers.
type ActionsConfig struct {
	FixErrorWindow   int       `mapstructure:"fix_error_window" yaml:"fix_error_window"`
	FixRules         []FixRule `mapstructure:"fix_rules" yaml:"fix_rules"`
	ApproveThreshold int       `mapstructure:"approve_threshold" yaml:"approve_threshold"`
}

// DeployConfig holds the deployment provider settings.
type DeployConfig struct {
	Token   string        `mapstructure:"token" yaml:"-"`
	Project string        `mapstructure:"project" yaml:"project"`
	APIURL  string        `mapstructure:"api_url" yaml:"api_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WorkflowConfig locates declarative workflow definitions.
type WorkflowConfig struct {
	Dir         string        `mapstructure:"dir" yaml:"dir"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autodevops")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Storage --
	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.dir", "storage")

	// -- GitHub --
	v.SetDefault("github.api_url", "https://api.github.com/")
	v.SetDefault("github.timeout", "10s")
	v.SetDefault("github.requests_per_second", 5.0)
	v.SetDefault("github.burst", 10)

	// -- Engine --
	v.SetDefault("engine.stale_after_days", 7)
	v.SetDefault("engine.build_window", 50)
	v.SetDefault("engine.deploy_window", 20)
	v.SetDefault("engine.review_window", 10)
	v.SetDefault("engine.code_quality_min", 70)
	v.SetDefault("engine.redispatch", RedispatchAlways)
	v.SetDefault("engine.cooldown", "1h")
	v.SetDefault("engine.cooldown_window", 200)

	// -- Actions --
	v.SetDefault("actions.fix_error_window", 20)
	v.SetDefault("actions.approve_threshold", 70)

	// -- Deploy --
	v.SetDefault("deploy.api_url", "https://api.vercel.com")
	v.SetDefault("deploy.timeout", "10s")

	// -- Workflow --
	v.SetDefault("workflow.dir", "workflows")
	v.SetDefault("workflow.http_timeout", "10s")

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment. The first variable that is set wins.
	_ = v.BindEnv("github.token", "AUTODEVOPS_GITHUB_TOKEN", "GITHUB_TOKEN", "GITHUB_PAT")
	_ = v.BindEnv("github.repo", "AUTODEVOPS_GITHUB_REPO", "GITHUB_REPO")
	_ = v.BindEnv("deploy.token", "AUTODEVOPS_DEPLOY_TOKEN", "VERCEL_TOKEN")
	_ = v.BindEnv("deploy.project", "AUTODEVOPS_DEPLOY_PROJECT", "VERCEL_PROJECT")
	_ = v.BindEnv("storage.dsn", "AUTODEVOPS_STORAGE_DSN", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.StorageCfg.Dir, &c.WorkflowCfg.Dir, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	c.StorageCfg.defaultDSN()
	return nil
}

// defaultDSN places the SQLite database inside the storage dir unless a DSN is set.
func (s *StorageConfig) defaultDSN() {
	if s.Driver == DriverSQLite && s.DSN == "" {
		s.DSN = filepath.Join(s.Dir, "autodevops.db")
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StorageCfg.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.GitHubCfg.Timeout <= 0 {
		return fmt.Errorf("github.timeout must be positive")
	}
	if c.GitHubCfg.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must not be negative")
	}
	for i, rule := range c.ActionsCfg.FixRules {
		if rule.Pattern == "" || rule.Classification == "" {
			return fmt.Errorf("actions.fix_rules[%d] requires both pattern and classification", i)
		}
	}
	if c.ActionsCfg.FixErrorWindow <= 0 {
		return fmt.Errorf("actions.fix_error_window must be a positive integer")
	}
	return nil
}

// Validate checks the storage driver selection.
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case DriverFile:
		if s.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file driver")
		}
	case DriverSQLite, DriverPostgres:
		if s.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", s.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Driver)
	}
	return nil
}

// Validate checks collector windows, thresholds and the redispatch policy.
func (e *EngineConfig) Validate() error {
	if e.StaleAfterDays < 0 {
		return fmt.Errorf("stale_after_days must not be negative")
	}
	if e.BuildWindow <= 0 || e.DeployWindow <= 0 || e.ReviewWindow <= 0 {
		return fmt.Errorf("build_window, deploy_window and review_window must be positive integers")
	}
	if e.CodeQualityMin < 0 || e.CodeQualityMin > 100 {
		return fmt.Errorf("code_quality_min must be between 0 and 100")
	}
	switch e.Redispatch {
	case RedispatchAlways:
	case RedispatchCooldown:
		if e.Cooldown <= 0 {
			return fmt.Errorf("cooldown must be positive when redispatch is %q", RedispatchCooldown)
		}
	default:
		return fmt.Errorf("unknown redispatch policy %q", e.Redispatch)
	}
	return nil
}
