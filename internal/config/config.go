package config

import (
	"fmt"
	"os"
	"time"

	"recruitment-hitos/pkg/config"
)

type CalendarConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	StaleRetention time.Duration `yaml:"stale_retention"`
	// Location is the IANA zone whose civil dates anchor and classify milestones.
	Location string `yaml:"location"`
}

type MilestoneConfig struct {
	CatalogFile string `yaml:"catalog_file"`
	Store       string `yaml:"store"` // postgres / memory
}

type SchedulerConfig struct {
	WarmupCron    string `yaml:"warmup_cron"`
	DigestCron    string `yaml:"digest_cron"`
	DigestEnabled bool   `yaml:"digest_enabled"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	DB        config.DBConfig     `yaml:"db"`
	MQ        config.MQConfig     `yaml:"mq"`
	Redis     config.RedisConfig  `yaml:"redis"`
	JWT       config.JWTConfig    `yaml:"jwt"`
	Server    config.ServerConfig `yaml:"server"`
	Log       config.LogConfig    `yaml:"log"`
	Calendar  CalendarConfig      `yaml:"calendar"`
	Milestone MilestoneConfig     `yaml:"milestone"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	Outbox    OutboxConfig        `yaml:"outbox"`
}

// Load 使用统一配置中心加载配置，环境变量优先级最高
func Load(env, configDir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	if url := os.Getenv("CALENDAR_URL"); url != "" {
		cfg.Calendar.URL = url
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.MQ.MaxRetries <= 0 {
		c.MQ.MaxRetries = 3
	}
	if c.Calendar.Timeout <= 0 {
		c.Calendar.Timeout = 5 * time.Second
	}
	if c.Calendar.CacheTTL <= 0 {
		c.Calendar.CacheTTL = 24 * time.Hour
	}
	if c.Calendar.StaleRetention <= 0 {
		c.Calendar.StaleRetention = 30 * 24 * time.Hour
	}
	if c.Calendar.Location == "" {
		c.Calendar.Location = "UTC"
	}
	if c.Milestone.Store == "" {
		c.Milestone.Store = "postgres"
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = 2 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.Milestone.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("milestone.store must be postgres or memory, got %q", c.Milestone.Store)
	}
	if _, err := time.LoadLocation(c.Calendar.Location); err != nil {
		return fmt.Errorf("calendar.location: %w", err)
	}
	return nil
}

// BusinessLocation returns the configured calendar zone.
func (c *Config) BusinessLocation() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}
