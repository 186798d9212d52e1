package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"emailagent/pkg/config"
	"emailagent/pkg/logger"
	"emailagent/pkg/otel"
)

type Config struct {
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	Redis  config.RedisConfig  `yaml:"redis"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Server config.ServerConfig `yaml:"server"`
	Model  config.ModelConfig  `yaml:"model"`
	Worker config.WorkerConfig `yaml:"worker"`
	Outbox config.OutboxConfig `yaml:"outbox"`
	Log    logger.Config       `yaml:"log"`
	Otel   otel.Config         `yaml:"otel"`
}

// Load 读取 CONFIG_ENV / CONFIG_DIR 指定的配置，环境变量优先级最高
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Default()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideModelFromEnv(&cfg.Model)
	config.OverrideWorkerFromEnv(&cfg.Worker)
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回未配置字段使用的默认值
func Default() *Config {
	return &Config{
		Server: config.ServerConfig{Port: "8080", MetricsPort: "9090"},
		Model: config.ModelConfig{
			Endpoint:    "http://localhost:11434",
			Name:        "llama3.2:3b",
			Timeout:     30 * time.Second,
			Temperature: 0.1,
			TopP:        0.9,
		},
		Worker: config.WorkerConfig{
			Concurrency:      4,
			StaleAfter:       10 * time.Minute,
			MaxRetries:       5,
			DedupTTL:         30 * time.Minute,
			QuarantineDays:   30,
			SweepSchedule:    "@every 5m",
			CleanupSchedule:  "0 3 * * *",
			StatsSchedule:    "0 0 * * *",
			OptimizeSchedule: "0 4 * * 0",
		},
		Outbox: config.OutboxConfig{Interval: 2 * time.Second, BatchSize: 100, MaxRetries: 10},
		Log:    logger.Config{Level: "info"},
		Otel:   otel.Config{ServiceName: "emailagent", SampleRatio: 1},
	}
}

// Validate 检查必填项和取值范围
func (c *Config) Validate() error {
	var errs []error
	if c.DB.Host == "" || c.DB.Name == "" {
		errs = append(errs, errors.New("db.host and db.name are required"))
	}
	if c.MQ.URL == "" {
		errs = append(errs, errors.New("mq.url is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if !strings.HasPrefix(c.Model.Endpoint, "http://") && !strings.HasPrefix(c.Model.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("model.endpoint must be an http(s) URL, got %q", c.Model.Endpoint))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature out of range: %v", c.Model.Temperature))
	}
	if c.Model.TopP < 0 || c.Model.TopP > 1 {
		errs = append(errs, fmt.Errorf("model.top_p out of range: %v", c.Model.TopP))
	}
	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be in [1,64], got %d", c.Worker.Concurrency))
	}
	if c.Worker.StaleAfter <= c.Model.Timeout {
		errs = append(errs, errors.New("worker.stale_after must exceed model.timeout"))
	}
	if c.Worker.MaxRetries < 1 {
		errs = append(errs, errors.New("worker.max_retries must be at least 1"))
	}
	if c.Worker.QuarantineDays < 1 {
		errs = append(errs, errors.New("worker.quarantine_days must be at least 1"))
	}
	return errors.Join(errs...)
}
