// Package config loads the engine's runtime configuration from a YAML file
// with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// TemporalConfig selects the durable execution substrate.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// RedisConfig selects the state store and memory backend.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// AgentConfig identifies this process in the team directory.
type AgentConfig struct {
	Name         string   `mapstructure:"name"`
	TeamKey      string   `mapstructure:"team_key"`
	Address      string   `mapstructure:"address"`
	Capabilities []string `mapstructure:"capabilities"`
	Orchestrator bool     `mapstructure:"orchestrator"`
}

// LoopConfig points at the declarative loop policy document.
type LoopConfig struct {
	PolicyPath string `mapstructure:"policy_path"`
	// ToolRatePerSecond throttles tool dispatch; zero disables the limiter.
	ToolRatePerSecond float64 `mapstructure:"tool_rate_per_second"`
	ToolRateBurst     int     `mapstructure:"tool_rate_burst"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	Temporal TemporalConfig `mapstructure:"temporal"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Logging  struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads CONFIG_PATH (default config/engine.yaml) and applies env
// overrides. A missing file is fine: defaults plus env carry a dev setup.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "agent-engine")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("agent.team_key", "default")
	v.SetDefault("loop.tool_rate_per_second", 0)
	v.SetDefault("loop.tool_rate_burst", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	cfgPath := os.Getenv("CONFIG_PATH")
	explicit := cfgPath != ""
	if cfgPath == "" {
		cfgPath = "config/engine.yaml"
	}
	v.SetConfigFile(cfgPath)
	// An explicitly named file must load; the default path may simply not
	// exist.
	if err := v.ReadInConfig(); err != nil && explicit {
		return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "agent-engine"
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEMPORAL_HOST_PORT"); v != "" {
		cfg.Temporal.HostPort = v
	}
	if v := os.Getenv("TEMPORAL_NAMESPACE"); v != "" {
		cfg.Temporal.Namespace = v
	}
	if v := os.Getenv("TEMPORAL_TASK_QUEUE"); v != "" {
		cfg.Temporal.TaskQueue = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AGENT_NAME"); v != "" {
		cfg.Agent.Name = v
	}
	if v := os.Getenv("AGENT_TEAM_KEY"); v != "" {
		cfg.Agent.TeamKey = v
	}
	if v := os.Getenv("LOOP_POLICY_PATH"); v != "" {
		cfg.Loop.PolicyPath = v
	}
}

// MetricsPort returns the admin/metrics listen port, env-overridable.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			return v
		}
	}
	return defaultPort
}
