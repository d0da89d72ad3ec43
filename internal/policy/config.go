package policy

import (
	"os"
)

// Mode defines the tool policy gate operating mode.
type Mode string

const (
	// ModeOff disables policy evaluation entirely.
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies but only logs would-be denials.
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies.
	ModeEnforce Mode = "enforce"
)

// Config holds tool policy gate configuration.
type Config struct {
	Enabled bool
	Mode    Mode

	// Path to the directory containing .rego policy files.
	Path string

	// FailClosed: deny all tool calls if policies cannot be loaded.
	// Fail-open (false) allows everything when loading fails.
	FailClosed bool

	// Environment context passed to policies (dev|staging|prod).
	Environment string
}

// LoadConfig loads policy configuration from environment variables.
func LoadConfig() *Config {
	cfg := &Config{
		Enabled:     getEnvBool("TOOL_POLICY_ENABLED", false),
		Mode:        Mode(getEnvString("TOOL_POLICY_MODE", "off")),
		Path:        getEnvString("TOOL_POLICY_PATH", "/app/config/opa/policies"),
		FailClosed:  getEnvBool("TOOL_POLICY_FAIL_CLOSED", false),
		Environment: getEnvString("ENVIRONMENT", "dev"),
	}

	switch cfg.Mode {
	case ModeOff, ModeDryRun, ModeEnforce:
	case "":
		cfg.Mode = ModeOff
	default:
		cfg.Mode = ModeOff
	}

	return cfg
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}
