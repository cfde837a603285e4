// Package config resolves process bootstrap settings — the downstream
// child command to exec, the Comms Service bind host, and logging
// level/format. Per spec, no operator-facing operation ever consults
// this package; it exists only so cmd/orchestrator has somewhere to
// read process-level knobs from before the operator loop starts.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Logging controls the ambient logger.
type Logging struct {
	Level  string
	Format string
}

// Downstream controls how the child agent process is launched.
type Downstream struct {
	Command string
	Args    []string
}

// Comms controls the embedded agent-facing HTTP service.
type Comms struct {
	BindHost string
}

// Config is the full set of bootstrap settings.
type Config struct {
	Logging    Logging
	Downstream Downstream
	Comms      Comms
}

// Load resolves configuration from an optional agentorch.yaml in the
// working directory, overlaid by AGENTORCH_* environment variables, with
// sane defaults when neither is present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("agentorch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGENTORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("downstream.command", "codex-agent")
	v.SetDefault("downstream.args", []string{"exec", "--json"})
	v.SetDefault("comms.bind_host", "127.0.0.1")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	return &Config{
		Logging: Logging{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Downstream: Downstream{
			Command: v.GetString("downstream.command"),
			Args:    v.GetStringSlice("downstream.args"),
		},
		Comms: Comms{
			BindHost: v.GetString("comms.bind_host"),
		},
	}, nil
}
