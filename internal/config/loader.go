package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".pikels"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for pikels settings.
const envPrefix = "PIKELS"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) && !errors.Is(readErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("analyzer.command", DefaultAnalyzerCommand)
	viperCfg.SetDefault("analyzer.args", []string{})
	viperCfg.SetDefault("analyzer.request_timeout", DefaultAnalyzerRequestTimeout)
	viperCfg.SetDefault("analyzer.max_restarts", DefaultAnalyzerMaxRestarts)

	viperCfg.SetDefault("scheduler.background_grace", DefaultSchedulerBackgroundGrace)

	viperCfg.SetDefault("cache.max_paths", DefaultCacheMaxPaths)

	viperCfg.SetDefault("orchestrator.diagnostic_delay", DefaultOrchestratorDiagnosticDelay)
	viperCfg.SetDefault("orchestrator.max_number_of_problems", DefaultOrchestratorMaxNumberOfProblems)

	viperCfg.SetDefault("workspace.max_depth", DefaultWorkspaceMaxDepth)
	viperCfg.SetDefault("workspace.extensions", DefaultWorkspaceExtensions)
	viperCfg.SetDefault("workspace.exclude_names", DefaultWorkspaceExcludeNames)

	viperCfg.SetDefault("observability.enabled", DefaultObservabilityEnabled)
	viperCfg.SetDefault("observability.service_name", DefaultObservabilityServiceName)
	viperCfg.SetDefault("observability.otlp_endpoint", DefaultObservabilityOTLPEndpoint)
}
