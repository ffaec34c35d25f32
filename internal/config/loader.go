package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from flags, environment, config
// file, and defaults, in that precedence order (§10.3).
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	mu         sync.Mutex
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "CONSENSUSCORE"}
}

// NewLoaderWithViper creates a loader over an existing viper instance, for
// integration with cobra flag binding.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: "CONSENSUSCORE"}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from all sources and unmarshals it into a
// Config. Precedence (highest to lowest): CLI flags bound via
// viper.BindPFlag, CONSENSUSCORE_* environment variables, a project
// .consensuscore/config.yaml, defaults.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(filepath.Join(".consensuscore"))
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// ConfigFile returns the config file path actually used, if any.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("consensus.max_rounds", 4)
	l.v.SetDefault("consensus.models", []string{})
	l.v.SetDefault("consensus.adaptive_thresholds", map[string]float64{})
	l.v.SetDefault("consensus.stagnation_threshold", 0.0)
	l.v.SetDefault("consensus.min_reply_bytes", 0)

	l.v.SetDefault("dispatch.round_timeout", "2m")
	l.v.SetDefault("dispatch.per_model_timeout", "45s")

	l.v.SetDefault("costs.store_path", ".consensuscore/costs.db")
	l.v.SetDefault("costs.alert_threshold", 0.0)
}
