package config

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// WriteYAML atomically persists cfg as YAML to path: it writes to a temp
// file in the same directory and renames it over the target, so a crash
// mid-write never leaves a torn config file (§10.3).
func WriteYAML(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	return renameio.WriteFile(path, data, 0o600)
}
