package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteYAMLRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{Consensus: ConsensusConfig{MaxRounds: 5, Models: []string{"gpt-5"}}}

	require.NoError(t, WriteYAML(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var roundTripped Config
	require.NoError(t, yaml.Unmarshal(data, &roundTripped))
	require.Equal(t, 5, roundTripped.Consensus.MaxRounds)
	require.Equal(t, []string{"gpt-5"}, roundTripped.Consensus.Models)
}

func TestWriteYAMLOverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteYAML(path, &Config{Consensus: ConsensusConfig{MaxRounds: 3}}))
	require.NoError(t, WriteYAML(path, &Config{Consensus: ConsensusConfig{MaxRounds: 7}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.Equal(t, 7, cfg.Consensus.MaxRounds)
}
