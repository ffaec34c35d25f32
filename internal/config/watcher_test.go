package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus:\n  max_rounds: 4\n  models: [\"gpt-5\"]\n"), 0o600))

	loader := NewLoader().WithConfigFile(path)
	initial, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, 4, initial.Consensus.MaxRounds)

	w := NewWatcher(loader, initial, nil)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("consensus:\n  max_rounds: 8\n  models: [\"gpt-5\"]\n"), 0o600))

	assert.Eventually(t, func() bool {
		return w.Current().Consensus.MaxRounds == 8
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherWithoutBackingFileStaysStatic(t *testing.T) {
	loader := NewLoader()
	initial := &Config{Consensus: ConsensusConfig{MaxRounds: 4, Models: []string{"gpt-5"}}}

	w := NewWatcher(loader, initial, nil)
	t.Cleanup(func() { _ = w.Close() })

	assert.Equal(t, 4, w.Current().Consensus.MaxRounds)
}
