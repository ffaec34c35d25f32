package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"consensuscore", "--help"}
	err := Execute()
	assert.NoError(t, err)
}

func TestInitConfig(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()

	t.Run("no config file means no models, which is invalid", func(t *testing.T) {
		viper.Reset()
		cfgFile = ""

		require.NoError(t, os.Chdir(tmpDir))

		err := initConfig()
		assert.Error(t, err, "consensus.models is required and has no default")
	})

	t.Run("with config file supplying models", func(t *testing.T) {
		viper.Reset()
		cfgFile = ""

		consensuscoreDir := filepath.Join(tmpDir, ".consensuscore")
		require.NoError(t, os.MkdirAll(consensuscoreDir, 0o755))

		yaml := "consensus:\n  max_rounds: 3\n  models:\n    - model-a\n    - model-b\n"
		require.NoError(t, os.WriteFile(filepath.Join(consensuscoreDir, "config.yaml"), []byte(yaml), 0o644))

		require.NoError(t, os.Chdir(tmpDir))

		err := initConfig()
		assert.NoError(t, err)
		assert.NotNil(t, logger)
	})
}

func TestCurrentConfigReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()

	viper.Reset()
	cfgFile = ""
	require.NoError(t, os.Chdir(tmpDir))

	cfg, err := currentConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Consensus.MaxRounds)
	assert.Equal(t, ".consensuscore/costs.db", cfg.Costs.StorePath)
}

func TestRootCommandRegistersPersistentFlags(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, flag)
	flag = rootCmd.PersistentFlags().Lookup("log-level")
	assert.NotNil(t, flag)
	flag = rootCmd.PersistentFlags().Lookup("log-format")
	assert.NotNil(t, flag)
}
