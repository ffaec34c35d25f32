package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumcore/consensus-core/internal/config"
	"github.com/quorumcore/consensus-core/internal/consensus"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate configuration and print the resolved temperature schedule",
	Long: `doctor checks that the current configuration is valid and, for each
configured model, prints the temperature it would receive in every round
of the configured round budget — a sanity check before a real run.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("Validating configuration...")
	if err := config.Validate(cfg); err != nil {
		fmt.Println("  ✗ invalid configuration:")
		fmt.Printf("    %s\n", err)
		return fmt.Errorf("configuration invalid")
	}
	fmt.Println("  ✓ configuration valid")
	fmt.Println()

	fmt.Printf("Round budget: %d rounds\n", cfg.Consensus.MaxRounds)
	if len(cfg.Consensus.Models) == 0 {
		fmt.Println("No models configured; nothing to schedule.")
		return nil
	}

	fmt.Println()
	fmt.Println("Temperature schedule:")
	for _, modelID := range cfg.Consensus.Models {
		fmt.Printf("  %s\n", modelID)
		for r := 1; r <= cfg.Consensus.MaxRounds; r++ {
			temp := consensus.Temperature(modelID, r, cfg.Consensus.MaxRounds)
			fmt.Printf("    round %d: %.1f\n", r, temp)
		}
	}

	if len(cfg.Consensus.AdaptiveThresholds) > 0 {
		fmt.Println()
		fmt.Println("Adaptive majority thresholds (rounds ≥ 2):")
		for taskType, shift := range cfg.Consensus.AdaptiveThresholds {
			fmt.Printf("  %s: %+.2f\n", taskType, shift)
		}
	}

	return nil
}
