package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "concept-cli",
	Short: "Concept extraction and confidence pipeline",
	Long:  "Splits long documents into chunks, extracts principles, methods, frameworks and theories via a language model, scores each category and self-corrects weak ones.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
