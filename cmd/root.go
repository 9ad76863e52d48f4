package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "morphoview",
		Short: "Slide management and inference backend",
		Long: `MorphoView stores uploaded pathology slides, serves them as Deep Zoom pyramids
and classifies them on demand, keeping per-slide priority and processing status.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yml", "Path to the YAML configuration")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable gin debug mode and debug logging")

	cmd.AddCommand(newServeCmd(opts, version))
	cmd.AddCommand(newReindexCmd(opts))

	return cmd
}
