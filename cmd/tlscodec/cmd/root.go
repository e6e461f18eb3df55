package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheusHen/tlscodec/tlscodec/config"
	"github.com/TheusHen/tlscodec/tlscodec/observability"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tlscodec",
	Short: "Buffer-driven TLS codec tools",
	Long: `tlscodec drives TLS sessions entirely through caller-owned buffers.

The commands here exercise the codec locally, generate trust material for
it and inspect captured TLS record streams.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			loaded.Log.Level = "debug"
		}
		l, err := observability.SetupLogger(loaded.Log)
		if err != nil {
			return fmt.Errorf("setup logger: %w", err)
		}
		cfg = loaded
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./tlscodec.yaml, ./configs, ~/.tlscodec)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")
}
