package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"easybox-network/internal/config"
	"easybox-network/internal/storage"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	verbose  bool
	cfg      *config.Config
	provider storage.Provider
)

var rootCmd = &cobra.Command{
	Use:   "easybox",
	Short: "Easybox locker network backend",
	Long:  `Reservation engine, locker registry and device gateway for the easybox locker network.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Commands other than server keep the terminal quiet
		level := slog.LevelError
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		config.Cfg = cfg

		provider = storage.NewProvider(context.Background(), &cfg.Storage)
		if provider == nil {
			slog.Error("Failed to initialize storage provider")
			os.Exit(1)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if provider != nil {
			provider.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fail reports err and exits. Deferred cleanup does not run.
func fail(msg string, err error, args ...any) {
	slog.Error(msg, append([]any{"error", err}, args...)...)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	if provider != nil {
		provider.Close()
	}
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./instance/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}
