package cmd

import (
	"fmt"
	"os"

	"cloudy/internal/config"
	"cloudy/internal/db"
	"cloudy/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg   *config.Config
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "cloudy",
	Short: "Mirror local file changes to a remote host with rsync",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		logger.Init(debug, logger.FileOptions{
			Path:      cfg.LogFile,
			MaxSizeMB: cfg.LogMaxSizeMB,
		})

		clientCmds := map[string]bool{
			"status": true, "history": true, "stop": true,
			"install": true, "uninstall": true,
		}
		if !clientCmds[cmd.Name()] && cfg.DBPath != "" {
			if err := db.Init(cfg.DBPath); err != nil {
				return err
			}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = db.Close()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func statusURL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", cfg.StatusPort, path)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
}
