package cmd

import (
	"fmt"
	"os"

	"cloudy/internal/autostart"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Start watching the current directory on login",
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}

		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}

		as := autostart.New(wd)
		if err := as.Install(execPath); err != nil {
			return err
		}

		fmt.Printf("cloudy registered for autostart in %s\n", wd)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
