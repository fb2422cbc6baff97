package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloudy/internal/db"
	"cloudy/internal/dispatch"
	"cloudy/internal/logger"
	"cloudy/internal/model"
	"cloudy/internal/remotepath"
	"cloudy/internal/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pushCmd = &cobra.Command{
	Use:   "push [file...]",
	Short: "Sync the given files once without watching",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		if err := cfg.Validate(); err != nil {
			return err
		}

		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}

		var history *repository.HistoryRepository
		if db.DB != nil {
			history = repository.NewHistoryRepository()
		}

		var synced, failed int
		dispatcher := newDispatcher(wd, dispatch.RecorderFunc(func(outcome model.TransferOutcome) {
			if history == nil {
				return
			}
			if err := history.Save(outcome); err != nil {
				logger.Log.Warn("failed to save history",
					zap.String("path", outcome.RelPath),
					zap.Error(err))
			}
		}))

		for _, arg := range args {
			rel, err := relativeTo(wd, arg)
			if err != nil {
				return err
			}

			outcome := dispatcher.RunOnce(cmd.Context(), rel, model.EventModified)
			if outcome.Err != nil {
				failed++
			} else {
				synced++
			}
		}

		fmt.Printf("done: %d synced, %d failed\n", synced, failed)
		if failed > 0 {
			return fmt.Errorf("%d transfers failed", failed)
		}
		return nil
	},
}

// relativeTo turns a command-line file path into a watch-root-relative path.
// Directories are refused: rsync would nest them one level too deep.
func relativeTo(wd, arg string) (string, error) {
	abs := remotepath.Abs(arg, wd)

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return "", fmt.Errorf("%s is a directory, push takes files", arg)
	}

	rel, err := filepath.Rel(wd, abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", arg, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the working directory", arg)
	}

	return filepath.ToSlash(rel), nil
}

func init() {
	rootCmd.AddCommand(pushCmd)
}
