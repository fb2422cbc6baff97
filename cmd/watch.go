package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloudy/internal/daemon"
	"cloudy/internal/db"
	"cloudy/internal/dispatch"
	"cloudy/internal/logger"
	"cloudy/internal/repository"
	"cloudy/internal/rsync"
	"cloudy/internal/syncer/local"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the current directory and sync modified files",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	tracker := daemon.NewTracker(wd, cfg.Target(), history)
	dispatcher := newDispatcher(wd, tracker)

	orch := daemon.NewOrchestrator(daemon.Options{
		Root:               wd,
		IgnoreFile:         cfg.IgnoreFile,
		PropagateDeletions: cfg.PropagateDeletions,
		Debounce:           cfg.Debounce,
		SkipUnchanged:      cfg.SkipUnchanged,
		ChecksumCacheSize:  cfg.ChecksumCacheSize,
		Source: daemon.LocalSource(local.Options{
			BufferSize:  cfg.BufferSize,
			InitialScan: cfg.InitialScan,
		}),
		Dispatcher: dispatcher,
		Tracker:    tracker,
	})

	fmt.Println()
	fmt.Println("☁️  Cloudy start!")
	fmt.Println()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return err
	}

	logger.Log.Info("cloudy started",
		zap.String("root", wd),
		zap.String("target", cfg.Target().String()),
		zap.String("mode", string(cfg.DispatchMode)),
		zap.Int("status_port", cfg.StatusPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})

	if cfg.StatusPort > 0 {
		srv := daemon.NewServer(orch, history, cfg.StatusPort)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, daemon.ErrStopRequested) {
		logger.Log.Info("stop requested via API")
		runErr = nil
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = orch.Stop(graceCtx)

	fmt.Println()
	fmt.Println("☁️  Cloudy off!")
	fmt.Println()

	return runErr
}

func newDispatcher(wd string, recorder dispatch.Recorder) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Options{
		Target:             cfg.Target(),
		WorkDir:            wd,
		Runner:             rsync.ExecRunner{},
		Binary:             cfg.RsyncPath,
		Shell:              cfg.Shell,
		Flags:              cfg.Flags,
		PropagateDeletions: cfg.PropagateDeletions,
		Mode:               dispatch.Mode(cfg.DispatchMode),
		Console:            os.Stdout,
		Recorder:           recorder,
	})
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
