// Package dispatch turns changed paths into rsync transfers.
//
// Dispatch never blocks on a transfer. In ModeQueue a path has at most one
// transfer in flight; events that arrive for a busy path are folded into a
// single follow-up transfer that starts when the current one completes. In
// ModeConcurrent every event starts its own transfer and completions are
// unordered.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"cloudy/internal/logger"
	"cloudy/internal/metrics"
	"cloudy/internal/model"
	"cloudy/internal/remotepath"
	"cloudy/internal/rsync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeQueue      Mode = "queue"
	ModeConcurrent Mode = "concurrent"
)

type Recorder interface {
	Record(outcome model.TransferOutcome)
}

type RecorderFunc func(outcome model.TransferOutcome)

func (f RecorderFunc) Record(outcome model.TransferOutcome) {
	f(outcome)
}

type Options struct {
	Target             remotepath.Target
	WorkDir            string
	Runner             rsync.Runner
	Binary             string
	Shell              string
	Flags              string
	PropagateDeletions bool
	Mode               Mode
	Console            io.Writer
	Recorder           Recorder
}

type slot struct {
	dirty bool
	kind  model.EventKind
}

type Dispatcher struct {
	opts     Options
	console  *syncWriter
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight atomic.Int64

	mu   sync.Mutex
	busy map[string]*slot
}

func New(opts Options) *Dispatcher {
	if opts.Runner == nil {
		opts.Runner = rsync.ExecRunner{}
	}
	if opts.Shell == "" {
		opts.Shell = rsync.DefaultShell
	}
	if opts.Flags == "" {
		opts.Flags = rsync.DefaultFlags
	}
	if opts.Mode == "" {
		opts.Mode = ModeQueue
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		opts:    opts,
		console: &syncWriter{w: opts.Console},
		ctx:     ctx,
		cancel:  cancel,
		busy:    make(map[string]*slot),
	}
}

// Build resolves relPath and returns the rsync invocation for it. With
// deletion propagation on, a removed file is synced by syncing its parent
// directory without recursion, filtered down to the removed name, so
// --delete touches nothing else on the remote.
func (d *Dispatcher) Build(relPath string, kind model.EventKind) *rsync.Command {
	dir := remotepath.Dir(relPath)
	source := remotepath.Abs(relPath, d.opts.WorkDir)
	del := d.opts.PropagateDeletions && kind == model.EventRemoved

	if del {
		source = filepath.ToSlash(remotepath.Abs(dir, d.opts.WorkDir))
		if source[len(source)-1] != '/' {
			source += "/"
		}
	}

	cmd := rsync.New().
		WithBinary(d.opts.Binary).
		WithShell(d.opts.Shell).
		WithFlags(d.opts.Flags).
		WithSource(source).
		WithDestination(remotepath.Compose(dir, d.opts.Target)).
		WithDelete(del)
	if del {
		cmd.WithOnly(path.Base(filepath.ToSlash(relPath)))
	}
	return cmd
}

func (d *Dispatcher) Dispatch(relPath string, kind model.EventKind) {
	if d.ctx.Err() != nil {
		logger.Log.Warn("dispatcher closed, dropping event",
			zap.String("path", relPath))
		return
	}

	if d.opts.Mode == ModeConcurrent {
		d.start(relPath, kind)
		return
	}

	d.mu.Lock()
	if s, ok := d.busy[relPath]; ok {
		if s.dirty {
			metrics.TransfersCoalesced.Inc()
		}
		s.dirty = true
		s.kind = kind
		d.mu.Unlock()

		logger.Log.Debug("transfer in flight, queued follow-up",
			zap.String("path", relPath))
		return
	}
	d.busy[relPath] = &slot{}
	d.mu.Unlock()

	d.start(relPath, kind)
}

func (d *Dispatcher) start(relPath string, kind model.EventKind) {
	cmd := d.Build(relPath, kind)
	d.console.Println(cmd.String())

	d.wg.Add(1)
	d.inFlight.Add(1)
	metrics.TransfersInFlight.Inc()

	id := uuid.New().String()[:8]
	startedAt := time.Now()

	logger.Log.Debug("transfer started",
		zap.String("id", id),
		zap.String("kind", string(kind)),
		zap.String("path", relPath))

	cmd.Execute(d.ctx, d.opts.Runner, func(err error, code int, cmdline string) {
		defer d.wg.Done()

		d.inFlight.Add(-1)
		metrics.TransfersInFlight.Dec()

		d.complete(model.TransferOutcome{
			ID:          id,
			Kind:        kind,
			RelPath:     relPath,
			Source:      cmd.Source,
			Destination: cmd.Destination,
			CommandLine: cmdline,
			ExitCode:    code,
			Err:         err,
			StartedAt:   startedAt,
			Duration:    time.Since(startedAt),
		})

		if d.opts.Mode == ModeQueue {
			d.next(relPath)
		}
	})
}

func (d *Dispatcher) next(relPath string) {
	d.mu.Lock()
	s, ok := d.busy[relPath]
	if !ok || !s.dirty || d.ctx.Err() != nil {
		delete(d.busy, relPath)
		d.mu.Unlock()
		return
	}

	kind := s.kind
	s.dirty = false
	d.mu.Unlock()

	d.start(relPath, kind)
}

// RunOnce performs one transfer synchronously.
func (d *Dispatcher) RunOnce(ctx context.Context, relPath string, kind model.EventKind) model.TransferOutcome {
	cmd := d.Build(relPath, kind)
	cmdline := cmd.String()
	d.console.Println(cmdline)

	startedAt := time.Now()
	res := d.opts.Runner.Run(ctx, cmd)

	outcome := model.TransferOutcome{
		ID:          uuid.New().String()[:8],
		Kind:        kind,
		RelPath:     relPath,
		Source:      cmd.Source,
		Destination: cmd.Destination,
		CommandLine: cmdline,
		ExitCode:    res.ExitCode,
		Err:         res.Err,
		StartedAt:   startedAt,
		Duration:    time.Since(startedAt),
	}
	d.complete(outcome)

	return outcome
}

func (d *Dispatcher) complete(o model.TransferOutcome) {
	result := "success"
	if o.Err != nil {
		result = "failure"

		d.console.Println(o.Err)
		logger.Log.Error("transfer failed",
			zap.String("id", o.ID),
			zap.String("path", o.RelPath),
			zap.String("dst", o.Destination),
			zap.Int("exit_code", o.ExitCode),
			zap.Error(o.Err))
	} else {
		changeText := "deleted"
		if o.Kind == model.EventModified {
			changeText = "updated"
		}

		d.console.Println(o.CommandLine)
		d.console.Printf("☁️  Cloudy synced: %s %s\n", o.RelPath, changeText)
		logger.Log.Info("synced",
			zap.String("id", o.ID),
			zap.String("kind", string(o.Kind)),
			zap.String("path", o.RelPath),
			zap.String("dst", o.Destination),
			zap.Duration("took", o.Duration))
	}

	metrics.TransfersTotal.WithLabelValues(string(o.Kind), result).Inc()
	metrics.TransferDuration.WithLabelValues(result).Observe(o.Duration.Seconds())

	if d.opts.Recorder != nil {
		d.opts.Recorder.Record(o)
	}
}

func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Wait blocks until every started and queued transfer has completed or ctx
// is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for outstanding transfers until ctx is done, then kills
// whatever is still running. Later events are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	err := d.Wait(ctx)
	d.cancel()
	return err
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Println(a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, a...)
}

func (s *syncWriter) Printf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, format, a...)
}
