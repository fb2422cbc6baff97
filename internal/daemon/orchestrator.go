package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"cloudy/internal/ignore"
	"cloudy/internal/logger"
	"cloudy/internal/metrics"
	"cloudy/internal/model"
	"cloudy/internal/pipeline"
	"cloudy/internal/remotepath"
	"cloudy/internal/syncer"
	"cloudy/internal/syncer/local"

	"go.uber.org/zap"
)

type State string

const (
	StateIdle        State = "idle"
	StateWatching    State = "watching"
	StateTerminating State = "terminating"
	StateStopped     State = "stopped"
)

var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrNotStarted     = errors.New("orchestrator not started")
	ErrSourceClosed   = errors.New("event source closed unexpectedly")
)

// Dispatcher is the part of dispatch.Dispatcher the orchestrator drives.
type Dispatcher interface {
	syncer.Dispatcher
	InFlight() int
	Close(ctx context.Context) error
}

// SourceFactory opens an event source rooted at root that skips whatever
// matcher excludes.
type SourceFactory func(root string, matcher *ignore.Matcher) (syncer.EventSource, error)

// LocalSource returns a factory for the fsnotify backed source.
func LocalSource(opts local.Options) SourceFactory {
	return func(root string, matcher *ignore.Matcher) (syncer.EventSource, error) {
		return local.NewSource(root, matcher, opts)
	}
}

type Options struct {
	Root               string
	IgnoreFile         string
	PropagateDeletions bool
	Debounce           time.Duration
	SkipUnchanged      bool
	ChecksumCacheSize  int
	Source             SourceFactory
	Dispatcher         Dispatcher
	Tracker            *Tracker
}

// Orchestrator owns the subscription to the event source and routes
// qualifying events to the dispatcher. Only modified files are synced, plus
// removals when deletion propagation is on; every other kind is dropped.
type Orchestrator struct {
	opts Options

	mu     sync.RWMutex
	state  State
	src    syncer.EventSource
	events <-chan model.FileEvent
	done   chan struct{}
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Tracker == nil {
		opts.Tracker = NewTracker(opts.Root, remotepath.Target{}, nil)
	}

	return &Orchestrator{
		opts:  opts,
		state: StateIdle,
	}
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Start subscribes to the event source. Any error here is fatal: an
// unreadable ignore file or an invalid root never leads to a partial watch.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	matcher, err := o.exclusions()
	if err != nil {
		return err
	}

	src, err := o.opts.Source(o.opts.Root, matcher)
	if err != nil {
		return fmt.Errorf("failed to create event source: %w", err)
	}
	if err := src.Start(); err != nil {
		return fmt.Errorf("failed to start event source: %w", err)
	}

	done := make(chan struct{})
	events := pipeline.Filter(done, src.Events(), matcher)
	events = pipeline.Debounce(done, events, o.opts.Debounce)
	if o.opts.SkipUnchanged {
		cf, err := pipeline.NewChecksumFilter(o.opts.Root, o.opts.ChecksumCacheSize)
		if err != nil {
			src.Stop()
			close(done)
			return err
		}
		events = cf.Run(done, events)
	}

	o.done = done
	o.src = src
	o.events = events
	o.state = StateWatching

	logger.Log.Info("watching",
		zap.String("root", o.opts.Root),
		zap.Bool("propagate_deletions", o.opts.PropagateDeletions),
		zap.Int("ignore_patterns", matcher.Len()))

	return nil
}

func (o *Orchestrator) exclusions() (*ignore.Matcher, error) {
	patterns := append([]string{}, ignore.Defaults...)

	if o.opts.IgnoreFile != "" {
		path := o.opts.IgnoreFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(o.opts.Root, path)
		}

		parsed, err := ignore.Parse(path)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, parsed...)
	}

	return ignore.NewMatcher(patterns)
}

// Run routes events until ctx is done or the source goes away. An error from
// the source ends the watch.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.RLock()
	src, events := o.src, o.events
	o.mu.RUnlock()

	if src == nil {
		return ErrNotStarted
	}

	errs := src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				if o.State() == StateWatching {
					return ErrSourceClosed
				}
				return nil
			}
			o.route(event)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("event source failed: %w", err)
		}
	}
}

func (o *Orchestrator) route(event model.FileEvent) {
	dispatch := event.Kind == model.EventModified ||
		(event.Kind == model.EventRemoved && o.opts.PropagateDeletions)

	if !dispatch {
		o.opts.Tracker.countDropped()
		metrics.EventsTotal.WithLabelValues(string(event.Kind), "dropped").Inc()
		logger.Log.Debug("event dropped",
			zap.String("kind", string(event.Kind)),
			zap.String("path", event.Path))
		return
	}

	o.opts.Tracker.countDispatched()
	metrics.EventsTotal.WithLabelValues(string(event.Kind), "dispatched").Inc()
	o.opts.Dispatcher.Dispatch(event.Path, event.Kind)
}

// Stop unsubscribes from the source and gives in-flight transfers until ctx
// is done to finish.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateWatching {
		if o.state == StateIdle {
			o.state = StateStopped
		}
		o.mu.Unlock()
		return nil
	}
	o.state = StateTerminating
	src := o.src
	o.mu.Unlock()

	src.Stop()
	close(o.done)
	err := o.opts.Dispatcher.Close(ctx)

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()

	if err != nil {
		logger.Log.Warn("transfers still running at shutdown were cancelled",
			zap.Error(err))
	}

	logger.Log.Info("watch stopped")
	return err
}

func (o *Orchestrator) Snapshot() model.Snapshot {
	return o.opts.Tracker.Snapshot(o.State(), o.opts.Dispatcher.InFlight())
}
