package daemon

import (
	"sync"
	"time"

	"cloudy/internal/logger"
	"cloudy/internal/model"
	"cloudy/internal/remotepath"
	"cloudy/internal/repository"

	"go.uber.org/zap"
)

// Tracker counts what the orchestrator and dispatcher did and persists each
// transfer outcome when a history repository is configured.
type Tracker struct {
	mu         sync.RWMutex
	root       string
	target     remotepath.Target
	startedAt  time.Time
	dispatched int
	dropped    int
	synced     int
	failed     int
	lastSync   *time.Time
	history    *repository.HistoryRepository
}

func NewTracker(root string, target remotepath.Target, history *repository.HistoryRepository) *Tracker {
	return &Tracker{
		root:      root,
		target:    target,
		startedAt: time.Now(),
		history:   history,
	}
}

func (t *Tracker) Record(outcome model.TransferOutcome) {
	t.mu.Lock()
	t.lastSync = new(time.Now())
	if outcome.Err != nil {
		t.failed++
	} else {
		t.synced++
	}
	t.mu.Unlock()

	if t.history == nil {
		return
	}

	if err := t.history.Save(outcome); err != nil {
		logger.Log.Warn("failed to save history",
			zap.String("id", outcome.ID),
			zap.Error(err))
	}
}

func (t *Tracker) countDispatched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatched++
}

func (t *Tracker) countDropped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped++
}

func (t *Tracker) Snapshot(state State, inFlight int) model.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return model.Snapshot{
		State:      string(state),
		Root:       t.root,
		Target:     t.target.String(),
		StartedAt:  t.startedAt,
		Dispatched: t.dispatched,
		Dropped:    t.dropped,
		Synced:     t.synced,
		Failed:     t.failed,
		InFlight:   inFlight,
		LastSync:   t.lastSync,
	}
}
