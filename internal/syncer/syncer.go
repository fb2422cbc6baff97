package syncer

import (
	"cloudy/internal/model"
)

// EventSource delivers filesystem events for one rooted tree. Events closes
// when the source stops.
type EventSource interface {
	Events() <-chan model.FileEvent
	Errors() <-chan error
	Start() error
	Stop()
}

// Dispatcher hands a single changed path to the transfer layer without
// waiting for it to finish.
type Dispatcher interface {
	Dispatch(relPath string, kind model.EventKind)
}
