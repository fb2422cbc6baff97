package model

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventCreated     EventKind = "created"
	EventModified    EventKind = "modified"
	EventRemoved     EventKind = "removed"
	EventRenamedIn   EventKind = "renamed-in"
	EventRenamedOut  EventKind = "renamed-out"
	EventInitialScan EventKind = "initial-scan-entry"
)

func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventCreated, EventModified, EventRemoved,
		EventRenamedIn, EventRenamedOut, EventInitialScan:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// FileEvent is one filesystem notification. Path is relative to the watch
// root and always uses forward slashes.
type FileEvent struct {
	Kind      EventKind
	Path      string
	Timestamp time.Time
}

type TransferOutcome struct {
	ID          string
	Kind        EventKind
	RelPath     string
	Source      string
	Destination string
	CommandLine string
	ExitCode    int
	Err         error
	StartedAt   time.Time
	Duration    time.Duration
}

func (o TransferOutcome) Succeeded() bool {
	return o.Err == nil
}
