package model

import "time"

type Snapshot struct {
	State      string     `json:"state"`
	Root       string     `json:"root"`
	Target     string     `json:"target"`
	StartedAt  time.Time  `json:"started_at"`
	Dispatched int        `json:"dispatched"`
	Dropped    int        `json:"dropped"`
	Synced     int        `json:"synced"`
	Failed     int        `json:"failed"`
	InFlight   int        `json:"in_flight"`
	LastSync   *time.Time `json:"last_sync"`
}
