package local

import (
	"cloudy/internal/ignore"
	"cloudy/internal/model"
	"cloudy/internal/syncer"
)

var _ syncer.EventSource = (*Source)(nil)

type Source struct {
	w    *Watcher
	root string
}

type Options struct {
	BufferSize  int
	InitialScan bool
}

func NewSource(root string, matcher *ignore.Matcher, opts Options) (*Source, error) {
	w, err := New(opts.BufferSize, matcher)
	if err != nil {
		return nil, err
	}
	w.EmitInitialScan(opts.InitialScan)

	return &Source{w: w, root: root}, nil
}

func (s *Source) Events() <-chan model.FileEvent {
	return s.w.Events()
}

func (s *Source) Errors() <-chan error {
	return s.w.Errors()
}

func (s *Source) Start() error {
	if err := s.w.Watch(s.root); err != nil {
		_ = s.w.fw.Close()
		return err
	}
	return nil
}

func (s *Source) Stop() {
	s.w.Stop()
}
