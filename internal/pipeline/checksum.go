package pipeline

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"cloudy/internal/logger"
	"cloudy/internal/model"
	"cloudy/internal/remotepath"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// ChecksumFilter drops modified events whose content hash matches the last
// one seen for that path. Editors that rewrite files on save without changes
// would otherwise trigger a transfer each time.
type ChecksumFilter struct {
	root  string
	cache *lru.Cache
}

func NewChecksumFilter(root string, size int) (*ChecksumFilter, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create checksum cache: %w", err)
	}

	return &ChecksumFilter{
		root:  root,
		cache: cache,
	}, nil
}

func (cf *ChecksumFilter) Run(done <-chan struct{}, inCh <-chan model.FileEvent) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for {
			select {
			case <-done:
				return
			case event, ok := <-inCh:
				if !ok {
					return
				}
				if cf.Changed(event) && !send(done, outCh, event) {
					return
				}
			}
		}
	}()

	return outCh
}

// Changed reports whether event should continue down the pipeline.
func (cf *ChecksumFilter) Changed(event model.FileEvent) bool {
	switch event.Kind {
	case model.EventModified, model.EventCreated, model.EventInitialScan:
	default:
		cf.cache.Remove(event.Path)
		return true
	}

	sum, err := checksum(remotepath.Abs(event.Path, cf.root))
	if err != nil {
		logger.Log.Debug("checksum failed, passing through",
			zap.String("path", event.Path),
			zap.Error(err))
		cf.cache.Remove(event.Path)
		return true
	}

	if prev, ok := cf.cache.Get(event.Path); ok && bytes.Equal(prev.([]byte), sum) {
		logger.Log.Debug("checksum unchanged, skipping",
			zap.String("path", event.Path))
		return false
	}

	cf.cache.Add(event.Path, sum)
	return true
}

func checksum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}
