package pipeline

import (
	"sync"
	"time"

	"cloudy/internal/model"
)

type pending struct {
	timer *time.Timer
	event model.FileEvent
	gen   uint64
}

// Debounce holds each path's latest event until delay passes without another
// event for that path. A non-positive delay disables it. Once done is closed,
// held events are discarded instead of waiting for a reader.
func Debounce(done <-chan struct{}, inCh <-chan model.FileEvent, delay time.Duration) <-chan model.FileEvent {
	if delay <= 0 {
		return inCh
	}

	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			gen     uint64
			waiting = make(map[string]*pending)
		)

	loop:
		for {
			var event model.FileEvent
			select {
			case <-done:
				break loop
			case e, ok := <-inCh:
				if !ok {
					break loop
				}
				event = e
			}
			path := event.Path

			mu.Lock()
			if p, ok := waiting[path]; ok && p.timer.Stop() {
				wg.Done()
			}

			gen++
			p := &pending{event: event, gen: gen}
			waiting[path] = p

			wg.Add(1)
			myGen := gen
			p.timer = time.AfterFunc(delay, func() {
				defer wg.Done()

				mu.Lock()
				cur, ok := waiting[path]
				if !ok || cur.gen != myGen {
					mu.Unlock()
					return
				}
				delete(waiting, path)
				mu.Unlock()

				send(done, outCh, cur.event)
			})
			mu.Unlock()
		}

		mu.Lock()
		var flush []model.FileEvent
		for path, p := range waiting {
			if p.timer.Stop() {
				flush = append(flush, p.event)
				delete(waiting, path)
				wg.Done()
			}
		}
		mu.Unlock()

		for _, event := range flush {
			if !send(done, outCh, event) {
				break
			}
		}

		wg.Wait()
		close(outCh)
	}()

	return outCh
}

// send delivers event unless done closes first.
func send(done <-chan struct{}, outCh chan<- model.FileEvent, event model.FileEvent) bool {
	select {
	case outCh <- event:
		return true
	case <-done:
		return false
	}
}
