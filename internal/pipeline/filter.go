package pipeline

import (
	"cloudy/internal/ignore"
	"cloudy/internal/logger"
	"cloudy/internal/model"

	"go.uber.org/zap"
)

func Filter(done <-chan struct{}, inCh <-chan model.FileEvent, matcher *ignore.Matcher) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for {
			var event model.FileEvent
			select {
			case <-done:
				return
			case e, ok := <-inCh:
				if !ok {
					return
				}
				event = e
			}

			if matcher.Match(event.Path, false) {
				logger.Log.Debug("ignored",
					zap.String("kind", string(event.Kind)),
					zap.String("path", event.Path))
				continue
			}
			if !send(done, outCh, event) {
				return
			}
		}
	}()

	return outCh
}
