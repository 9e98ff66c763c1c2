package rotation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartJanitor evicts sessions idle for longer than ttl every interval until ctx is done.
// onSweep, when non-nil, receives the number of live sessions after each sweep.
func StartJanitor(
	ctx context.Context,
	log *zap.SugaredLogger,
	s *Sessions,
	interval, ttl time.Duration,
	onSweep func(remaining int),
	keep ...string,
) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			evicted := s.Sweep(now, ttl, keep...)
			remaining := s.Len()
			if len(evicted) > 0 {
				log.Infow("evicted idle sessions", "count", len(evicted), "remaining", remaining)
				log.Debugw("evicted session ids", "sessions", evicted)
			}
			if onSweep != nil {
				onSweep(remaining)
			}
		}
	}
}
