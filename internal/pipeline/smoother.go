package pipeline

import (
	"context"
	"time"
)

// progressSmoother emits synthetic progress ticks while a slow external call
// is in flight, purely to keep the client-visible bar moving. Ticks are
// bounded strictly below the stage ceiling and are always superseded by the
// real transition: stop() returns only after the tick loop has exited, so no
// synthetic tick can land after the stage advances.
type progressSmoother struct {
	stopCh chan struct{}
	doneCh chan struct{}
}

const smoothStep = 2

func (c *Coordinator) smoothProgress(taskID string, floor int, ceiling int) *progressSmoother {
	s := &progressSmoother{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(c.cfg.ProgressTick)
		defer ticker.Stop()

		next := floor
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				next += smoothStep
				if next >= ceiling {
					next = ceiling - 1
				}
				// The registry drops regressions, so a tick racing the real
				// transition can never pull progress backwards.
				if err := c.registry.SetProgress(context.Background(), taskID, next); err != nil {
					return
				}
			}
		}
	}()

	return s
}

func (s *progressSmoother) stop() {
	close(s.stopCh)
	<-s.doneCh
}
