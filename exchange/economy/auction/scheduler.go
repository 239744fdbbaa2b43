package auction

import (
	"context"
	"sync"
	"time"
)

const sweepTimeout = 30 * time.Second

// Scheduler drives the expiry sweep on a fixed interval.
type Scheduler struct {
	manager  *Manager
	ticker   *time.Ticker
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{
		manager:  manager,
		shutdown: make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.manager.cfg.SweepInterval)
	go func() {
		defer s.ticker.Stop()
		for {
			select {
			case <-s.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
				s.manager.SweepExpired(ctx)
				cancel()
			case <-s.shutdown:
				return
			}
		}
	}()
}

func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
	})
}
