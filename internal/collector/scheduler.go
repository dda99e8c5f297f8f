package collector

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler runs a collection function on a fixed interval. It performs an
// initial run on start and stops cleanly when asked.
type Scheduler struct {
	name     string
	interval time.Duration
	run      func(context.Context)
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a scheduler that invokes run every interval.
func NewScheduler(name string, interval time.Duration, run func(context.Context)) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		run:      run,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic runs.
func (s *Scheduler) Start() {
	log.Printf("starting %s scheduler with interval: %s", s.name, s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-s.stopChan
			cancel()
		}()

		// Perform an initial run on startup
		s.run(ctx)

		for {
			select {
			case <-ticker.C:
				s.run(ctx)
			case <-s.stopChan:
				log.Printf("stopping %s scheduler...", s.name)
				return
			}
		}
	}()
}

// Stop shuts down the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	log.Printf("%s scheduler stopped", s.name)
}
