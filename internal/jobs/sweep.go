package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper drops state that expired by now and reports how much it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweepJob drives every registered sweeper from one ticker.
type SweepJob struct {
	sweepers map[string]Sweeper
	order    []string
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweepJob(interval time.Duration) *SweepJob {
	return &SweepJob{
		sweepers: make(map[string]Sweeper),
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Register adds a named sweeper. Call before Start.
func (j *SweepJob) Register(name string, s Sweeper) {
	if _, ok := j.sweepers[name]; !ok {
		j.order = append(j.order, name)
	}
	j.sweepers[name] = s
}

func (j *SweepJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Strs("sweepers", j.order).Msg("sweep job started")
}

// Stop ends the job and waits for an in-flight sweep to finish.
func (j *SweepJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("sweep job stopped")
	})
}

func (j *SweepJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	now := j.now()
	for _, name := range j.order {
		j.runSweep(name, j.sweepers[name], now)
	}
}

func (j *SweepJob) runSweep(name string, s Sweeper, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("sweeper", name).Msg("sweep panicked")
		}
	}()

	if count := s.Sweep(now); count > 0 {
		log.Info().Int("count", count).Str("sweeper", name).Msg("swept expired entries")
	}
}
