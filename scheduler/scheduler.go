package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"h2s_notifier/config"
	"h2s_notifier/models"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("run already in progress")

// Runner performs one complete pass over every group.
type Runner interface {
	RunAll(ctx context.Context) (*models.Run, error)
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	// running is held for the duration of a run.
	running sync.Mutex
}

func New(cfg config.SchedulerConfig, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		stopCh: make(chan struct{}),
	}
}

// Start runs once immediately and then on the configured cron expression or
// interval. Cron takes precedence when both are set.
func (s *Scheduler) Start(ctx context.Context) error {
	switch {
	case s.cfg.Cron != "":
		if _, err := cron.ParseStandard(s.cfg.Cron); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		if _, err := s.cron.AddFunc(s.cfg.Cron, func() { s.tick(ctx) }); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	case s.cfg.Interval > 0:
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.tick(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		return errors.New("no schedule configured: set SCRAPE_CRON or SCRAPE_INTERVAL, or use -once")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx)
	}()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.TriggerNow(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			log.Println("Previous run still in progress, skipping")
			return
		}
		log.Printf("Scheduled run error: %v", err)
	}
}

// TriggerNow runs immediately unless another run is active.
func (s *Scheduler) TriggerNow(ctx context.Context) (*models.Run, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()
	return s.runner.RunAll(ctx)
}

// Stop halts scheduling and waits for an active run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
}
