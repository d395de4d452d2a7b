package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"quote_alert_backend/services/alerts"

	"github.com/go-co-op/gocron"
)

// AlertRunner evaluates every armed alert once
type AlertRunner interface {
	Run(ctx context.Context) (alerts.RunSummary, error)
}

// HistoryPruner removes old trigger history
type HistoryPruner interface {
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron      *gocron.Scheduler
	runner    AlertRunner
	pruner    HistoryPruner
	interval  time.Duration
	retention time.Duration
}

// NewScheduler creates a new scheduler instance
func NewScheduler(runner AlertRunner, pruner HistoryPruner, interval, retention time.Duration) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:      cron,
		runner:    runner,
		pruner:    pruner,
		interval:  interval,
		retention: retention,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() error {
	log.Println("Starting scheduler...")

	// Evaluate alerts on a fixed cadence; a slow run delays the next one instead of overlapping
	if _, err := s.cron.Every(s.interval).Do(s.checkAlerts); err != nil {
		return err
	}

	// Prune trigger history weekly on Sunday at 01:00
	if s.pruner != nil && s.retention > 0 {
		if _, err := s.cron.Every(1).Week().Sunday().At("01:00").Do(s.cleanupHistory); err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// checkAlerts runs one alert evaluation batch
func (s *Scheduler) checkAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if _, err := s.runner.Run(ctx); err != nil {
		if errors.Is(err, alerts.ErrRunInProgress) {
			log.Println("Alert run still in progress, skipping")
			return
		}
		log.Printf("ERROR: alert run failed: %v", err)
	}
}

// cleanupHistory removes trigger history older than the retention period
func (s *Scheduler) cleanupHistory() {
	log.Println("Cleaning up old trigger history...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.pruner.PruneHistory(ctx, time.Now().Add(-s.retention))
	if err != nil {
		log.Printf("Error cleaning up trigger history: %v", err)
		return
	}
	log.Printf("Cleanup completed (%d history entries removed)", n)
}
