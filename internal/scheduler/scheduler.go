// Package scheduler runs the background jobs that keep the account moving
// between API calls: stop-loss sweeps, quote refreshes, daily snapshots,
// cache maintenance, and cloud backups.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned for job names that were never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobInfo describes a registered job for the system status endpoint.
type JobInfo struct {
	Name      string     `json:"name"`
	Schedules []string   `json:"schedules"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type jobEntry struct {
	job       Job
	schedules []string
	lastRun   time.Time
	lastError error
}

// Scheduler manages background jobs. Every registered job is tracked by
// name so it can be listed and triggered manually over the API.
type Scheduler struct {
	cron  *cron.Cron
	mu    sync.RWMutex
	jobs  map[string]*jobEntry
	order []string
	log   zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		jobs: make(map[string]*jobEntry),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a cron schedule (six fields, seconds first,
// "CRON_TZ=" prefixes supported). Registering the same job again under a
// different schedule adds another trigger for it.
//
// Schedule examples:
//   - "0 */5 * * * *"        - Every 5 minutes
//   - "0 0 10 * * 1-5"       - 10:00 on weekdays
//   - "@hourly"              - Every hour
func (s *Scheduler) AddJob(schedule string, job Job) error {
	name := job.Name()

	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", name).Msg("Running job")

		if err := s.runTracked(name); err != nil {
			s.log.Error().
				Err(err).
				Str("job", name).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", name).Msg("Job completed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	entry, ok := s.jobs[name]
	if !ok {
		entry = &jobEntry{job: job}
		s.jobs[name] = entry
		s.order = append(s.order, name)
	}
	entry.schedules = append(entry.schedules, schedule)
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", name).
		Msg("Job registered")

	return nil
}

// RunNow executes a registered job immediately (outside schedule)
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.runTracked(name)
}

// Jobs returns the registered jobs in registration order, with their
// last run time and last error if any.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.order))
	for _, name := range s.order {
		entry := s.jobs[name]
		info := JobInfo{
			Name:      name,
			Schedules: append([]string(nil), entry.schedules...),
		}
		if !entry.lastRun.IsZero() {
			lastRun := entry.lastRun
			info.LastRun = &lastRun
		}
		if entry.lastError != nil {
			info.LastError = entry.lastError.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

func (s *Scheduler) runTracked(name string) error {
	s.mu.RLock()
	entry, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	started := time.Now().UTC()
	err := entry.job.Run()

	s.mu.Lock()
	entry.lastRun = started
	entry.lastError = err
	s.mu.Unlock()

	return err
}
