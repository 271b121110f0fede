// Package scheduler runs the recurring jobs: regime/stress refresh, WAL
// checkpoints, weekly VACUUM and the offsite backup. Every execution is
// recorded in job history so the API can report when each job last ran.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns the job name
func (j JobFunc) Name() string { return j.JobName }

// Run executes the job
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler wraps a cron runner with job-history recording and panic
// isolation. Jobs run sequentially per schedule entry; a slow job never
// blocks the other entries.
type Scheduler struct {
	cron    *cron.Cron
	history *JobHistoryRepository
	log     zerolog.Logger

	mu      sync.Mutex
	started bool
}

// New creates a scheduler
func New(history *JobHistoryRepository, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		history: history,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a job on a cron schedule (standard 5-field spec).
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.RunNow(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	s.log.Info().Str("job", job.Name()).Str("schedule", spec).Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, recording its outcome in history. A
// panicking job is caught and recorded as a failure.
func (s *Scheduler) RunNow(ctx context.Context, job Job) {
	id, err := s.history.RecordStart(job.Name())
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Failed to record job start")
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("job", job.Name()).Msg("Job panicked")
			s.finish(id, false, fmt.Sprintf("panic: %v", r))
		}
	}()

	s.log.Info().Str("job", job.Name()).Msg("Job starting")
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		s.finish(id, false, err.Error())
		return
	}
	s.log.Info().Str("job", job.Name()).Msg("Job completed")
	s.finish(id, true, "")
}

func (s *Scheduler) finish(id int64, success bool, message string) {
	if id == 0 {
		return
	}
	if err := s.history.RecordFinish(id, success, message); err != nil {
		s.log.Error().Err(err).Int64("id", id).Msg("Failed to record job finish")
	}
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}
