// Package schedule runs a job once at startup and then every day at a
// fixed wall-clock time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Daily is a once-a-day trigger at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// NewDaily validates the clock time. A nil location means UTC.
func NewDaily(hour, minute int, loc *time.Location) (Daily, error) {
	if hour < 0 || hour > 23 {
		return Daily{}, fmt.Errorf("hour %d out of range 0-23", hour)
	}
	if minute < 0 || minute > 59 {
		return Daily{}, fmt.Errorf("minute %d out of range 0-59", minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Daily{Hour: hour, Minute: minute, Location: loc}, nil
}

// Next returns the first trigger time strictly after t.
func (d Daily) Next(t time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", d.Hour, d.Minute, d.Location)
}

// Job is one scheduled unit of work. A returned error is logged and does
// not stop the schedule.
type Job func(ctx context.Context) error

// Scheduler invokes a Job synchronously, so runs never overlap.
type Scheduler struct {
	daily Daily
	job   Job
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithAfter replaces time.After.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.after = after
	}
}

// New creates a scheduler for job.
func New(daily Daily, job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		daily: daily,
		job:   job,
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the job immediately, then at every trigger time until ctx
// is cancelled. Cancellation is a clean stop and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "schedule", s.daily.String())

	s.invoke(ctx)

	for {
		if ctx.Err() != nil {
			break
		}
		next := s.daily.Next(s.now())
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		slog.Info("next run scheduled", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second).String())

		select {
		case <-ctx.Done():
		case <-s.after(wait):
			s.invoke(ctx)
		}
	}

	slog.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) invoke(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.job(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scheduled run failed", "error", err)
	}
}
