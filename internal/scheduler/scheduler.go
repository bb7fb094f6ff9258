// Package scheduler runs a job once a day at a fixed wall-clock time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetryDelay is the pause after a failed run.
const DefaultRetryDelay = time.Hour

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// NextRun returns the first hour:minute in loc strictly after now. The
// following day is computed with AddDate so DST changes and month ends
// are handled by the calendar, not by adding 24h.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		tomorrow := local.AddDate(0, 0, 1)
		next = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, minute, 0, 0, loc)
	}
	return next
}

// Config holds the daily schedule.
type Config struct {
	Hour       int
	Minute     int
	Location   *time.Location
	RetryDelay time.Duration
}

func (c Config) Validate() error {
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("invalid hour %d", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("invalid minute %d", c.Minute)
	}
	return nil
}

// Daily sleeps until the next scheduled time, runs the job, and repeats.
// After a failed run it waits RetryDelay before computing the next time.
type Daily struct {
	config Config
	now    func() time.Time
	after  func(d time.Duration) <-chan time.Time
}

func NewDaily(config Config) (*Daily, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	return &Daily{config: config, now: time.Now, after: time.After}, nil
}

// Next returns the next run time after now.
func (d *Daily) Next() time.Time {
	return NextRun(d.now(), d.config.Hour, d.config.Minute, d.config.Location)
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (d *Daily) Run(ctx context.Context, job Job) error {
	slog.InfoContext(ctx, "Scheduler started",
		"daily_at", fmt.Sprintf("%02d:%02d", d.config.Hour, d.config.Minute),
		"timezone", d.config.Location.String())

	for {
		next := d.Next()
		slog.InfoContext(ctx, "Next check scheduled", "at", next.Format("2006-01-02 15:04:05 MST"))
		if err := d.sleep(ctx, next.Sub(d.now())); err != nil {
			slog.InfoContext(ctx, "Scheduler stopped")
			return err
		}

		slog.InfoContext(ctx, "Running scheduled check")
		if err := d.runJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "Scheduled check failed", "error", err, "retry_in", d.config.RetryDelay.String())
			if err := d.sleep(ctx, d.config.RetryDelay); err != nil {
				slog.InfoContext(ctx, "Scheduler stopped")
				return err
			}
		}
	}
}

// runJob turns a panic in the job into an error so the loop survives.
func (d *Daily) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled job panicked: %v", r)
		}
	}()
	return job(ctx)
}

func (d *Daily) sleep(ctx context.Context, wait time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if wait < 0 {
		wait = 0
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.after(wait):
		return nil
	}
}
