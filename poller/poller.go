package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/programme-lv/autotest/autotest"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/logger"
	"github.com/programme-lv/autotest/testrun"
	"golang.org/x/sync/errgroup"
)

// Remote status strings after which results can be fetched.
const (
	remoteFinished  = "finished"
	remoteFailed    = "failed"
	remoteCancelled = "cancelled"
)

type Client interface {
	Statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error)
	Results(ctx context.Context, assignmentID int64, run testrun.TestRun) error
	UpdateCredentials(ctx context.Context, courseID int64) error
}

type AssignmentGetter interface {
	GetAssignment(ctx context.Context, assignmentID int64) (course.Assignment, error)
}

type Config struct {
	Interval time.Duration
	// RetryInterval is the first wait after a rate limited request.
	RetryInterval time.Duration
	MaxRetries    uint64
	// Concurrency bounds result fetches per assignment.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		RetryInterval: 500 * time.Millisecond,
		MaxRetries:    5,
		Concurrency:   4,
	}
}

// Poller moves in_progress runs to a terminal state by asking the
// autotester for statuses and collecting finished results.
type Poller struct {
	cfg         Config
	client      Client
	ledger      testrun.Ledger
	assignments AssignmentGetter
	log         *slog.Logger
}

func New(cfg Config, client Client, ledger testrun.Ledger, assignments AssignmentGetter, log *slog.Logger) *Poller {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{cfg: cfg, client: client, ledger: ledger, assignments: assignments, log: log}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				p.log.Error("poll failed", "error", err)
			}
		}
	}
}

// PollOnce polls every assignment with runs in progress. A failure for one
// assignment does not stop the others.
func (p *Poller) PollOnce(ctx context.Context) error {
	ctx = logger.WithLogger(ctx, p.log)
	ids, err := p.ledger.InProgressAssignments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list assignments: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := p.pollAssignment(logger.WithAssignment(ctx, id), id); err != nil {
			logger.FromContext(ctx).Warn("failed to poll assignment", "assignment_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInterval
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !autotest.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.cfg.MaxRetries), ctx))
}

func (p *Poller) statuses(ctx context.Context, assignmentID int64, runs []testrun.TestRun) (map[int64]string, error) {
	var statuses map[int64]string
	err := p.retry(ctx, func() (err error) {
		statuses, err = p.client.Statuses(ctx, assignmentID, runs)
		return err
	})
	return statuses, err
}

func (p *Poller) pollAssignment(ctx context.Context, assignmentID int64) error {
	runs, err := p.ledger.ListInProgress(ctx, assignmentID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	statuses, err := p.statuses(ctx, assignmentID, runs)
	if errors.Is(err, autotest.ErrUnauthorized) {
		a, aerr := p.assignments.GetAssignment(ctx, assignmentID)
		if aerr != nil {
			return errors.Join(err, aerr)
		}
		logger.FromContext(ctx).Info("autotester rejected credentials, pushing them again", "course_id", a.CourseID)
		if cerr := p.client.UpdateCredentials(ctx, a.CourseID); cerr != nil {
			return fmt.Errorf("failed to update credentials: %w", cerr)
		}
		statuses, err = p.statuses(ctx, assignmentID, runs)
	}
	if err != nil {
		return err
	}

	// Plain group: one failed fetch must not cancel the others.
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	var cancelErrs []error
	for _, run := range runs {
		switch statuses[run.AutotestTestID] {
		case remoteFinished, remoteFailed:
			g.Go(func() error {
				return p.retry(ctx, func() error {
					return p.client.Results(ctx, assignmentID, run)
				})
			})
		case remoteCancelled:
			if err := p.ledger.Cancel(ctx, run.ID); err != nil {
				cancelErrs = append(cancelErrs, fmt.Errorf("failed to cancel test run %d: %w", run.ID, err))
			}
		}
	}
	return errors.Join(append(cancelErrs, g.Wait())...)
}
