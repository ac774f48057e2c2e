package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dhcgn/imap2slack/config"
	"github.com/dhcgn/imap2slack/fetch"
	"github.com/dhcgn/imap2slack/filter"
	"github.com/dhcgn/imap2slack/router"
	"github.com/dhcgn/imap2slack/state"
	"github.com/dhcgn/imap2slack/stats"
)

// Session is the mailbox connection a cycle works on.
type Session interface {
	Select(ctx context.Context, name string) error
	Search(ctx context.Context, since time.Time) ([]uint32, error)
	Fetch(ctx context.Context, ids []uint32) (fetch.Stream, error)
	MarkSeen(ctx context.Context, id uint32) error
	Logout() error
}

// Dialer opens a new authenticated session.
type Dialer func(ctx context.Context) (Session, error)

// TransportError aborts a poll cycle; the next cycle may succeed.
type TransportError struct {
	Op      string
	Mailbox string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Mailbox != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Mailbox, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Options struct {
	Dial       Dialer
	Filters    *filter.Set
	Notifier   router.Notifier
	Checkpoint state.Checkpoint
	// Metrics is optional.
	Metrics *stats.Metrics
}

type Runner struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(cfg config.Config, opts Options, logger *slog.Logger) (*Runner, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("dialer must not be nil")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier must not be nil")
	}
	if opts.Checkpoint == nil {
		opts.Checkpoint = state.NewMemoryCheckpoint()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		sleep:  sleep,
	}, nil
}

// Preflight validates cfg and compiles its filters before any network
// activity. Filters referenced but not defined get a stub written to
// filters.toml. All problems are reported together.
func Preflight(cfg config.Config) (*filter.Set, error) {
	var errs []error
	if missing := cfg.MissingFilters(); len(missing) > 0 {
		if err := config.WriteFilterStubs(cfg.FiltersPath(), cfg.Filters, missing); err != nil {
			errs = append(errs, fmt.Errorf("write filter stubs: %w", err))
		} else {
			errs = append(errs, &config.StubsWrittenError{Path: cfg.FiltersPath(), Names: missing})
		}
	}
	if err := config.Validate(cfg); err != nil {
		errs = append(errs, err)
	}
	set, err := filter.NewSet(cfg.Filters.Filter)
	if err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}

// Run polls until ctx is cancelled, or once when the service mode is off.
// In service mode a failed cycle is retried with exponential backoff until
// the configured number of consecutive failures is exceeded.
func (r *Runner) Run(ctx context.Context) error {
	failures := 0
	for {
		_, err := r.RunCycle(ctx)
		if ctx.Err() != nil {
			r.logger.Info("shutting down")
			return nil
		}

		var wait time.Duration
		switch {
		case err == nil:
			failures = 0
			if !r.cfg.Service {
				return nil
			}
			wait = r.cfg.SleepInterval()
		case !r.cfg.Service || !retryable(err):
			return err
		default:
			failures++
			if failures > r.cfg.Retries() {
				return fmt.Errorf("giving up after %d consecutive failed cycles: %w", failures, err)
			}
			wait = r.backoff(failures)
			r.logger.Warn("poll cycle failed, retrying", "attempt", failures, "wait", wait, "err", err)
		}

		r.logger.Debug("sleeping until next poll", "wait", wait)
		if err := r.sleep(ctx, wait); err != nil {
			r.logger.Info("shutting down")
			return nil
		}
	}
}

// backoff is the wait after the n-th consecutive failure: a quarter of the
// sleep interval, doubling per failure, capped at four sleep intervals.
func (r *Runner) backoff(n int) time.Duration {
	interval := r.cfg.SleepInterval()
	limit := 4 * interval
	d := interval / 4
	for i := 1; i < n && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// RunCycle opens one session and polls every publish rule in configured
// order.
func (r *Runner) RunCycle(ctx context.Context) (summary stats.Summary, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeoutDuration())
	defer cancel()

	reporter := stats.NewReporter(r.logger)
	sink := stats.Multi{reporter}
	if r.opts.Metrics != nil {
		sink = append(sink, r.opts.Metrics)
	}
	defer func() {
		summary = reporter.Finish(err)
		if r.opts.Metrics != nil {
			r.opts.Metrics.Cycle(err)
		}
	}()

	started := r.now()
	var since time.Time
	if r.cfg.SinceLastPoll {
		last, ok, err := r.opts.Checkpoint.Load()
		if err != nil {
			return stats.Summary{}, err
		}
		if ok {
			since = last
		}
	}

	sess, err := r.opts.Dial(ctx)
	if err != nil {
		return stats.Summary{}, &TransportError{Op: "dial", Err: err}
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			r.logger.Debug("logout failed", "err", err)
		}
	}()

	rt := router.New(r.opts.Filters, r.opts.Notifier, sess, router.Options{
		MarkSeen: r.cfg.MarkSeen(),
		Sink:     sink,
	}, r.logger)

	for _, rule := range r.cfg.Publish {
		if err := r.poll(ctx, sess, rt, rule, since, sink); err != nil {
			return stats.Summary{}, err
		}
	}

	if r.cfg.SinceLastPoll {
		if err := r.opts.Checkpoint.Save(started); err != nil {
			return stats.Summary{}, fmt.Errorf("save checkpoint: %w", err)
		}
	}
	return stats.Summary{}, nil
}

func (r *Runner) poll(ctx context.Context, sess Session, rt *router.Router, rule config.PublishRule, since time.Time, sink stats.Sink) error {
	logger := r.logger.With("mailbox", rule.Mailbox)

	if err := sess.Select(ctx, rule.Mailbox); err != nil {
		return &TransportError{Op: "select", Mailbox: rule.Mailbox, Err: err}
	}
	ids, err := sess.Search(ctx, since)
	if err != nil {
		return &TransportError{Op: "search", Mailbox: rule.Mailbox, Err: err}
	}
	if len(ids) == 0 {
		logger.Debug("no unseen messages")
		return nil
	}
	logger.Info("unseen messages found", "count", len(ids))

	stream, err := sess.Fetch(ctx, ids)
	if err != nil {
		return &TransportError{Op: "fetch", Mailbox: rule.Mailbox, Err: err}
	}

	envelopes := Decode(rule.Mailbox, ids, stream, logger)
	records := Records(envelopes, sink, logger)

	if err := rt.Route(ctx, rule, records); err != nil {
		var missing *config.MissingFilterError
		switch {
		case errors.As(err, &missing):
			return err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return &TransportError{Op: "route", Mailbox: rule.Mailbox, Err: err}
		}
		return &TransportError{Op: "store", Mailbox: rule.Mailbox, Err: err}
	}
	return nil
}

func retryable(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
