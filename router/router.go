package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dhcgn/imap2slack/config"
	"github.com/dhcgn/imap2slack/filter"
	"github.com/dhcgn/imap2slack/model"
	"github.com/dhcgn/imap2slack/stats"
)

// Notifier delivers one message to one destination.
type Notifier interface {
	Send(ctx context.Context, text, title, sender, destination string) error
}

// SeenMarker sets the \Seen flag of a message in the selected mailbox.
type SeenMarker interface {
	MarkSeen(ctx context.Context, id uint32) error
}

type Options struct {
	MarkSeen bool
	Sink     stats.Sink
}

type Router struct {
	filters  *filter.Set
	notifier Notifier
	marker   SeenMarker
	opts     Options
	logger   *slog.Logger
}

func New(filters *filter.Set, notifier Notifier, marker SeenMarker, opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Sink == nil {
		opts.Sink = stats.Multi(nil)
	}
	return &Router{
		filters:  filters,
		notifier: notifier,
		marker:   marker,
		opts:     opts,
		logger:   logger,
	}
}

// SenderLine formats the From/To block shown above a forwarded message.
func SenderLine(rec model.Record) string {
	return fmt.Sprintf("From:\t\t%s\nTo:\t\t\t%s", rec.From(), rec.To())
}

// Route forwards the records of rule's mailbox, in order, to every
// destination of the rule when the rule's filter passes them. Each record is
// then marked seen once, whether it was forwarded or not.
//
// A filter name without definition yields *config.MissingFilterError before
// any record is touched. Delivery failures are logged and do not stop the
// remaining destinations; a failure to mark a message seen aborts the route.
func (r *Router) Route(ctx context.Context, rule config.PublishRule, records []model.Record) error {
	var f *filter.Filter
	if rule.Filter != "" {
		var ok bool
		f, ok = r.filters.Lookup(rule.Filter)
		if !ok {
			return &config.MissingFilterError{Name: rule.Filter}
		}
	}

	logger := r.logger.With("mailbox", rule.Mailbox)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.emit(rule.Mailbox, stats.EventTypeScanned, rec.ID(), nil)

		if r.pass(logger, f, rec) {
			r.forward(ctx, logger, rule, rec)
		} else {
			r.emit(rule.Mailbox, stats.EventTypeFiltered, rec.ID(), nil)
		}

		if !r.opts.MarkSeen {
			continue
		}
		if err := r.marker.MarkSeen(ctx, rec.ID()); err != nil {
			r.emit(rule.Mailbox, stats.EventTypeSeenError, rec.ID(), err)
			return fmt.Errorf("mark message %d seen: %w", rec.ID(), err)
		}
		r.emit(rule.Mailbox, stats.EventTypeSeen, rec.ID(), nil)
	}
	return nil
}

func (r *Router) pass(logger *slog.Logger, f *filter.Filter, rec model.Record) bool {
	if f == nil {
		return true
	}
	res := f.Check(rec)
	if !res.Pass() {
		logger.Debug("message filtered",
			"id", rec.ID(),
			"filter", f.Name(),
			"failed", res.Failed(),
			"subject", rec.Subject(),
		)
	}
	return res.Pass()
}

func (r *Router) forward(ctx context.Context, logger *slog.Logger, rule config.PublishRule, rec model.Record) {
	sender := SenderLine(rec)
	failed := 0
	for _, dest := range rule.Channels {
		if err := r.notifier.Send(ctx, rec.Body(), rec.Subject(), sender, dest); err != nil {
			failed++
			logger.Warn("failed to forward message", "id", rec.ID(), "channel", dest, "err", err)
			r.emit(rule.Mailbox, stats.EventTypeNotifyError, rec.ID(), err)
			continue
		}
		logger.Debug("forwarded message", "id", rec.ID(), "channel", dest)
	}
	if failed < len(rule.Channels) {
		r.emit(rule.Mailbox, stats.EventTypeForwarded, rec.ID(), nil)
	}
}

func (r *Router) emit(mailbox string, typ stats.EventType, id uint32, err error) {
	r.opts.Sink.Emit(stats.Event{Mailbox: mailbox, Type: typ, MessageID: id, Err: err})
}
