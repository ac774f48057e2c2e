package runner

import (
	"bytes"
	"errors"
	"io"
	"log/slog"

	"github.com/dhcgn/imap2slack/fetch"
	"github.com/dhcgn/imap2slack/message"
	"github.com/dhcgn/imap2slack/model"
	"github.com/dhcgn/imap2slack/stats"
)

// Decode reassembles and decodes the messages of one FETCH stream. The
// result follows the order of ids, which is the search order; responses for
// ids that were not requested are dropped. Messages that fail to parse or
// decode are returned as envelopes carrying the error, as are ids with two
// differing responses that both carry data.
func Decode(mailbox string, ids []uint32, stream fetch.Stream, logger *slog.Logger) []model.Envelope {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	msgs, parseErrs := fetch.ReadAll(stream)

	wanted := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	byID := make(map[uint32]*fetch.Message, len(msgs))
	conflicts := make(map[uint32]bool)
	for _, msg := range msgs {
		if !wanted[msg.ID] {
			logger.Debug("ignoring unsolicited fetch response", "id", msg.ID)
			continue
		}
		prev, ok := byID[msg.ID]
		switch {
		case !ok || len(prev.Raw) == 0:
			byID[msg.ID] = msg
		case len(msg.Raw) == 0 || bytes.Equal(prev.Raw, msg.Raw):
			// Flag updates and repeated responses add nothing.
		default:
			conflicts[msg.ID] = true
		}
	}

	envelopes := make([]model.Envelope, 0, len(ids)+len(parseErrs))
	for _, err := range parseErrs {
		envelopes = append(envelopes, model.Envelope{Mailbox: mailbox, Err: err})
	}
	for _, id := range ids {
		msg, ok := byID[id]
		if !ok {
			continue
		}
		if conflicts[id] {
			envelopes = append(envelopes, model.Envelope{Mailbox: mailbox, Err: &fetch.ProtocolParseError{
				ID:     id,
				Reason: "more than one response carries message data",
				Err:    fetch.ErrConflict,
			}})
			continue
		}
		rec, err := message.FromFetch(msg)
		envelopes = append(envelopes, model.Envelope{Mailbox: mailbox, Record: rec, Err: err})
	}
	return envelopes
}

// Records returns the decoded records of envelopes, in order. Failed
// envelopes are logged and counted.
func Records(envelopes []model.Envelope, sink stats.Sink, logger *slog.Logger) []model.Record {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	records := make([]model.Record, 0, len(envelopes))
	for _, env := range envelopes {
		if env.Err == nil {
			records = append(records, env.Record)
			continue
		}

		evt := stats.Event{Mailbox: env.Mailbox, Err: env.Err}
		var (
			perr *fetch.ProtocolParseError
			derr *message.DecodeError
		)
		switch {
		case errors.As(env.Err, &perr):
			evt.Type = stats.EventTypeParseError
			evt.MessageID = perr.ID
			logger.Warn("skipping malformed fetch response", "id", perr.ID, "err", env.Err)
		case errors.As(env.Err, &derr):
			evt.Type = stats.EventTypeDecodeError
			evt.MessageID = derr.ID
			logger.Warn("skipping undecodable message", "id", derr.ID, "err", env.Err)
		default:
			evt.Type = stats.EventTypeDecodeError
			logger.Warn("skipping message", "err", env.Err)
		}
		if sink != nil {
			sink.Emit(evt)
		}
	}
	return records
}
