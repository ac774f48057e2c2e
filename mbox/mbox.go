package mbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/imap2slack/message"
	"github.com/dhcgn/imap2slack/model"
)

// Read decodes every message of the mbox file at path and calls fn with its
// 1-based position. Messages that fail to decode are passed with Err set;
// returning an error from fn stops the iteration.
func Read(path string, fn func(env model.Envelope) error) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("mbox path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	return ReadFrom(file, path, fn)
}

// ReadFrom is Read on an already opened archive; name is used as mailbox
// name of the envelopes.
func ReadFrom(r io.Reader, name string, fn func(env model.Envelope) error) error {
	reader := mboxlib.NewReader(r)
	for idx := 1; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		rec, err := message.Build(uint32(idx), nil, raw)
		if err := fn(model.Envelope{Mailbox: name, Record: rec, Err: err}); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in an mbox file without decoding them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, fmt.Errorf("message %d read: %w", count+1, err)
		}
		count++
	}
}
