package message

import (
	"mime"

	"github.com/emersion/go-message/charset"

	"github.com/dhcgn/imap2slack/fetch"
	"github.com/dhcgn/imap2slack/model"
)

// encodedHeaders may carry RFC 2047 encoded words.
var encodedHeaders = []string{"from", "to", "cc", "bcc", "reply-to", "subject"}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Build decodes a raw message into a Record. Failures are reported as
// *DecodeError carrying id.
func Build(id uint32, flags []string, raw []byte) (model.Record, error) {
	head, body := SplitRawMessage(raw)
	header := ParseHeader(head)

	root, err := ParsePart(header, body)
	if err != nil {
		return model.Record{}, &DecodeError{ID: id, Err: err}
	}
	text, err := ResolveBody(root)
	if err != nil {
		return model.Record{}, &DecodeError{ID: id, Err: err}
	}

	fields := make(map[string]string, len(header))
	for name, value := range header {
		fields[name] = value
	}
	for _, name := range encodedHeaders {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if decoded, err := wordDecoder.DecodeHeader(value); err == nil {
			fields[name] = decoded
		}
	}

	return model.NewRecord(id, flags, fields, text), nil
}

// FromFetch decodes a message reassembled from a FETCH response.
func FromFetch(msg *fetch.Message) (model.Record, error) {
	return Build(msg.ID, msg.Flags, msg.Raw)
}
