package model

import (
	"maps"
	"slices"
	"strings"
)

// Record is one fetched message, ready for filtering and delivery. A Record
// is immutable; accessors hand out copies.
type Record struct {
	id      uint32
	flags   []string
	headers map[string]string
	body    string
}

// NewRecord builds a Record. Header names are lower-cased; when two names
// collide after lower-casing, the first one in iteration order of the
// provided map is kept, so callers should pass already normalised keys.
func NewRecord(id uint32, flags []string, headers map[string]string, body string) Record {
	normalized := make(map[string]string, len(headers))
	for name, value := range headers {
		key := strings.ToLower(name)
		if _, exists := normalized[key]; !exists {
			normalized[key] = value
		}
	}
	return Record{
		id:      id,
		flags:   slices.Clone(flags),
		headers: normalized,
		body:    body,
	}
}

// ID is the server-assigned message number.
func (r Record) ID() uint32 { return r.id }

// Flags returns the flag tokens reported with the message.
func (r Record) Flags() []string { return slices.Clone(r.flags) }

// HasFlag reports whether flag was set, ignoring case.
func (r Record) HasFlag(flag string) bool {
	for _, f := range r.flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Header returns the first value seen for name.
func (r Record) Header(name string) string { return r.headers[strings.ToLower(name)] }

// Headers returns a copy of the header mapping.
func (r Record) Headers() map[string]string { return maps.Clone(r.headers) }

// Body is the decoded text/plain body.
func (r Record) Body() string { return r.body }

func (r Record) From() string    { return r.Header("from") }
func (r Record) To() string      { return r.Header("to") }
func (r Record) Cc() string      { return r.Header("cc") }
func (r Record) Bcc() string     { return r.Header("bcc") }
func (r Record) ReplyTo() string { return r.Header("reply-to") }
func (r Record) Subject() string { return r.Header("subject") }
func (r Record) Date() string    { return r.Header("date") }

// Envelope carries a decoded record or the error that prevented decoding it.
type Envelope struct {
	Mailbox string
	Record  Record
	Err     error
}
