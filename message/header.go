// Package message turns raw RFC 5322 bytes into headers, a MIME part tree
// and a plain-text body.
package message

import (
	"bytes"
	"strings"
)

// Header maps lower-cased field names to the first value seen.
type Header map[string]string

// Get returns the value of name, ignoring case.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// SplitRawMessage splits a raw message at the first blank line.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	// A message that starts with a blank line has no header block.
	if bytes.HasPrefix(raw, []byte("\r\n")) {
		return nil, raw[2:]
	}
	if raw[0] == '\n' {
		return nil, raw[1:]
	}

	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf+2], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf+1], raw[lf+2:]
	}

	return raw, nil
}

// ParseHeader unfolds and parses a header block. Continuation lines are
// joined to the previous field with a single space. When a field repeats,
// the first occurrence wins. Lines without a colon are ignored.
func ParseHeader(block []byte) Header {
	header := make(Header)

	var (
		name  string
		value strings.Builder
	)
	flush := func() {
		if name == "" {
			return
		}
		if _, exists := header[name]; !exists {
			header[name] = strings.TrimSpace(value.String())
		}
		name = ""
		value.Reset()
	}

	for _, raw := range bytes.Split(block, []byte("\n")) {
		line := string(bytes.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if name == "" {
				continue
			}
			folded := strings.Trim(line, " \t")
			if folded == "" {
				continue
			}
			if value.Len() > 0 {
				value.WriteByte(' ')
			}
			value.WriteString(folded)
			continue
		}

		flush()

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.TrimRight(line[:colon], " \t")
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		name = strings.ToLower(key)
		value.WriteString(strings.Trim(line[colon+1:], " \t"))
	}
	flush()

	return header
}
