// Package fetch reassembles messages from the raw bytes of an IMAP FETCH
// response.
//
// A response covering one or more messages arrives as an ordered list of
// fragments. Each message starts with an untagged status line
//
//	* <id> FETCH (FLAGS (<flags>) ...
//
// followed by zero or more {<size>} literals. Literal bytes are copied
// verbatim and may span any number of fragments; everything outside a
// literal is framing and is dropped.
package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// MaxLiteralSize bounds a single literal. Larger declarations are treated as
// a malformed response.
const MaxLiteralSize = 64 << 20

// Stream is the ordered list of fragments returned for one FETCH command.
type Stream [][]byte

// Len returns the total number of bytes in the stream.
func (s Stream) Len() int {
	n := 0
	for _, frag := range s {
		n += len(frag)
	}
	return n
}

// Message is one reassembled message.
type Message struct {
	ID    uint32
	Flags []string
	Raw   []byte
}

var (
	ErrMalformedStatus  = errors.New("malformed FETCH status line")
	ErrMalformedLiteral = errors.New("malformed literal marker")
	ErrTruncated        = errors.New("stream ended inside a literal")
	ErrConflict         = errors.New("conflicting FETCH responses")
)

// ProtocolParseError reports a FETCH response that does not follow the
// literal grammar. It only concerns the message it names.
type ProtocolParseError struct {
	ID     uint32
	Offset int
	Reason string
	Err    error
}

func (e *ProtocolParseError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("fetch response at offset %d: %v: %s", e.Offset, e.Err, e.Reason)
	}
	return fmt.Sprintf("fetch response for message %d at offset %d: %v: %s", e.ID, e.Offset, e.Err, e.Reason)
}

func (e *ProtocolParseError) Unwrap() error {
	return e.Err
}

var (
	fetchLine  = regexp.MustCompile(`^\* (\S+) FETCH\b`)
	statusLine = regexp.MustCompile(`^\* (\d+) FETCH \(FLAGS \(([^)]*)\)`)
)

// Reader walks a Stream message by message.
type Reader struct {
	c cursor
}

// NewReader returns a Reader over stream.
func NewReader(stream Stream) *Reader {
	r := &Reader{c: cursor{frags: stream}}
	r.c.advance(0)
	return r
}

// Next returns the next message in the stream, or io.EOF once the stream is
// exhausted. A *ProtocolParseError only affects the message it describes;
// calling Next again continues with the following message.
func (r *Reader) Next() (*Message, error) {
	for {
		start := r.c.pos
		line, ok := r.c.line()
		if !ok {
			return nil, io.EOF
		}
		if !bytes.HasPrefix(line, []byte("* ")) {
			continue
		}
		loose := fetchLine.FindSubmatch(line)
		if loose == nil {
			// Other untagged responses (EXISTS, EXPUNGE, OK ...).
			continue
		}

		m := statusLine.FindSubmatch(line)
		if m == nil {
			perr := &ProtocolParseError{
				ID:     looseID(loose[1]),
				Offset: start,
				Reason: strings.TrimRight(string(line), "\r\n"),
				Err:    ErrMalformedStatus,
			}
			r.skipLiterals(line)
			return nil, perr
		}
		id, err := strconv.ParseUint(string(m[1]), 10, 32)
		if err != nil {
			r.skipLiterals(line)
			return nil, &ProtocolParseError{Offset: start, Reason: fmt.Sprintf("message id %q", m[1]), Err: ErrMalformedStatus}
		}

		msg := &Message{ID: uint32(id), Flags: strings.Fields(string(m[2]))}
		if err := r.literals(msg, line); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// literals consumes the remainder of a response whose first line is line.
// The response ends with the first line that does not announce a literal.
func (r *Reader) literals(msg *Message, line []byte) error {
	for {
		offset := r.c.pos - len(line)
		size, ok, err := literalSize(line)
		if err != nil {
			return &ProtocolParseError{ID: msg.ID, Offset: offset, Reason: strings.TrimRight(string(line), "\r\n"), Err: err}
		}
		if !ok {
			return nil
		}

		before := len(msg.Raw)
		msg.Raw = r.c.read(msg.Raw, size)
		if got := len(msg.Raw) - before; got < size {
			return &ProtocolParseError{
				ID:     msg.ID,
				Offset: r.c.pos,
				Reason: fmt.Sprintf("got %d of %d literal bytes", got, size),
				Err:    ErrTruncated,
			}
		}

		line, ok = r.c.line()
		if !ok {
			return nil
		}
	}
}

// skipLiterals drops the literals announced by a rejected response so their
// content is never read as framing.
func (r *Reader) skipLiterals(line []byte) {
	for {
		size, ok, err := literalSize(line)
		if err != nil || !ok {
			return
		}
		if r.c.discard(size) < size {
			return
		}
		if line, ok = r.c.line(); !ok {
			return
		}
	}
}

// literalSize reports whether line ends with a {<size>} marker.
func literalSize(line []byte) (int, bool, error) {
	trimmed := bytes.TrimRight(line, "\r\n")
	if !bytes.HasSuffix(trimmed, []byte("}")) {
		return 0, false, nil
	}
	open := bytes.LastIndexByte(trimmed, '{')
	if open < 0 {
		return 0, false, ErrMalformedLiteral
	}
	digits := trimmed[open+1 : len(trimmed)-1]
	if len(digits) == 0 || len(digits) > 10 {
		return 0, false, ErrMalformedLiteral
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false, ErrMalformedLiteral
		}
	}
	size, err := strconv.Atoi(string(digits))
	if err != nil || size > MaxLiteralSize {
		return 0, false, ErrMalformedLiteral
	}
	if !bytes.HasSuffix(line, []byte("\n")) {
		return 0, false, ErrTruncated
	}
	return size, true, nil
}

func looseID(raw []byte) uint32 {
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(id)
}

// ReadAll drains stream. Messages that failed to parse are reported in errs
// and left out of msgs.
func ReadAll(stream Stream) (msgs []*Message, errs []error) {
	r := NewReader(stream)
	for {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			return msgs, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
}

// cursor is a read position across fragment boundaries.
type cursor struct {
	frags [][]byte
	i     int
	off   int
	pos   int
}

func (c *cursor) advance(n int) {
	c.off += n
	c.pos += n
	for c.i < len(c.frags) && c.off >= len(c.frags[c.i]) {
		c.i++
		c.off = 0
	}
}

// line returns the bytes up to and including the next LF.
func (c *cursor) line() ([]byte, bool) {
	var buf []byte
	for c.i < len(c.frags) {
		frag := c.frags[c.i][c.off:]
		if idx := bytes.IndexByte(frag, '\n'); idx >= 0 {
			buf = append(buf, frag[:idx+1]...)
			c.advance(idx + 1)
			return buf, true
		}
		buf = append(buf, frag...)
		c.advance(len(frag))
	}
	return buf, len(buf) > 0
}

// discard skips up to n raw bytes and returns how many were skipped.
func (c *cursor) discard(n int) int {
	skipped := 0
	for n > skipped && c.i < len(c.frags) {
		take := min(n-skipped, len(c.frags[c.i])-c.off)
		skipped += take
		c.advance(take)
	}
	return skipped
}

// read appends up to n raw bytes to dst.
func (c *cursor) read(dst []byte, n int) []byte {
	for n > 0 && c.i < len(c.frags) {
		frag := c.frags[c.i][c.off:]
		take := min(n, len(frag))
		dst = append(dst, frag[:take]...)
		n -= take
		c.advance(take)
	}
	return dst
}
