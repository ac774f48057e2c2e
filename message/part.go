package message

import (
	"bytes"
	"errors"
	"mime"
	"strings"
)

// MaxDepth is the deepest multipart nesting ParsePart accepts.
const MaxDepth = 16

var ErrTooDeep = errors.New("multipart nesting too deep")

// Part is a node of the MIME tree. Containers (multipart/*) carry Parts,
// leaves carry Body; never both.
type Part struct {
	ContentType string
	Params      map[string]string
	Header      Header
	Body        []byte
	Parts       []*Part
}

// IsMultipart reports whether p is a container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// Encoding returns the normalised Content-Transfer-Encoding of p.
func (p *Part) Encoding() string {
	return strings.ToLower(strings.TrimSpace(p.Header.Get("content-transfer-encoding")))
}

func newPart(header Header, body []byte) *Part {
	contentType, params := parseContentType(header.Get("content-type"))
	return &Part{
		ContentType: contentType,
		Params:      params,
		Header:      header,
		Body:        body,
	}
}

func parseContentType(value string) (string, map[string]string) {
	if strings.TrimSpace(value) == "" {
		return "text/plain", map[string]string{}
	}
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		// Keep the media type of a header with broken parameters.
		mediaType, _, _ = strings.Cut(value, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		if mediaType == "" || !strings.Contains(mediaType, "/") {
			mediaType = "text/plain"
		}
		params = map[string]string{}
	}
	return mediaType, params
}

// ParsePart builds the MIME tree of a message from its parsed header and
// body block. The tree is built with an explicit work stack; containers
// nested deeper than MaxDepth yield ErrTooDeep.
func ParsePart(header Header, body []byte) (*Part, error) {
	type job struct {
		part  *Part
		depth int
	}

	root := newPart(header, body)
	stack := []job{{part: root}}
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		p := j.part
		if !p.IsMultipart() {
			continue
		}
		if j.depth >= MaxDepth {
			return nil, ErrTooDeep
		}

		raw := p.Body
		p.Body = nil
		boundary := p.Params["boundary"]
		if boundary == "" {
			continue
		}
		for _, block := range splitMultipart(raw, boundary) {
			h, b := SplitRawMessage(block)
			child := newPart(ParseHeader(h), b)
			p.Parts = append(p.Parts, child)
			stack = append(stack, job{part: child, depth: j.depth + 1})
		}
	}

	return root, nil
}

// splitMultipart returns the body parts of a multipart body. The line break
// before a delimiter line belongs to the delimiter. Preamble and epilogue
// are dropped; a missing close delimiter ends the last part at end of input.
func splitMultipart(body []byte, boundary string) [][]byte {
	delim := []byte("--" + boundary)

	var parts [][]byte
	start := -1
	pos := 0
	for pos < len(body) {
		next := len(body)
		if idx := bytes.IndexByte(body[pos:], '\n'); idx >= 0 {
			next = pos + idx + 1
		}
		line := bytes.TrimRight(body[pos:next], " \t\r\n")

		if rest, ok := bytes.CutPrefix(line, delim); ok {
			closing := bytes.Equal(rest, []byte("--"))
			if len(rest) == 0 || closing {
				if start >= 0 {
					parts = append(parts, trimLineBreak(body[start:pos]))
				}
				if closing {
					return parts
				}
				start = next
			}
		}
		pos = next
	}

	if start >= 0 && start < len(body) {
		parts = append(parts, body[start:])
	}
	return parts
}

func trimLineBreak(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}
