package fetch

import (
	"bytes"
	"fmt"
	"strings"
)

// DefaultFragmentSize matches the read buffer of a typical transport.
const DefaultFragmentSize = 4096

// Section is one body section of a FETCH response, e.g. BODY[HEADER].
type Section struct {
	Name string
	Data []byte
}

// Builder writes FETCH responses in the wire grammar understood by Reader.
type Builder struct {
	// FragmentSize is the maximum fragment length produced by Stream.
	FragmentSize int

	buf bytes.Buffer
}

// Message appends one untagged FETCH response.
func (b *Builder) Message(id uint32, flags []string, sections ...Section) {
	fmt.Fprintf(&b.buf, "* %d FETCH (FLAGS (%s)", id, strings.Join(flags, " "))
	for _, s := range sections {
		fmt.Fprintf(&b.buf, " %s {%d}\r\n", s.Name, len(s.Data))
		b.buf.Write(s.Data)
	}
	b.buf.WriteString(")\r\n")
}

// Line appends a line of framing that carries no message data.
func (b *Builder) Line(text string) {
	b.buf.WriteString(text)
	b.buf.WriteString("\r\n")
}

// Stream cuts everything written so far into fragments.
func (b *Builder) Stream() Stream {
	size := b.FragmentSize
	if size <= 0 {
		size = DefaultFragmentSize
	}
	data := bytes.Clone(b.buf.Bytes())
	stream := make(Stream, 0, len(data)/size+1)
	for len(data) > 0 {
		n := min(size, len(data))
		stream = append(stream, data[:n:n])
		data = data[n:]
	}
	return stream
}
