package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReader_RoundTrip(t *testing.T) {
	header := []byte("Subject: hi\r\nFrom: a@example.com\r\n\r\n")
	body := []byte("line one\r\n\x00binary\x01\r\n* 9 FETCH (FLAGS ()) {3}\r\nnot framing\r\n")

	for _, size := range []int{1, 2, 7, 64, DefaultFragmentSize} {
		b := Builder{FragmentSize: size}
		b.Message(7, []string{`\Recent`, `\Flagged`},
			Section{Name: "BODY[HEADER]", Data: header},
			Section{Name: "BODY[TEXT]", Data: body},
		)
		stream := b.Stream()

		msgs, errs := ReadAll(stream)
		if len(errs) != 0 {
			t.Fatalf("fragment size %d: unexpected errors %v", size, errs)
		}
		if len(msgs) != 1 {
			t.Fatalf("fragment size %d: got %d messages, want 1", size, len(msgs))
		}

		got := msgs[0]
		want := &Message{
			ID:    7,
			Flags: []string{`\Recent`, `\Flagged`},
			Raw:   append(append([]byte{}, header...), body...),
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("fragment size %d: message mismatch (-want +got):\n%s", size, diff)
		}
		if len(got.Raw) != len(header)+len(body) {
			t.Errorf("fragment size %d: raw length = %d, want sum of literals %d", size, len(got.Raw), len(header)+len(body))
		}
	}
}

func TestReader_MultipleMessagesAndFraming(t *testing.T) {
	var b Builder
	b.Line("* 3 EXISTS")
	b.Message(1, nil, Section{Name: "BODY[HEADER]", Data: []byte("Subject: one\r\n\r\n")})
	b.Line("* 2 FETCH (FLAGS (\\Seen))")
	b.Message(3, []string{`\Answered`}, Section{Name: "BODY[TEXT]", Data: []byte("three")})
	b.Line("A0004 OK FETCH completed")

	msgs, errs := ReadAll(b.Stream())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	var ids []uint32
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if len(msgs[1].Raw) != 0 {
		t.Errorf("flag update carried %d raw bytes", len(msgs[1].Raw))
	}
	if string(msgs[2].Raw) != "three" {
		t.Errorf("message 3 raw = %q", msgs[2].Raw)
	}
}

func TestReader_MalformedMessageIsScoped(t *testing.T) {
	var b Builder
	b.Message(1, nil, Section{Name: "BODY[TEXT]", Data: []byte("first")})
	b.Line("* 2 FETCH (UID 17 BODY[TEXT] {6}")
	b.Line("second")
	b.Line("* 3 FETCH (FLAGS () BODY[TEXT] {4x}")
	b.Message(4, nil, Section{Name: "BODY[TEXT]", Data: []byte("fourth")})

	msgs, errs := ReadAll(b.Stream())

	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ID != 4 {
		t.Fatalf("got messages %+v, want ids 1 and 4", msgs)
	}
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}

	var perr *ProtocolParseError
	if !errors.As(errs[0], &perr) || perr.ID != 2 || !errors.Is(errs[0], ErrMalformedStatus) {
		t.Errorf("first error = %v, want malformed status for message 2", errs[0])
	}
	if !errors.As(errs[1], &perr) || perr.ID != 3 || !errors.Is(errs[1], ErrMalformedLiteral) {
		t.Errorf("second error = %v, want malformed literal for message 3", errs[1])
	}
}

func TestReader_MalformedStatusSkipsLiteral(t *testing.T) {
	// The body of the rejected response looks like a FETCH response itself.
	body := "Subject: x\r\n* 3 FETCH (FLAGS () BODY[TEXT] {5}\r\nforge"

	for _, size := range []int{0, 1, 7} {
		t.Run(fmt.Sprintf("fragment=%d", size), func(t *testing.T) {
			b := Builder{FragmentSize: size}
			b.Message(1, nil, Section{Name: "BODY[TEXT]", Data: []byte("first")})
			b.Line(fmt.Sprintf("* 2 FETCH (UID 9 FLAGS () BODY[] {%d}", len(body)))
			b.Line(body)
			b.Message(3, nil, Section{Name: "BODY[TEXT]", Data: []byte("real3")})

			msgs, errs := ReadAll(b.Stream())

			var got []string
			for _, m := range msgs {
				got = append(got, fmt.Sprintf("%d:%s", m.ID, m.Raw))
			}
			if diff := cmp.Diff([]string{"1:first", "3:real3"}, got); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}

			var perr *ProtocolParseError
			if len(errs) != 1 || !errors.As(errs[0], &perr) || perr.ID != 2 || !errors.Is(errs[0], ErrMalformedStatus) {
				t.Errorf("errors = %v, want one malformed status for message 2", errs)
			}
		})
	}
}

func TestReader_Truncated(t *testing.T) {
	stream := Stream{
		[]byte("* 5 FETCH (FLAGS () BODY[TEXT] {10}\r\n"),
		[]byte("abc"),
	}

	r := NewReader(stream)
	_, err := r.Next()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("Next() error = %v, want ErrTruncated", err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("second Next() error = %v, want io.EOF", err)
	}
}

func TestReader_MarkerWithoutTerminator(t *testing.T) {
	r := NewReader(Stream{[]byte("* 5 FETCH (FLAGS () BODY[TEXT] {10}")})
	if _, err := r.Next(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Next() error = %v, want ErrTruncated", err)
	}
}

func TestReader_EmptyFragments(t *testing.T) {
	stream := Stream{
		nil,
		[]byte("* 8 FETCH (FLAGS (\\Seen) BODY[TEXT] {4}\n"),
		{},
		[]byte("ab"),
		{},
		[]byte("cd)\n"),
	}
	msgs, errs := ReadAll(stream)
	if len(errs) != 0 || len(msgs) != 1 {
		t.Fatalf("ReadAll() = %v, %v", msgs, errs)
	}
	if !bytes.Equal(msgs[0].Raw, []byte("abcd")) {
		t.Errorf("raw = %q, want %q", msgs[0].Raw, "abcd")
	}
}

func TestStream_Len(t *testing.T) {
	var b Builder
	b.FragmentSize = 3
	b.Line("0123456789")
	stream := b.Stream()
	if stream.Len() != 12 {
		t.Errorf("Len() = %d, want 12", stream.Len())
	}
	if len(stream) != 4 {
		t.Errorf("got %d fragments, want 4", len(stream))
	}
}

func BenchmarkReadAll(b *testing.B) {
	body := bytes.Repeat([]byte("Lorem ipsum dolor sit amet =C3=A9\r\n"), 2000)
	var builder Builder
	for id := uint32(1); id <= 20; id++ {
		builder.Message(id, []string{`\Recent`},
			Section{Name: "BODY[HEADER]", Data: []byte("Subject: bench\r\n\r\n")},
			Section{Name: "BODY[TEXT]", Data: body},
		)
	}
	stream := builder.Stream()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ReadAll(stream)
	}
}
