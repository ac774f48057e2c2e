package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
)

var (
	ErrInvalidUTF8     = errors.New("body is not valid UTF-8")
	ErrUnknownEncoding = errors.New("unknown transfer encoding")
)

// DecodeError reports a message whose body could not be turned into text.
type DecodeError struct {
	ID  uint32
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %d: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FindText returns the first text/plain leaf of the tree in depth-first
// document order, or nil when there is none.
func FindText(root *Part) *Part {
	if root == nil {
		return nil
	}
	stack := []*Part{root}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !p.IsMultipart() {
			if p.ContentType == "text/plain" {
				return p
			}
			continue
		}
		for i := len(p.Parts) - 1; i >= 0; i-- {
			stack = append(stack, p.Parts[i])
		}
	}
	return nil
}

// ResolveBody selects the text/plain leaf of the tree and decodes it. A tree
// without a text/plain leaf resolves to the empty string.
func ResolveBody(root *Part) (string, error) {
	p := FindText(root)
	if p == nil {
		return "", nil
	}
	return DecodeBody(p)
}

// DecodeBody undoes the transfer encoding of a leaf, converts it from its
// declared charset and checks that the result is valid UTF-8.
func DecodeBody(p *Part) (string, error) {
	var data []byte
	switch enc := p.Encoding(); enc {
	case "", "7bit", "8bit", "binary":
		data = p.Body
	case "quoted-printable":
		data = DecodeQuotedPrintable(p.Body)
	case "base64":
		decoded, err := decodeBase64(p.Body)
		if err != nil {
			return "", fmt.Errorf("base64: %w", err)
		}
		data = decoded
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownEncoding, enc)
	}

	if cs := strings.ToLower(strings.TrimSpace(p.Params["charset"])); needsConversion(cs) {
		r, err := charset.Reader(cs, bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("charset %q: %w", cs, err)
		}
		converted, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("charset %q: %w", cs, err)
		}
		data = converted
	}

	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

func needsConversion(cs string) bool {
	switch cs {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return false
	}
	return true
}

func decodeBase64(src []byte) ([]byte, error) {
	clean := make([]byte, 0, len(src))
	for _, c := range src {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			clean = append(clean, c)
		}
	}
	dst := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, err := base64.StdEncoding.Decode(dst, clean)
	if err != nil {
		n, err = base64.RawStdEncoding.Decode(dst, bytes.TrimRight(clean, "="))
		if err != nil {
			return nil, err
		}
	}
	return dst[:n], nil
}
