package message

// DecodeQuotedPrintable decodes quoted-printable data without ever failing.
// A "=" followed by optional blanks and a line break is a soft line break
// and is removed. Escapes that are not two hex digits are copied through
// unchanged.
func DecodeQuotedPrintable(src []byte) []byte {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '=' {
			dst = append(dst, c)
			continue
		}

		rest := src[i+1:]
		if len(rest) >= 2 && isHex(rest[0]) && isHex(rest[1]) {
			dst = append(dst, unhex(rest[0])<<4|unhex(rest[1]))
			i += 2
			continue
		}

		j := 0
		for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
			j++
		}
		switch {
		case j < len(rest) && rest[j] == '\n':
			i += j + 1
		case j+1 < len(rest) && rest[j] == '\r' && rest[j+1] == '\n':
			i += j + 2
		case j == len(rest):
			// Soft break at end of input.
			i += j
		default:
			dst = append(dst, '=')
		}
	}
	return dst
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
