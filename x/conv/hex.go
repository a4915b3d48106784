package conv

const hexd = "0123456789abcdef"

// AppendHex8 appends the two lowercase hex digits of b.
func AppendHex8(dst []byte, b byte) []byte {
	return append(dst, hexd[b>>4], hexd[b&0xF])
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
