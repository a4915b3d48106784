package conv

// AppendIPv4 appends a dotted-quad rendering of a.
func AppendIPv4(dst []byte, a [4]byte) []byte {
	for i, b := range a {
		if i > 0 {
			dst = append(dst, '.')
		}
		dst = AppendUint(dst, uint64(b))
	}
	return dst
}

// AppendMAC appends a colon-separated lowercase hex rendering of m.
func AppendMAC(dst []byte, m [6]byte) []byte {
	for i, b := range m {
		if i > 0 {
			dst = append(dst, ':')
		}
		dst = AppendHex8(dst, b)
	}
	return dst
}

func IPv4String(a [4]byte) string { return string(AppendIPv4(make([]byte, 0, 15), a)) }
func MACString(m [6]byte) string  { return string(AppendMAC(make([]byte, 0, 17), m)) }

// ParseIPv4 parses a strict dotted quad ("10.0.0.5").
func ParseIPv4(s string) (out [4]byte, ok bool) {
	part, digits, val := 0, 0, 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if digits == 0 || part > 3 {
				return out, false
			}
			out[part] = byte(val)
			part++
			digits, val = 0, 0
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			return out, false
		}
		val = val*10 + int(c-'0')
		digits++
		if val > 255 || digits > 3 {
			return out, false
		}
	}
	return out, part == 4
}

// ParseMAC parses six colon- or dash-separated hex octets.
func ParseMAC(s string) (out [6]byte, ok bool) {
	if len(s) != 17 {
		return out, false
	}
	for i := 0; i < 6; i++ {
		o := i * 3
		if i > 0 && s[o-1] != ':' && s[o-1] != '-' {
			return out, false
		}
		hi, ok1 := unhex(s[o])
		lo, ok2 := unhex(s[o+1])
		if !ok1 || !ok2 {
			return out, false
		}
		out[i] = hi<<4 | lo
	}
	return out, true
}
