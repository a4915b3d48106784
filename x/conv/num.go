package conv

// AppendUint appends the decimal form of n to dst.
func AppendUint(dst []byte, n uint64) []byte {
	var tmp [20]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}

// UintString is AppendUint into a fresh string.
func UintString(n uint64) string { return string(AppendUint(make([]byte, 0, 20), n)) }
