package core

// itoa converts an integer to a string without the fmt package
func itoa(n int) string {
	if n < 0 {
		// Negate in uint64 so the minimum int still converts
		return "-" + formatUint(uint64(-int64(n)))
	}
	return formatUint(uint64(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	return formatUint(uint64(n))
}

func formatUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// valueToString renders a dictionary constant
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return itoa(val)
	case int16:
		return itoa(int(val))
	case int32:
		return itoa(int(val))
	case int64:
		return itoa(int(val))
	case uint:
		return formatUint(uint64(val))
	case uint8:
		return formatUint(uint64(val))
	case uint16:
		return formatUint(uint64(val))
	case uint32:
		return formatUint(uint64(val))
	case uint64:
		return formatUint(val)
	default:
		return ""
	}
}
