package module

import (
	"cmp"
	"strings"
)

// CompareVersion compares two version strings the way "sort -V" does
// and returns -1, 0 or 1. Runs of digits compare by numeric value,
// letters sort before other punctuation and '~' sorts before anything,
// even the end of the string.
func CompareVersion(a, b string) int {
	for a != "" || b != "" {
		for (a != "" && !isDigit(a[0])) || (b != "" && !isDigit(b[0])) {
			if c := cmp.Compare(order(a), order(b)); c != 0 {
				return c
			}
			a, b = advance(a), advance(b)
		}
		var na, nb string
		na, a = leadingDigits(a)
		nb, b = leadingDigits(b)
		na, nb = strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
		if c := cmp.Compare(len(na), len(nb)); c != 0 {
			return c
		}
		if c := strings.Compare(na, nb); c != 0 {
			return c
		}
	}
	return 0
}

// order returns the sort weight of the first byte of s.
func order(s string) int {
	if s == "" {
		return 0
	}
	switch c := s[0]; {
	case isDigit(c):
		return 0
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func advance(s string) string {
	if s == "" {
		return s
	}
	return s[1:]
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
