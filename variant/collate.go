package variant

import (
	"strings"
	"unicode"
)

// CollateMode selects the string comparison policy of an index.
type CollateMode int

const (
	// CollateNone compares raw bytes.
	CollateNone CollateMode = iota
	// CollateASCII compares ASCII case-insensitively.
	CollateASCII
	// CollateUTF8 compares case-folded UTF-8.
	CollateUTF8
	// CollateNumeric compares by the leading numeric prefix, then the rest
	// as bytes.
	CollateNumeric
	// CollateCustom compares by a user-supplied letter order.
	CollateCustom
)

func (m CollateMode) String() string {
	switch m {
	case CollateASCII:
		return "ascii"
	case CollateUTF8:
		return "utf8"
	case CollateNumeric:
		return "numeric"
	case CollateCustom:
		return "custom"
	default:
		return "none"
	}
}

// CollateModeFromString parses an index-options collate name. Unknown
// names map to CollateNone.
func CollateModeFromString(s string) CollateMode {
	switch s {
	case "ascii":
		return CollateASCII
	case "utf8":
		return CollateUTF8
	case "numeric":
		return CollateNumeric
	case "custom":
		return CollateCustom
	default:
		return CollateNone
	}
}

// Collate is a comparison policy: a mode plus, for CollateCustom, the
// priority of each rune. Runes missing from a custom order sort after all
// listed ones, by code point.
type Collate struct {
	Mode  CollateMode
	Order map[rune]int
}

// NewCustomCollate builds a CollateCustom from a letter-order string.
func NewCustomCollate(order string) Collate {
	m := make(map[rune]int, len(order))
	i := 0
	for _, r := range order {
		if _, ok := m[r]; !ok {
			m[r] = i
			i++
		}
	}
	return Collate{Mode: CollateCustom, Order: m}
}

// Compare orders two strings under the collate.
func (c Collate) Compare(a, b string) int {
	switch c.Mode {
	case CollateASCII:
		return strings.Compare(asciiLower(a), asciiLower(b))
	case CollateUTF8:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	case CollateNumeric:
		return compareNumeric(a, b)
	case CollateCustom:
		return c.compareCustom(a, b)
	default:
		return strings.Compare(a, b)
	}
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

func compareNumeric(a, b string) int {
	an, arest := splitNumericPrefix(a)
	bn, brest := splitNumericPrefix(b)
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return strings.Compare(arest, brest)
}

func splitNumericPrefix(s string) (float64, string) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	j := i
	if j < len(s) && (s[j] == '-' || s[j] == '+') {
		j++
	}
	dot := false
	for j < len(s) {
		if s[j] >= '0' && s[j] <= '9' {
			j++
		} else if s[j] == '.' && !dot {
			dot = true
			j++
		} else {
			break
		}
	}
	if j == i {
		return 0, s
	}
	var n float64
	neg := false
	k := i
	if s[k] == '-' {
		neg = true
		k++
	} else if s[k] == '+' {
		k++
	}
	frac := 0.0
	scale := 0.1
	inFrac := false
	for ; k < j; k++ {
		if s[k] == '.' {
			inFrac = true
			continue
		}
		d := float64(s[k] - '0')
		if inFrac {
			frac += d * scale
			scale /= 10
		} else {
			n = n*10 + d
		}
	}
	n += frac
	if neg {
		n = -n
	}
	return n, s[j:]
}

func (c Collate) compareCustom(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := min(len(ra), len(rb))
	for i := 0; i < n; i++ {
		pa, pb := c.runePriority(ra[i]), c.runePriority(rb[i])
		if pa != pb {
			if pa < pb {
				return -1
			}
			return 1
		}
	}
	return len(ra) - len(rb)
}

func (c Collate) runePriority(r rune) int {
	if p, ok := c.Order[r]; ok {
		return p
	}
	if p, ok := c.Order[unicode.ToLower(r)]; ok {
		return p
	}
	return len(c.Order) + int(r)
}
