package index

import (
	"strconv"
	"strings"

	"github.com/thedenisnikulin/reindexer/variant"
)

// MapKey folds a variant into the normalized string form used as a hash
// bucket key and a cache key component. Numerics of equal value collapse
// to one key; strings fold per the collate mode.
func MapKey(v variant.Variant, c variant.Collate) string {
	switch v.Type() {
	case variant.TypeNull, variant.TypeUndefined:
		return "\x00n"
	case variant.TypeBool, variant.TypeInt, variant.TypeInt64, variant.TypeDouble:
		return "\x00d" + strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)
	case variant.TypeString:
		return "\x00s" + foldString(v.Str(), c)
	case variant.TypeTuple, variant.TypeComposite:
		var b strings.Builder
		b.WriteString("\x00t")
		for _, e := range v.Tuple() {
			b.WriteString(MapKey(e, c))
			b.WriteByte(0x1e)
		}
		return b.String()
	}
	return "\x00?"
}

func foldString(s string, c variant.Collate) string {
	switch c.Mode {
	case variant.CollateASCII:
		return strings.Map(func(r rune) rune {
			if r >= 'A' && r <= 'Z' {
				return r + ('a' - 'A')
			}
			return r
		}, s)
	case variant.CollateUTF8, variant.CollateCustom:
		return strings.ToLower(s)
	default:
		return s
	}
}
