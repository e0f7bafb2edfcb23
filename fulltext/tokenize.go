package fulltext

import (
	"strings"
	"unicode"
)

// token is one word occurrence: its text, position in the field's word
// stream, and the field it came from.
type token struct {
	text  string
	pos   int
	field int
}

func (c Config) isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		strings.ContainsRune(c.ExtraWordSymbols, r)
}

// tokenize splits a field's text into lowercased word tokens.
func (c Config) tokenize(text string, field int) []token {
	var out []token
	var b strings.Builder
	pos := 0
	flush := func() {
		if b.Len() == 0 {
			return
		}
		out = append(out, token{text: b.String(), pos: pos, field: field})
		pos++
		b.Reset()
	}
	for _, r := range text {
		if c.isWordRune(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return out
}

// numberWords spells out a non-negative integer in English, one word per
// element. Tokens longer than 18 digits are left alone.
func numberWords(s string) []string {
	if len(s) == 0 || len(s) > 18 {
		return nil
	}
	n := int64(0)
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil
		}
		n = n*10 + int64(r-'0')
	}
	return spellNumber(n)
}

var onesWords = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}

var tensWords = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}

var scaleWords = []struct {
	value int64
	word  string
}{
	{1e15, "quadrillion"},
	{1e12, "trillion"},
	{1e9, "billion"},
	{1e6, "million"},
	{1e3, "thousand"},
}

func spellNumber(n int64) []string {
	if n < 20 {
		return []string{onesWords[n]}
	}
	var out []string
	for _, s := range scaleWords {
		if n >= s.value {
			out = append(out, spellNumber(n/s.value)...)
			out = append(out, s.word)
			n %= s.value
		}
	}
	if n >= 100 {
		out = append(out, onesWords[n/100], "hundred")
		n %= 100
	}
	if n >= 20 {
		out = append(out, tensWords[n/10])
		n %= 10
		if n > 0 {
			out = append(out, onesWords[n])
		}
	} else if n > 0 || len(out) == 0 {
		out = append(out, onesWords[n])
	}
	return out
}
