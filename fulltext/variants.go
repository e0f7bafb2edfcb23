package fulltext

import "strings"

// termVariant is one alternative spelling of a query term with the
// percent it contributes when matched.
type termVariant struct {
	text string
	proc int
}

var ruToLat = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "j", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "c", 'ч': "ch", 'ш': "sh", 'щ': "sch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// latToRu lists latin sequences by descending length so the greedy scan
// prefers the longest transliteration unit.
var latToRu = []struct {
	seq string
	ru  rune
}{
	{"sch", 'щ'}, {"yo", 'ё'}, {"zh", 'ж'}, {"ch", 'ч'}, {"sh", 'ш'},
	{"yu", 'ю'}, {"ya", 'я'},
	{"a", 'а'}, {"b", 'б'}, {"v", 'в'}, {"g", 'г'}, {"d", 'д'},
	{"e", 'е'}, {"z", 'з'}, {"i", 'и'}, {"j", 'й'}, {"k", 'к'},
	{"l", 'л'}, {"m", 'м'}, {"n", 'н'}, {"o", 'о'}, {"p", 'п'},
	{"r", 'р'}, {"s", 'с'}, {"t", 'т'}, {"u", 'у'}, {"f", 'ф'},
	{"h", 'х'}, {"c", 'ц'}, {"y", 'ы'},
}

func translitRuToLat(s string) (string, bool) {
	var b strings.Builder
	changed := false
	for _, r := range s {
		if lat, ok := ruToLat[r]; ok {
			b.WriteString(lat)
			changed = true
		} else {
			b.WriteRune(r)
		}
	}
	return b.String(), changed
}

func translitLatToRu(s string) (string, bool) {
	var b strings.Builder
	changed := false
	i := 0
	for i < len(s) {
		matched := false
		for _, m := range latToRu {
			if strings.HasPrefix(s[i:], m.seq) {
				b.WriteRune(m.ru)
				i += len(m.seq)
				matched = true
				changed = true
				break
			}
		}
		if !matched {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), changed
}

var qwertyRow = "qwertyuiop[]asdfghjkl;'zxcvbnm,."
var ycukenRow = "йцукенгшщзхъфывапролджэячсмитьбю"

var kbToRu, kbToLat map[rune]rune

func init() {
	kbToRu = make(map[rune]rune)
	kbToLat = make(map[rune]rune)
	ru := []rune(ycukenRow)
	for i, lat := range qwertyRow {
		kbToRu[lat] = ru[i]
		kbToLat[ru[i]] = lat
	}
}

func kbLayoutSwap(s string) (string, bool) {
	var b strings.Builder
	changed := false
	for _, r := range s {
		switch {
		case kbToRu[r] != 0:
			b.WriteRune(kbToRu[r])
			changed = true
		case kbToLat[r] != 0:
			b.WriteRune(kbToLat[r])
			changed = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), changed
}

var stemSuffixes = []string{
	"iveness", "ations", "fulness", "ation", "ness", "ment", "tion",
	"ing", "ies", "ers", "ed", "es", "er", "ly", "s",
	"ального", "ельного", "ого", "его", "ому", "ему", "ыми", "ими",
	"ами", "ями", "ах", "ях", "ов", "ев", "ам", "ям", "ом", "ем",
	"ая", "яя", "ый", "ий", "ой", "ет", "ют", "ат", "ят", "ла",
	"ло", "ли", "ть", "ы", "и", "а", "я", "о", "е", "у", "ю", "ь",
}

// stemOf strips the longest known inflection suffix. The stem must keep
// at least three runes, otherwise no stem is produced.
func stemOf(s string) (string, bool) {
	runes := []rune(s)
	for _, suf := range stemSuffixes {
		if !strings.HasSuffix(s, suf) {
			continue
		}
		stemLen := len(runes) - len([]rune(suf))
		if stemLen < 3 {
			continue
		}
		return string(runes[:stemLen]), true
	}
	return "", false
}

const (
	kbLayoutProc = 90
	synonymProc  = 95
)

// termVariants expands a query term into its spelling alternatives.
func (c Config) termVariants(term string) []termVariant {
	out := []termVariant{{text: term, proc: 100}}
	seen := map[string]struct{}{term: {}}
	add := func(text string, proc int) {
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		out = append(out, termVariant{text: text, proc: proc})
	}
	if c.EnableTranslit {
		if t, ok := translitRuToLat(term); ok {
			add(t, 100)
		}
		if t, ok := translitLatToRu(term); ok {
			add(t, 100)
		}
	}
	if c.EnableKbLayout {
		if t, ok := kbLayoutSwap(term); ok {
			add(t, kbLayoutProc)
		}
	}
	if stem, ok := stemOf(term); ok {
		add(stem, 100-c.StemPenalty)
	}
	for _, syn := range c.Synonyms {
		for _, tok := range syn.Tokens {
			if tok != term {
				continue
			}
			for _, alt := range syn.Alternatives {
				add(alt, synonymProc)
			}
			break
		}
	}
	return out
}
