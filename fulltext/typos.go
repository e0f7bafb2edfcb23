package fulltext

// typoRef records that a word reduces to a deletion form in tcount
// character deletions.
type typoRef struct {
	wordID int32
	tcount int8
}

// deletions enumerates every string obtainable from word by deleting up
// to maxDel runes, mapped to the minimal deletion count that produces
// it. The word itself is included with count 0.
func deletions(word string, maxDel int) map[string]int {
	out := map[string]int{word: 0}
	frontier := []string{word}
	for d := 1; d <= maxDel; d++ {
		var next []string
		for _, s := range frontier {
			runes := []rune(s)
			if len(runes) <= 1 {
				continue
			}
			for i := range runes {
				cut := string(runes[:i]) + string(runes[i+1:])
				if _, seen := out[cut]; seen {
					continue
				}
				out[cut] = d
				next = append(next, cut)
			}
		}
		frontier = next
	}
	return out
}

func (c Config) buildTypoMap(words []*wordEntry) map[string][]typoRef {
	if c.MaxTypos <= 0 {
		return nil
	}
	typos := make(map[string][]typoRef)
	for id, w := range words {
		if len([]rune(w.text)) < c.MinTermLenForTypos {
			continue
		}
		for form, d := range deletions(w.text, c.MaxTypos) {
			typos[form] = append(typos[form], typoRef{wordID: int32(id), tcount: int8(d)})
		}
	}
	return typos
}

// typoProc ranks a typo match by edit count relative to word length.
func typoProc(wordLen, tcount int) int {
	return 85 - tcount*15/max(1, (wordLen-tcount)/3)
}

// lookupTypos finds words within the typo budget of term. Deleting from
// both the term and the stored word approximates edit distance: the sum
// of deletions on both sides must stay within MaxTypos.
func (e *Engine) lookupTypos(term string) []wordMatch {
	if e.typos == nil {
		return nil
	}
	best := make(map[int32]int)
	for form, qdel := range deletions(term, e.cfg.MaxTypos) {
		for _, ref := range e.typos[form] {
			total := qdel + int(ref.tcount)
			if total == 0 || total > e.cfg.MaxTypos {
				continue
			}
			wordLen := len([]rune(e.words[ref.wordID].text))
			proc := typoProc(wordLen, total)
			if proc > best[ref.wordID] {
				best[ref.wordID] = proc
			}
		}
	}
	out := make([]wordMatch, 0, len(best))
	for id, proc := range best {
		out = append(out, wordMatch{wordID: id, proc: proc})
	}
	return out
}
