// Package fulltext implements the fast fulltext engine: a word map with
// a suffix array, typo and variant expansion, and BM25 + positional
// merge ranking over virtual documents.
package fulltext

// Config tunes tokenization, typo tolerance and ranking.
type Config struct {
	// ExtraWordSymbols are treated as word characters besides letters and
	// digits.
	ExtraWordSymbols string `json:"extra_word_symbols"`
	// MaxTypos is the per-word typo budget (character deletions).
	MaxTypos int `json:"max_typos_in_word"`
	// MinTermLenForTypos disables typo expansion for shorter terms.
	MinTermLenForTypos int `json:"min_term_len_for_typos"`
	// PartialMatchDecrease weights down prefix/suffix matches, in percent
	// per relative length delta.
	PartialMatchDecrease int `json:"partial_match_decrease"`
	// StemPenalty is subtracted from the proc of stem-derived variants.
	StemPenalty int `json:"stem_penalty"`
	// FullMatchBoost multiplies the rank when every vdoc word matched the
	// query.
	FullMatchBoost float64 `json:"full_match_boost"`
	// DistanceBoost rewards adjacent query terms appearing adjacently.
	DistanceBoost float64 `json:"distance_boost"`
	// FieldWeights maps a fields-set position to its ranking weight.
	// Missing positions weigh 1.0.
	FieldWeights map[int]float64 `json:"field_weights"`
	// SumRanksByFieldsRatio adds this share of secondary-field ranks on
	// top of the best field rank. Zero keeps only the best field.
	SumRanksByFieldsRatio float64 `json:"sum_ranks_by_fields_ratio"`
	// MergeLimit caps the merged result size.
	MergeLimit int `json:"merge_limit"`
	// Workers bounds the word-map build parallelism.
	Workers int `json:"workers"`
	// EnableTranslit adds Russian-Latin transliteration variants.
	EnableTranslit bool `json:"enable_translit"`
	// EnableKbLayout adds wrong-keyboard-layout variants.
	EnableKbLayout bool `json:"enable_kb_layout"`
	// EnableNumbersSearch expands integer tokens to spelled-out words.
	EnableNumbersSearch bool `json:"enable_numbers_search"`
	// Synonyms lists token groups that match each other.
	Synonyms []SynonymDef `json:"synonyms"`
}

// SynonymDef maps query tokens to alternative tokens.
type SynonymDef struct {
	Tokens       []string `json:"tokens"`
	Alternatives []string `json:"alternatives"`
}

// DefaultConfig returns the tuning the fast index ships with.
func DefaultConfig() Config {
	return Config{
		ExtraWordSymbols:     "-/+",
		MaxTypos:             2,
		MinTermLenForTypos:   4,
		PartialMatchDecrease: 15,
		StemPenalty:          15,
		FullMatchBoost:       1.1,
		DistanceBoost:        1.0,
		MergeLimit:           20000,
		Workers:              8,
		EnableTranslit:       true,
		EnableKbLayout:       true,
	}
}

func (c Config) fieldWeight(field int) float64 {
	if w, ok := c.FieldWeights[field]; ok {
		return w
	}
	return 1.0
}
