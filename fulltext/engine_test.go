package fulltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildEngine(t *testing.T, cfg Config, docs []Document) *Engine {
	t.Helper()
	e := NewEngine(cfg)
	require.NoError(t, e.Build(docs))
	return e
}

func vdocsOf(matches []Match) []int {
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.VDoc
	}
	return out
}

func TestTokenize(t *testing.T) {
	cfg := DefaultConfig()
	toks := cfg.tokenize("Hello, World! foo-bar 42", 0)
	require.Len(t, toks, 4)
	assert.Equal(t, "hello", toks[0].text)
	assert.Equal(t, "world", toks[1].text)
	assert.Equal(t, "foo-bar", toks[2].text)
	assert.Equal(t, "42", toks[3].text)
	assert.Equal(t, 3, toks[3].pos)
}

func TestSpellNumber(t *testing.T) {
	assert.Equal(t, []string{"zero"}, numberWords("0"))
	assert.Equal(t, []string{"forty", "two"}, numberWords("42"))
	assert.Equal(t,
		[]string{"one", "thousand", "two", "hundred", "thirty", "four"},
		numberWords("1234"))
	assert.Nil(t, numberWords("12a"))
	assert.Nil(t, numberWords(""))
}

func TestExactMatch(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"quick brown fox"}},
		{VDoc: 2, Fields: []string{"lazy dog"}},
	})
	res := e.Select("fox")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)
}

func TestPrefixAndSuffix(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"concrete mixer"}},
		{VDoc: 2, Fields: []string{"electrical grinder"}},
	})
	assert.Empty(t, e.Select("=grind"))
	require.NotEmpty(t, e.Select("grind*"))
	assert.Equal(t, 2, e.Select("grind*")[0].VDoc)
	require.NotEmpty(t, e.Select("*inder"))
	assert.Equal(t, 2, e.Select("*inder")[0].VDoc)
}

func TestPartialMatchRanksBelowExact(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"drill"}},
		{VDoc: 2, Fields: []string{"drilling"}},
	})
	res := e.Select("drill*")
	require.Len(t, res, 2)
	assert.Equal(t, 1, res[0].VDoc)
	assert.Greater(t, res[0].Proc, res[1].Proc)
}

func TestTypoTolerance(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"screwdriver handle"}},
	})
	res := e.Select("screwdrivr")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)

	cfg := DefaultConfig()
	cfg.MaxTypos = 0
	e = buildEngine(t, cfg, []Document{
		{VDoc: 1, Fields: []string{"screwdriver handle"}},
	})
	assert.Empty(t, e.Select("screwdrivr"))
}

func TestTypoRanksBelowExact(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"grinder"}},
		{VDoc: 2, Fields: []string{"grindor"}},
	})
	res := e.Select("grinder")
	require.Len(t, res, 2)
	assert.Equal(t, 1, res[0].VDoc)
	assert.Greater(t, res[0].Proc, res[1].Proc)
}

func TestMustAndNotOperators(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"red apple"}},
		{VDoc: 2, Fields: []string{"green apple"}},
		{VDoc: 3, Fields: []string{"red pear"}},
	})
	res := e.Select("+apple -green")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)

	res = e.Select("apple pear")
	assert.ElementsMatch(t, []int{1, 2, 3}, vdocsOf(res))
}

func TestFullMatchBoost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FullMatchBoost = 1.5
	e := buildEngine(t, cfg, []Document{
		{VDoc: 1, Fields: []string{"hammer"}},
		{VDoc: 2, Fields: []string{"hammer drill"}},
	})
	res := e.Select("hammer")
	require.Len(t, res, 2)
	assert.Equal(t, 1, res[0].VDoc)
	assert.Greater(t, res[0].Proc, res[1].Proc)
}

func TestFieldWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FieldWeights = map[int]float64{0: 2.0, 1: 0.2}
	e := buildEngine(t, cfg, []Document{
		{VDoc: 1, Fields: []string{"spare", "wrench"}},
		{VDoc: 2, Fields: []string{"wrench", "spare"}},
	})
	res := e.Select("wrench")
	require.Len(t, res, 2)
	assert.Equal(t, 2, res[0].VDoc)
}

func TestSynonyms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synonyms = []SynonymDef{{
		Tokens:       []string{"auto"},
		Alternatives: []string{"car"},
	}}
	e := buildEngine(t, cfg, []Document{
		{VDoc: 1, Fields: []string{"used car"}},
	})
	res := e.Select("auto")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)
}

func TestTranslitAndKbLayout(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"молоток"}},
	})
	res := e.Select("molotok")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)

	res = e.Select("vjkjnjr")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)
}

func TestNumbersSearch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableNumbersSearch = true
	e := buildEngine(t, cfg, []Document{
		{VDoc: 1, Fields: []string{"model 42 deluxe"}},
	})
	res := e.Select("forty")
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].VDoc)
}

func TestDistanceBoost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DistanceBoost = 1.0
	e := buildEngine(t, cfg, []Document{
		{VDoc: 1, Fields: []string{"black angle grinder"}},
		{VDoc: 2, Fields: []string{"angle bracket for grinder"}},
	})
	res := e.Select("angle grinder")
	require.Len(t, res, 2)
	assert.Equal(t, 1, res[0].VDoc)
}

func TestMergeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeLimit = 3
	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = Document{VDoc: i, Fields: []string{"widget"}}
	}
	e := buildEngine(t, cfg, docs)
	assert.Len(t, e.Select("widget"), 3)
}

func TestDeletionsBudget(t *testing.T) {
	forms := deletions("abcd", 2)
	assert.Equal(t, 0, forms["abcd"])
	assert.Equal(t, 1, forms["abc"])
	assert.Equal(t, 1, forms["acd"])
	assert.Equal(t, 2, forms["ab"])
	_, tooDeep := forms["a"]
	assert.False(t, tooDeep)
}

func TestParseDSL(t *testing.T) {
	cfg := DefaultConfig()
	terms := cfg.parseDSL("+Must -not =Exact pre* *suf plain")
	require.Len(t, terms, 6)
	assert.Equal(t, opAnd, terms[0].op)
	assert.Equal(t, "must", terms[0].text)
	assert.Equal(t, opNot, terms[1].op)
	assert.True(t, terms[2].exact)
	assert.False(t, terms[2].typosOK)
	assert.True(t, terms[3].prefixOK)
	assert.False(t, terms[3].suffixOK)
	assert.True(t, terms[4].suffixOK)
	assert.Equal(t, opOr, terms[5].op)
	assert.Equal(t, 5, terms[5].qpos)
}

func TestStemVariant(t *testing.T) {
	e := buildEngine(t, DefaultConfig(), []Document{
		{VDoc: 1, Fields: []string{"cutting discs"}},
	})
	res := e.Select("cutting")
	require.Len(t, res, 1)
}
