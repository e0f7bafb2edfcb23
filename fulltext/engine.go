package fulltext

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Document is one searchable vdoc: an id plus one text per field, in
// fields-set order.
type Document struct {
	VDoc   int
	Fields []string
}

// Match is one ranked result. Proc is the 0..255 relevance percent.
type Match struct {
	VDoc int
	Proc int
}

type wordVDoc struct {
	vdoc      int
	field     int
	positions []int32
}

type wordEntry struct {
	text  string
	vdocs []wordVDoc
	// virtual words come from number spelling and only get their
	// canonical suffix-array entry.
	virtual  bool
	docCount int
}

// Engine is the fast fulltext engine: word map, suffix array, typo map
// and BM25 merge ranking.
type Engine struct {
	cfg       Config
	words     []*wordEntry
	wordIDs   map[string]int32
	suffixes  suffixArray
	typos     map[string][]typoRef
	docCount  int
	docLens   map[int]map[int]int
	avgLens   map[int]float64
	vdocWords map[int]int
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

type buildShard struct {
	words     map[string]*wordEntry
	docLens   map[int]map[int]int
	vdocWords map[int]int
}

func (c Config) buildShard(docs []Document) *buildShard {
	s := &buildShard{
		words:     make(map[string]*wordEntry),
		docLens:   make(map[int]map[int]int),
		vdocWords: make(map[int]int),
	}
	record := func(text string, vdoc, field int, pos int32, virtual bool) {
		w := s.words[text]
		if w == nil {
			w = &wordEntry{text: text, virtual: virtual}
			s.words[text] = w
		}
		if !virtual {
			w.virtual = false
		}
		n := len(w.vdocs)
		if n > 0 && w.vdocs[n-1].vdoc == vdoc && w.vdocs[n-1].field == field {
			w.vdocs[n-1].positions = append(w.vdocs[n-1].positions, pos)
			return
		}
		w.vdocs = append(w.vdocs, wordVDoc{vdoc: vdoc, field: field, positions: []int32{pos}})
	}
	for _, doc := range docs {
		seen := make(map[string]struct{})
		lens := make(map[int]int)
		for field, text := range doc.Fields {
			toks := c.tokenize(text, field)
			lens[field] = len(toks)
			for _, tok := range toks {
				record(tok.text, doc.VDoc, field, int32(tok.pos), false)
				seen[tok.text] = struct{}{}
				if c.EnableNumbersSearch {
					for _, spelled := range numberWords(tok.text) {
						record(spelled, doc.VDoc, field, int32(tok.pos), true)
					}
				}
			}
		}
		s.docLens[doc.VDoc] = lens
		s.vdocWords[doc.VDoc] = len(seen)
	}
	return s
}

// Build indexes the documents, replacing any previous state. The word
// map is built in up to cfg.Workers shards and merged.
func (e *Engine) Build(docs []Document) error {
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(docs) {
		workers = max(1, len(docs))
	}
	shards := make([]*buildShard, workers)
	chunk := (len(docs) + workers - 1) / workers
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		lo := min(i*chunk, len(docs))
		hi := min(lo+chunk, len(docs))
		g.Go(func() error {
			shards[i] = e.cfg.buildShard(docs[lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged := make(map[string]*wordEntry)
	e.docLens = make(map[int]map[int]int)
	e.vdocWords = make(map[int]int)
	for _, s := range shards {
		for text, w := range s.words {
			m := merged[text]
			if m == nil {
				merged[text] = w
				continue
			}
			m.vdocs = append(m.vdocs, w.vdocs...)
			if !w.virtual {
				m.virtual = false
			}
		}
		for vdoc, lens := range s.docLens {
			e.docLens[vdoc] = lens
		}
		for vdoc, n := range s.vdocWords {
			e.vdocWords[vdoc] = n
		}
	}

	texts := make([]string, 0, len(merged))
	for text := range merged {
		texts = append(texts, text)
	}
	sort.Strings(texts)
	e.words = make([]*wordEntry, len(texts))
	e.wordIDs = make(map[string]int32, len(texts))
	for i, text := range texts {
		w := merged[text]
		sort.Slice(w.vdocs, func(a, b int) bool {
			if w.vdocs[a].vdoc != w.vdocs[b].vdoc {
				return w.vdocs[a].vdoc < w.vdocs[b].vdoc
			}
			return w.vdocs[a].field < w.vdocs[b].field
		})
		prev := -1
		for _, wv := range w.vdocs {
			if wv.vdoc != prev {
				w.docCount++
				prev = wv.vdoc
			}
		}
		e.words[i] = w
		e.wordIDs[text] = int32(i)
	}

	e.docCount = len(e.docLens)
	e.avgLens = make(map[int]float64)
	fieldDocs := make(map[int]int)
	for _, lens := range e.docLens {
		for field, l := range lens {
			e.avgLens[field] += float64(l)
			fieldDocs[field]++
		}
	}
	for field := range e.avgLens {
		e.avgLens[field] /= float64(fieldDocs[field])
	}

	e.suffixes = buildSuffixArray(e.words)
	e.typos = e.cfg.buildTypoMap(e.words)
	return nil
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

func (e *Engine) bm25(tf, docLen int, avgLen float64, docsWithWord int) float64 {
	idf := math.Log(1 + (float64(e.docCount)-float64(docsWithWord)+0.5)/(float64(docsWithWord)+0.5))
	norm := 1 - bm25B + bm25B*float64(docLen)/math.Max(avgLen, 1)
	return idf * float64(tf) * (bm25K1 + 1) / (float64(tf) + bm25K1*norm)
}

func termLenBoost(term string) float64 {
	return math.Min(1.2, 0.8+0.05*float64(len([]rune(term))))
}

func positionRank(pos int32) float64 {
	return 1 / (1 + 0.05*math.Min(float64(pos), 100))
}

// termHit is one vdoc's accumulated rank for a single query term.
type termHit struct {
	rank float64
	pos  int32
}

// matchTerm expands a term into variants and typos, looks every form up
// and folds the per-word ranks into per-vdoc hits.
func (e *Engine) matchTerm(t queryTerm) map[int]termHit {
	variants := e.cfg.termVariants(t.text)
	if t.exact {
		variants = variants[:1]
	}
	bestWord := make(map[int32]int)
	for _, v := range variants {
		for _, m := range e.suffixes.Lookup(v.text, v.proc, t.prefixOK, t.suffixOK, e.cfg.PartialMatchDecrease) {
			if m.proc > bestWord[m.wordID] {
				bestWord[m.wordID] = m.proc
			}
		}
	}
	if t.typosOK {
		for _, m := range e.lookupTypos(t.text) {
			if m.proc > bestWord[m.wordID] {
				bestWord[m.wordID] = m.proc
			}
		}
	}

	type fieldAcc struct {
		best   float64
		sum    float64
		minPos int32
	}
	acc := make(map[int]*fieldAcc)
	lenBoost := termLenBoost(t.text)
	for wordID, proc := range bestWord {
		w := e.words[wordID]
		for _, wv := range w.vdocs {
			docLen := e.docLens[wv.vdoc][wv.field]
			r := e.cfg.fieldWeight(wv.field) *
				float64(proc) / 100 *
				e.bm25(len(wv.positions), docLen, e.avgLens[wv.field], w.docCount) *
				lenBoost *
				positionRank(wv.positions[0])
			a := acc[wv.vdoc]
			if a == nil {
				a = &fieldAcc{minPos: wv.positions[0]}
				acc[wv.vdoc] = a
			}
			a.sum += r
			if r > a.best {
				a.best = r
			}
			if wv.positions[0] < a.minPos {
				a.minPos = wv.positions[0]
			}
		}
	}

	hits := make(map[int]termHit, len(acc))
	for vdoc, a := range acc {
		rank := a.best + e.cfg.SumRanksByFieldsRatio*(a.sum-a.best)
		hits[vdoc] = termHit{rank: rank, pos: a.minPos}
	}
	return hits
}

// Select runs a DSL query and returns ranked matches, best first.
func (e *Engine) Select(q string) []Match {
	terms := e.cfg.parseDSL(q)
	if len(terms) == 0 || e.docCount == 0 {
		return nil
	}

	type docAcc struct {
		andRank  float64
		orBest   float64
		matched  int
		must     int
		lastQpos int
		lastPos  int32
	}
	merged := make(map[int]*docAcc)
	excluded := make(map[int]struct{})
	mustCount := 0
	positive := 0

	for _, t := range terms {
		hits := e.matchTerm(t)
		if t.op == opNot {
			for vdoc := range hits {
				excluded[vdoc] = struct{}{}
			}
			continue
		}
		positive++
		if t.op == opAnd {
			mustCount++
		}
		for vdoc, h := range hits {
			a := merged[vdoc]
			if a == nil {
				a = &docAcc{lastQpos: -2}
				merged[vdoc] = a
			}
			rank := h.rank
			if e.cfg.DistanceBoost > 0 && a.matched > 0 && t.qpos == a.lastQpos+1 {
				posGap := int(h.pos - a.lastPos)
				if posGap < 0 {
					posGap = -posGap
				}
				dist := posGap - 1
				if dist < 0 {
					dist = -dist
				}
				rank *= 1 + e.cfg.DistanceBoost/float64(1+dist)
			}
			switch t.op {
			case opAnd:
				a.andRank += rank
				a.must++
			default:
				if rank > a.orBest {
					a.orBest = rank
				}
			}
			a.matched++
			a.lastQpos = t.qpos
			a.lastPos = h.pos
		}
	}

	type scored struct {
		vdoc int
		rank float64
	}
	var out []scored
	rawMax := 0.0
	for vdoc, a := range merged {
		if _, skip := excluded[vdoc]; skip {
			continue
		}
		if a.must < mustCount {
			continue
		}
		rank := a.andRank + a.orBest
		if rank > rawMax {
			rawMax = rank
		}
		out = append(out, scored{vdoc: vdoc, rank: rank})
	}
	if len(out) == 0 || rawMax == 0 {
		return nil
	}
	if e.cfg.FullMatchBoost > 1 {
		for i := range out {
			a := merged[out[i].vdoc]
			if a.matched >= positive && e.vdocWords[out[i].vdoc] == positive {
				out[i].rank *= e.cfg.FullMatchBoost
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank > out[j].rank
		}
		return out[i].vdoc < out[j].vdoc
	})
	limit := e.cfg.MergeLimit
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	res := make([]Match, len(out))
	for i, s := range out {
		proc := int(math.Round(s.rank / rawMax * 100))
		if proc > 255 {
			proc = 255
		}
		if proc < 1 {
			proc = 1
		}
		res[i] = Match{VDoc: s.vdoc, Proc: proc}
	}
	return res
}
