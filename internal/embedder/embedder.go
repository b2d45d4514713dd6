// Package embedder turns log templates into fixed-length TF-IDF vectors over
// a vocabulary frozen at fit time.
package embedder

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyVocabulary is returned by Fit when no term survives the document
// frequency and size limits.
var ErrEmptyVocabulary = errors.New("embedder: empty vocabulary")

// Params controls vocabulary construction.
type Params struct {
	MinDF       int     `json:"min_df"`       // minimum number of documents containing a term
	MaxDF       float64 `json:"max_df"`       // maximum fraction of documents containing a term
	MaxFeatures int     `json:"max_features"` // vocabulary cap, 0 for unlimited
	NGramMax    int     `json:"ngram_max"`    // longest term sequence
}

// DefaultParams returns the parameters the baseline pipeline is tuned for.
func DefaultParams() Params {
	return Params{
		MinDF:       5,
		MaxDF:       0.9,
		MaxFeatures: 5000,
		NGramMax:    2,
	}
}

// Validate checks that the parameters describe a usable vocabulary.
func (p Params) Validate() error {
	if p.MinDF < 1 {
		return fmt.Errorf("min_df must be >= 1, got %d", p.MinDF)
	}
	if p.MaxDF <= 0 || p.MaxDF > 1 {
		return fmt.Errorf("max_df must be in (0, 1], got %g", p.MaxDF)
	}
	if p.MaxFeatures < 0 {
		return fmt.Errorf("max_features must be >= 0, got %d", p.MaxFeatures)
	}
	if p.NGramMax < 1 {
		return fmt.Errorf("ngram_max must be >= 1, got %d", p.NGramMax)
	}
	return nil
}

// Embedder is a fitted, immutable TF-IDF vectorizer. It is safe for
// concurrent use.
type Embedder struct {
	params      Params
	terms       []string // index -> term, lexicographic
	index       map[string]int
	idf         []float64
	documents   int
	fingerprint string
}

// Fit builds a vocabulary from the corpus. Identical corpora and parameters
// always produce identical embedders.
func Fit(corpus []string, p Params) (*Embedder, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("%w: empty corpus", ErrEmptyVocabulary)
	}

	df := make(map[string]int)
	tf := make(map[string]int)
	seen := make(map[string]struct{})
	for _, doc := range corpus {
		clear(seen)
		for _, term := range analyze(doc, p.NGramMax) {
			tf[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}

	n := len(corpus)
	maxDocs := p.MaxDF * float64(n)

	kept := make([]string, 0, len(df))
	for term, d := range df {
		if d < p.MinDF || float64(d) > maxDocs {
			continue
		}
		kept = append(kept, term)
	}

	if p.MaxFeatures > 0 && len(kept) > p.MaxFeatures {
		sort.Slice(kept, func(i, j int) bool {
			if tf[kept[i]] != tf[kept[j]] {
				return tf[kept[i]] > tf[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:p.MaxFeatures]
	}

	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %d documents, min_df=%d, max_df=%g",
			ErrEmptyVocabulary, n, p.MinDF, p.MaxDF)
	}

	sort.Strings(kept)
	idf := make([]float64, len(kept))
	for i, term := range kept {
		idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	return newEmbedder(p, kept, idf, n), nil
}

func newEmbedder(p Params, terms []string, idf []float64, documents int) *Embedder {
	index := make(map[string]int, len(terms))
	for i, t := range terms {
		index[t] = i
	}
	e := &Embedder{
		params:    p,
		terms:     terms,
		index:     index,
		idf:       idf,
		documents: documents,
	}
	e.fingerprint = e.computeFingerprint()
	return e
}

// Dim returns the vocabulary size, which is the length of every vector.
func (e *Embedder) Dim() int {
	return len(e.terms)
}

// Params returns the parameters the embedder was fitted with.
func (e *Embedder) Params() Params {
	return e.params
}

// Terms returns a copy of the vocabulary in index order.
func (e *Embedder) Terms() []string {
	return append([]string(nil), e.terms...)
}

// Fingerprint identifies the frozen vocabulary and weights. Vectors are only
// comparable between embedders with the same fingerprint.
func (e *Embedder) Fingerprint() string {
	return e.fingerprint
}

// Transform maps text onto the frozen vocabulary. Terms outside the
// vocabulary contribute nothing; text without any known term yields the zero
// vector.
func (e *Embedder) Transform(text string) Vector {
	counts := make(map[int]int)
	for _, term := range analyze(text, e.params.NGramMax) {
		if idx, ok := e.index[term]; ok {
			counts[idx]++
		}
	}

	v := Vector{Dim: len(e.terms)}
	if len(counts) == 0 {
		return v
	}

	v.Indices = make([]int, 0, len(counts))
	for idx := range counts {
		v.Indices = append(v.Indices, idx)
	}
	sort.Ints(v.Indices)

	v.Values = make([]float64, len(v.Indices))
	var sq float64
	for i, idx := range v.Indices {
		w := float64(counts[idx]) * e.idf[idx]
		v.Values[i] = w
		sq += w * w
	}
	norm := math.Sqrt(sq)
	for i := range v.Values {
		v.Values[i] /= norm
	}
	return v
}

// TransformAll embeds every text of the corpus.
func (e *Embedder) TransformAll(texts []string) []Vector {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		out[i] = e.Transform(t)
	}
	return out
}

func (e *Embedder) computeFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%g|%d|%d|%d\n", e.params.MinDF, e.params.MaxDF,
		e.params.MaxFeatures, e.params.NGramMax, e.documents)
	var buf [8]byte
	for i, t := range e.terms {
		h.Write([]byte(t))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.idf[i]))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot is the serializable form of an Embedder.
type Snapshot struct {
	Params      Params    `json:"params"`
	Terms       []string  `json:"terms"`
	IDF         []float64 `json:"idf"`
	Documents   int       `json:"documents"`
	Fingerprint string    `json:"fingerprint"`
}

// Snapshot returns the serializable state of the embedder.
func (e *Embedder) Snapshot() Snapshot {
	return Snapshot{
		Params:      e.params,
		Terms:       e.Terms(),
		IDF:         append([]float64(nil), e.idf...),
		Documents:   e.documents,
		Fingerprint: e.fingerprint,
	}
}

// FromSnapshot rebuilds an Embedder and verifies that the stored fingerprint
// still matches the vocabulary.
func FromSnapshot(s Snapshot) (*Embedder, error) {
	if len(s.Terms) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if len(s.Terms) != len(s.IDF) {
		return nil, fmt.Errorf("embedder: %d terms but %d idf weights", len(s.Terms), len(s.IDF))
	}
	if !sort.StringsAreSorted(s.Terms) {
		return nil, errors.New("embedder: vocabulary is not sorted")
	}
	e := newEmbedder(s.Params, append([]string(nil), s.Terms...), append([]float64(nil), s.IDF...), s.Documents)
	if s.Fingerprint != "" && s.Fingerprint != e.fingerprint {
		return nil, fmt.Errorf("embedder: fingerprint mismatch (stored %.12s, computed %.12s)", s.Fingerprint, e.fingerprint)
	}
	return e, nil
}

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// analyze lower-cases text, splits it into tokens of two or more word
// characters and emits every n-gram up to ngramMax.
func analyze(text string, ngramMax int) []string {
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	if ngramMax <= 1 || len(tokens) < 2 {
		return tokens
	}
	terms := make([]string, 0, len(tokens)*ngramMax)
	terms = append(terms, tokens...)
	for n := 2; n <= ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}
