package lexical

import (
	"math"
	"sort"
	"strings"
)

// minTokenLen drops tokens too short to carry meaning ("a", "of", "to"...).
const minTokenLen = 3

// Tokenize lowercases text, strips everything outside [a-z0-9], and returns
// the remaining terms longer than two characters that are not stop words.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(cleaned)
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen && !stopWords[f] {
			terms = append(terms, f)
		}
	}
	return terms
}

// BuildKeywordVector computes the sparse term-weight map persisted as
// keyword_vector. Weights are augmented term frequency (0.5 + 0.5*f/maxF),
// so a term's weight never dominates purely through repetition.
func BuildKeywordVector(text string) map[string]float64 {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return map[string]float64{}
	}

	tf := make(map[string]int, len(terms))
	maxFreq := 0
	for _, term := range terms {
		tf[term]++
		if tf[term] > maxFreq {
			maxFreq = tf[term]
		}
	}

	vector := make(map[string]float64, len(tf))
	for term, freq := range tf {
		vector[term] = 0.5 + 0.5*float64(freq)/float64(maxFreq)
	}
	return vector
}

// CosineSimilarity computes the cosine of two sparse vectors. A vector's
// similarity with itself is exactly 1.0: the denominator is sqrt(magA*magB),
// which collapses to the dot product when the vectors are identical.
//
// All three sums accumulate in sorted term order. Map iteration order is
// randomized and float64 addition is not associative, so summing in whatever
// order the maps yield would let the same pair of vectors score an ulp apart
// across calls and push self-similarity off 1.0.
func CosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	terms := make([]string, 0, len(a))
	for term := range a {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var dot, magA, magB float64
	for _, term := range terms {
		va := a[term]
		magA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
			magB += vb * vb
		}
	}
	if dot == 0 {
		return 0
	}

	rest := make([]string, 0, len(b))
	for term := range b {
		if _, ok := a[term]; !ok {
			rest = append(rest, term)
		}
	}
	sort.Strings(rest)
	for _, term := range rest {
		vb := b[term]
		magB += vb * vb
	}
	return dot / math.Sqrt(magA*magB)
}

// stopWords are never indexed; matching on them says nothing about relevance.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true, "have": true, "been": true,
	"will": true, "more": true, "when": true, "who": true, "its": true, "let": true,
	"say": true, "she": true, "too": true, "use": true, "way": true, "about": true,
	"many": true, "then": true, "them": true, "same": true, "how": true, "may": true,
	"with": true, "also": true, "from": true, "that": true, "this": true, "what": true,
	"which": true, "their": true, "there": true, "these": true, "those": true,
	"would": true, "could": true, "should": true, "into": true, "than": true,
	"other": true, "some": true, "very": true, "just": true, "because": true,
	"each": true, "any": true, "such": true, "like": true, "through": true,
	"over": true, "after": true, "before": true, "between": true,
}
