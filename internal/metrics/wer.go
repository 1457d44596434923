// internal/metrics/wer.go
package metrics

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// WordErrors are the edit operations aligning a hypothesis to a reference.
type WordErrors struct {
	Substitutions  int `json:"substitutions"`
	Deletions      int `json:"deletions"`
	Insertions     int `json:"insertions"`
	ReferenceWords int `json:"reference_words"`
}

// Errors is the total number of edits.
func (w WordErrors) Errors() int {
	return w.Substitutions + w.Deletions + w.Insertions
}

// WER is (S+D+I)/N. With an empty reference the denominator is 1, so any
// hypothesis words count as insertions rather than dividing by zero.
func (w WordErrors) WER() float64 {
	n := w.ReferenceWords
	if n < 1 {
		n = 1
	}
	return float64(w.Errors()) / float64(n)
}

// Tokenize splits text on whitespace, lowercasing unless caseSensitive.
func Tokenize(text string, caseSensitive bool) []string {
	if !caseSensitive {
		text = strings.ToLower(text)
	}
	return strings.Fields(text)
}

// Align computes unit-cost word edits between reference and hypothesis.
func Align(reference, hypothesis []string) WordErrors {
	ref, hyp := intern(reference, hypothesis)
	we := WordErrors{ReferenceWords: len(reference)}
	for _, op := range levenshtein.EditScriptForStrings(ref, hyp, levenshtein.DefaultOptionsWithSub) {
		switch op {
		case levenshtein.Sub:
			we.Substitutions++
		case levenshtein.Del:
			we.Deletions++
		case levenshtein.Ins:
			we.Insertions++
		}
	}
	return we
}

// intern maps each distinct word to one rune so token sequences can be
// aligned with the rune-based edit distance.
func intern(a, b []string) ([]rune, []rune) {
	ids := make(map[string]rune, len(a)+len(b))
	conv := func(words []string) []rune {
		out := make([]rune, len(words))
		for i, w := range words {
			id, ok := ids[w]
			if !ok {
				id = rune(len(ids) + 1)
				ids[w] = id
			}
			out[i] = id
		}
		return out
	}
	return conv(a), conv(b)
}
