// Package match provides text normalization and term/translation matching
// between Anki notes and LingQ cards.
package match

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// outerPunctuation is the set stripped from the ends of normalized text.
const outerPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Normalize canonicalizes text for fuzzy equality comparison. It is the
// sole equality oracle for term and translation matching; every matching
// decision routes through it.
//
// Pipeline, in order:
//  1. NFKC compatibility normalization
//  2. Case folding (aggressive lowercase)
//  3. Collapse whitespace runs to a single space
//  4. Trim surrounding whitespace
//  5. Strip leading/trailing punctuation (inner punctuation preserved)
//
// Total over all strings; blank input normalizes to "".
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = foldCaser.String(text)
	text = strings.Join(strings.Fields(text), " ")
	text = strings.Trim(text, outerPunctuation)
	return strings.TrimSpace(text)
}

// SplitTranslations splits an Anki translation field into candidate
// translations. Fields are split on newlines only; a single field value
// may carry multiple senses, one per line.
func SplitTranslations(fieldValue string) []string {
	var out []string
	for _, line := range strings.Split(fieldValue, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(line))
	}
	return out
}
