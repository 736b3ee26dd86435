package match

import (
	"sort"

	"lingsync/internal/model"
)

// Status classifies the outcome of matching one Anki note against the
// LingQ card snapshot.
type Status string

const (
	// StatusLinked means exactly one card matched (or a PK was already set).
	StatusLinked Status = "linked"
	// StatusCreateNeeded means no card matched; a new one may be created.
	StatusCreateNeeded Status = "create_needed"
	// StatusAmbiguous means multiple cards matched on term+translation.
	StatusAmbiguous Status = "ambiguous"
)

// Result is the outcome of a match attempt.
type Result struct {
	Status        Status
	LingqPK       int
	CanonicalTerm string
	// Candidates holds all matching cards when Status is StatusAmbiguous,
	// sorted by ascending PK.
	Candidates []model.Card
}

// ByTermTranslation matches a single term+translation pair against cards
// sharing the normalized term. A card matches when it carries a hint in
// meaningLocale whose normalized text equals the normalized translation.
func ByTermTranslation(cards []model.Card, term, translation, meaningLocale string) Result {
	termNorm := Normalize(term)
	translationNorm := Normalize(translation)

	var matches []model.Card
	for _, card := range cards {
		if Normalize(card.Term) != termNorm {
			continue
		}
		for _, hint := range card.HintsInLocale(meaningLocale) {
			if Normalize(hint.Text) == translationNorm {
				matches = append(matches, card)
				break
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].PK < matches[j].PK })

	switch len(matches) {
	case 0:
		return Result{Status: StatusCreateNeeded}
	case 1:
		return Result{
			Status:        StatusLinked,
			LingqPK:       matches[0].PK,
			CanonicalTerm: matches[0].Term,
		}
	default:
		return Result{Status: StatusAmbiguous, Candidates: matches}
	}
}

// PrimaryTranslation picks the single deterministic "primary" translation
// of a card in the given locale: highest popularity first, ties broken by
// normalized text. Returns "" when the card has no hint in the locale.
func PrimaryTranslation(card model.Card, locale string) string {
	hints := card.HintsInLocale(locale)
	if len(hints) == 0 {
		return ""
	}
	best := hints[0]
	for _, h := range hints[1:] {
		if h.Popularity > best.Popularity {
			best = h
			continue
		}
		if h.Popularity == best.Popularity && Normalize(h.Text) < Normalize(best.Text) {
			best = h
		}
	}
	return best.Text
}
