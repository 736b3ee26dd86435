// Package hints reconciles translation hints between Anki note fields and
// LingQ cards. Payloads are deduplicated and sorted so that re-running a
// sync with the same logical inputs produces byte-identical output.
package hints

import (
	"sort"

	"lingsync/internal/match"
	"lingsync/internal/model"
)

// FindMissing returns the Anki translations whose normalized form is not
// present among the card's hints for the given locale. Original text and
// first-seen order are preserved; duplicates (by normalized form) collapse
// to the first occurrence.
func FindMissing(translations []string, existing []model.Hint, locale string) []string {
	existingNorms := make(map[string]bool)
	for _, h := range existing {
		if h.Locale != locale {
			continue
		}
		if norm := match.Normalize(h.Text); norm != "" {
			existingNorms[norm] = true
		}
	}

	var missing []string
	seen := make(map[string]bool)
	for _, t := range translations {
		norm := match.Normalize(t)
		if norm == "" || existingNorms[norm] || seen[norm] {
			continue
		}
		missing = append(missing, t)
		seen[norm] = true
	}
	return missing
}

// BuildPayload unions existing hints with new translations in the given
// locale, deduplicates by (locale, normalized text) keeping the first
// occurrence, and sorts by (normalized text, locale, original text).
func BuildPayload(existing []model.Hint, newTranslations []string, locale string) []model.Hint {
	payload := make([]model.Hint, 0, len(existing)+len(newTranslations))
	payload = append(payload, existing...)

	for _, t := range newTranslations {
		if match.Normalize(t) == "" {
			continue
		}
		payload = append(payload, model.Hint{Locale: locale, Text: t})
	}

	payload = Deduplicate(payload)

	sort.SliceStable(payload, func(i, j int) bool {
		ni, nj := match.Normalize(payload[i].Text), match.Normalize(payload[j].Text)
		if ni != nj {
			return ni < nj
		}
		if payload[i].Locale != payload[j].Locale {
			return payload[i].Locale < payload[j].Locale
		}
		return payload[i].Text < payload[j].Text
	})

	return payload
}

// Deduplicate removes duplicate hints by (locale, normalized text),
// keeping the first occurrence.
func Deduplicate(hints []model.Hint) []model.Hint {
	type key struct {
		locale string
		norm   string
	}

	seen := make(map[key]bool)
	deduped := make([]model.Hint, 0, len(hints))
	for _, h := range hints {
		k := key{locale: h.Locale, norm: match.Normalize(h.Text)}
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, h)
	}
	return deduped
}

// Equivalent reports whether two hint payloads describe the same set of
// (locale, normalized text) pairs. An update is only worth emitting when
// the payloads are not equivalent; re-ordering or re-casing alone does
// not count as a change.
func Equivalent(a, b []model.Hint) bool {
	set := func(hints []model.Hint) map[[2]string]bool {
		m := make(map[[2]string]bool)
		for _, h := range hints {
			norm := match.Normalize(h.Text)
			if norm == "" {
				continue
			}
			m[[2]string{h.Locale, norm}] = true
		}
		return m
	}

	sa, sb := set(a), set(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if !sb[k] {
			return false
		}
	}
	return true
}
