// Package progress decides which side's learning progress wins for a
// linked note/card pair, and maps between LingQ mastery tiers and Anki
// scheduling values.
//
// The guiding rule: whichever side shows first evidence of the learner's
// actual activity is authoritative. An untouched side never silently
// overwrites an active side, and polysemous cards never drive Anki
// schedule writes.
package progress

import (
	"strings"

	"lingsync/internal/model"
	"lingsync/internal/options"
)

// Tier is the coarse mastery bucket derived from LingQ status.
type Tier string

const (
	TierNew      Tier = "new"
	TierLearning Tier = "learning"
	TierLearned  Tier = "learned"
	TierKnown    Tier = "known"
	TierUnknown  Tier = "unknown"
)

// TierFromStatus maps a LingQ status (plus optional extended status) to a
// mastery tier. status=3 with extended_status=3 is the legacy encoding of
// "known"; newer payloads use status=4.
func TierFromStatus(status int, extendedStatus *int) Tier {
	if status == model.StatusLearned && extendedStatus != nil && *extendedStatus == 3 {
		return TierKnown
	}
	switch status {
	case model.StatusNew:
		return TierNew
	case model.StatusRecognized, model.StatusFamiliar:
		return TierLearning
	case model.StatusLearned:
		return TierLearned
	case model.StatusKnown:
		return TierKnown
	default:
		return TierUnknown
	}
}

// DaysForTier maps a tier to the forward-looking due offset in days used
// when rescheduling Anki cards from LingQ progress. The values are
// heuristic and kept as one table so they can be tuned in one place.
func DaysForTier(tier Tier) (int, bool) {
	switch tier {
	case TierNew:
		return 0, true
	case TierLearning:
		return 4, true
	case TierLearned:
		return 28, true
	case TierKnown:
		return 90, true
	default:
		return 0, false
	}
}

// StatusFromReviews derives a LingQ status from Anki review evidence:
// repetition count and the note's largest interval in days. The result is
// clamped to [0,4] and callers must treat it as a floor, never lowering an
// existing LingQ status (monotonic non-decreasing).
func StatusFromReviews(reps, maxIntervalDays int) int {
	status := 0
	if reps >= 1 {
		status = 1
	}
	if reps >= 3 {
		status = 2
	}
	if maxIntervalDays >= 21 {
		status = 3
	}
	if maxIntervalDays >= 90 {
		status = 4
	}
	return status
}

// CountHintsInLocale counts non-blank hints in the given locale.
func CountHintsInLocale(hints []model.Hint, locale string) int {
	loc := strings.TrimSpace(locale)
	if loc == "" {
		return 0
	}
	count := 0
	for _, h := range hints {
		if h.Locale != loc {
			continue
		}
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		count++
	}
	return count
}

// HasPolysemy reports whether a card has multiple hints in the meaning
// locale. Such cards represent multiple senses: a single due date cannot
// stand for all of them, so LingQ→Anki schedule writes are gated off.
func HasPolysemy(hints []model.Hint, locale string) bool {
	return CountHintsInLocale(hints, locale) > 1
}

// Comparison is the outcome of comparing progress for one linked pair.
type Comparison struct {
	SyncToLingq bool
	SyncToAnki  bool
	Tier        Tier
	Reason      string
}

// Input carries everything Compare needs for one linked pair.
type Input struct {
	LingqStatus         int
	LingqExtendedStatus *int
	Hints               []model.Hint
	MeaningLocale       string
	AnkiHasReviews      bool
	SchedulingEnabled   bool
	Authority           options.ProgressAuthority
}

// Compare applies the progress decision table, first match wins:
//
//  1. Scheduling disabled → no sync either direction.
//  2. Anki reviewed and LingQ tier is new → Anki leads.
//  3. Anki unreviewed and LingQ tier not new → LingQ leads, unless the
//     card is polysemous in the meaning locale.
//  4. Otherwise → no action.
//
// A PREFER_ANKI / PREFER_LINGQ authority forces the direction when the
// Anki side has been reviewed, replacing rules 2 and 3.
func Compare(in Input) Comparison {
	tier := TierFromStatus(in.LingqStatus, in.LingqExtendedStatus)

	if !in.SchedulingEnabled {
		return Comparison{Tier: tier, Reason: "scheduling_writes_disabled"}
	}

	if in.AnkiHasReviews {
		switch in.Authority {
		case options.AuthorityPreferAnki:
			return Comparison{SyncToLingq: true, Tier: tier, Reason: "anki_priority_forced"}
		case options.AuthorityPreferLingq:
			if HasPolysemy(in.Hints, in.MeaningLocale) {
				return Comparison{Tier: tier, Reason: "polysemy_skip_lingq_to_anki"}
			}
			return Comparison{SyncToAnki: true, Tier: tier, Reason: "lingq_priority_forced"}
		}
	}

	if in.AnkiHasReviews && tier == TierNew {
		return Comparison{SyncToLingq: true, Tier: tier, Reason: "anki_has_reviews_lingq_new"}
	}

	if !in.AnkiHasReviews && tier != TierNew {
		if HasPolysemy(in.Hints, in.MeaningLocale) {
			return Comparison{Tier: tier, Reason: "polysemy_skip_lingq_to_anki"}
		}
		return Comparison{SyncToAnki: true, Tier: tier, Reason: "lingq_has_progress_anki_no_reviews"}
	}

	return Comparison{Tier: tier, Reason: "no_action"}
}
