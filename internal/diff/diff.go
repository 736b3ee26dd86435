// Package diff computes a SyncPlan from snapshots of both stores. Given
// the full set of Anki notes and LingQ cards, a profile, and optional run
// options, it links entities by primary key or by normalized
// term+translation and emits one terminal operation per record: linked,
// created, skipped, or in conflict. Nothing is silently dropped.
package diff

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"lingsync/internal/config"
	"lingsync/internal/hints"
	"lingsync/internal/logging"
	"lingsync/internal/match"
	"lingsync/internal/model"
	"lingsync/internal/options"
	"lingsync/internal/plan"
	"lingsync/internal/progress"
)

// Engine computes sync plans for one profile.
type Engine struct {
	profile config.Profile
	// opts is nil when the caller supplied no run options; every
	// policy-dependent branch then falls back to emitting a conflict
	// instead of guessing.
	opts              *options.RunOptions
	schedulingEnabled bool
}

// New creates a diff engine. A nil opts disables all policy-dependent
// resolution; scheduling writes then follow the profile toggle alone.
func New(profile config.Profile, opts *options.RunOptions) *Engine {
	enabled := profile.EnableSchedulingWrites
	if opts != nil {
		enabled = opts.SchedulingWrite.Enabled(profile.EnableSchedulingWrites)
	}
	return &Engine{profile: profile, opts: opts, schedulingEnabled: enabled}
}

// state tracks claims made while computing one plan.
type state struct {
	plan *plan.Plan
	// claimedPKs maps a LingQ PK to the note id that claimed it,
	// either through a pre-existing identity field or a link emitted
	// during this run.
	claimedPKs map[int]int64
	// consumedNotes holds note ids that reached a terminal operation.
	consumedNotes map[int64]bool
}

// Compute indexes both snapshots and produces the complete plan. Both
// inputs are sorted internally (notes by id, cards by pk) so the emitted
// operation set and counts do not depend on input ordering.
func (e *Engine) Compute(notes []model.Note, cards []model.Card) *plan.Plan {
	defer logging.Timer("diff")()

	sortedNotes := make([]model.Note, len(notes))
	copy(sortedNotes, notes)
	sort.Slice(sortedNotes, func(i, j int) bool { return sortedNotes[i].ID < sortedNotes[j].ID })

	sortedCards := make([]model.Card, len(cards))
	copy(sortedCards, cards)
	sort.Slice(sortedCards, func(i, j int) bool { return sortedCards[i].PK < sortedCards[j].PK })

	cardsByPK := make(map[int]model.Card, len(sortedCards))
	for _, c := range sortedCards {
		cardsByPK[c.PK] = c
	}

	st := &state{
		plan:          &plan.Plan{ProfileName: e.profile.Name},
		claimedPKs:    make(map[int]int64),
		consumedNotes: make(map[int64]bool),
	}

	logging.Debug("computing sync plan",
		logging.Profile(e.profile.Name),
		logging.Language(e.profile.LingqLanguage),
		slog.Int("anki_notes", len(sortedNotes)),
		slog.Int("lingq_cards", len(sortedCards)),
	)

	for _, note := range sortedNotes {
		e.processNote(st, note, sortedCards, cardsByPK)
	}

	for _, card := range sortedCards {
		if _, claimed := st.claimedPKs[card.PK]; claimed {
			continue
		}
		e.processCard(st, card, sortedNotes)
	}

	logging.Debug("sync plan computed",
		logging.Profile(e.profile.Name),
		logging.Count(len(st.plan.Operations)),
	)

	return st.plan
}

// processNote runs pass 1 (flashcard → service) for a single note.
func (e *Engine) processNote(st *state, note model.Note, cards []model.Card, cardsByPK map[int]model.Card) {
	idFields := e.profile.LingqToAnki.IdentityFields
	rawPK := strings.TrimSpace(note.Field(idFields.PKField))

	if rawPK != "" {
		e.processLinkedNote(st, note, rawPK, cardsByPK)
		return
	}

	term := note.Field(e.profile.AnkiToLingq.TermField)
	if match.Normalize(term) == "" {
		e.skipNote(st, note, term, "missing_term")
		return
	}

	candidates := e.translationCandidates(note)
	if len(candidates) == 0 {
		e.skipNote(st, note, term, "missing_translation")
		return
	}

	translation, ok := e.resolveTranslation(st, note, term, candidates)
	if !ok {
		return
	}

	e.matchNote(st, note, term, translation, cards)
}

// processLinkedNote handles a note that already carries a PK value. The
// PK field is the single source of truth: it always wins over any
// text-based match, and a dangling or duplicate value is a conflict,
// never auto-corrected.
func (e *Engine) processLinkedNote(st *state, note model.Note, rawPK string, cardsByPK map[int]model.Card) {
	term := note.Field(e.profile.AnkiToLingq.TermField)

	pk, err := strconv.Atoi(rawPK)
	if err != nil {
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpConflict,
			AnkiNoteID: note.ID,
			Term:       term,
			Details: plan.ConflictDetails{
				Type:              plan.ConflictDanglingPK,
				RecommendedAction: "fix or clear the identity field; it does not hold a LingQ pk",
				ExistingPKValue:   rawPK,
			},
		})
		return
	}

	card, found := cardsByPK[pk]
	if !found {
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpConflict,
			AnkiNoteID: note.ID,
			LingqPK:    pk,
			Term:       term,
			Details: plan.ConflictDetails{
				Type:              plan.ConflictDanglingPK,
				RecommendedAction: "the linked LingQ card no longer exists; clear the identity field or restore the card",
				ExistingPKValue:   rawPK,
			},
		})
		return
	}

	if claimedBy, claimed := st.claimedPKs[pk]; claimed {
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpConflict,
			AnkiNoteID: note.ID,
			LingqPK:    pk,
			Term:       term,
			Details: plan.ConflictDetails{
				Type:              plan.ConflictDuplicatePK,
				RecommendedAction: "two notes claim the same LingQ card; clear the identity field on one of them",
				ExistingPKValue:   rawPK,
				ClaimedByNoteID:   claimedBy,
			},
		})
		return
	}

	st.claimedPKs[pk] = note.ID
	st.consumedNotes[note.ID] = true
	e.updatePair(st, note, card)
}

// matchNote searches unclaimed cards sharing the normalized term for a
// hint matching the translation, then emits link/create/conflict/skip.
func (e *Engine) matchNote(st *state, note model.Note, term, translation string, cards []model.Card) {
	unclaimed := make([]model.Card, 0, len(cards))
	for _, c := range cards {
		if _, claimed := st.claimedPKs[c.PK]; !claimed {
			unclaimed = append(unclaimed, c)
		}
	}

	res := match.ByTermTranslation(unclaimed, term, translation, e.profile.MeaningLocale)

	switch res.Status {
	case match.StatusLinked:
		card := cardByPK(unclaimed, res.LingqPK)
		e.link(st, note, card)

	case match.StatusCreateNeeded:
		if !note.HasReviews() {
			e.skipNote(st, note, term, "anki_unreviewed_skip_create_lingq")
			return
		}
		st.consumedNotes[note.ID] = true
		desired := progress.StatusFromReviews(noteMaxReps(note), note.MaxInterval())
		details := plan.CreateLingqDetails{
			Language:      e.profile.LingqLanguage,
			Hints:         hints.BuildPayload(nil, e.translationCandidates(note), e.profile.MeaningLocale),
			DesiredStatus: &desired,
			Identity: &plan.IdentityRef{
				PKField:            e.profile.LingqToAnki.IdentityFields.PKField,
				CanonicalTermField: e.profile.LingqToAnki.IdentityFields.CanonicalTermField,
				CanonicalTermValue: term,
			},
		}
		if f := e.profile.AnkiToLingq.FragmentField; f != "" {
			details.Fragment = strings.TrimSpace(note.Field(f))
		}
		st.plan.Append(plan.Operation{
			Type:       plan.OpCreateLingq,
			AnkiNoteID: note.ID,
			Term:       term,
			Details:    details,
		})

	case match.StatusAmbiguous:
		e.resolveAmbiguousCards(st, note, term, res.Candidates)
	}
}

// resolveAmbiguousCards applies the ambiguous-match policy to a note that
// matched several cards.
func (e *Engine) resolveAmbiguousCards(st *state, note model.Note, term string, candidates []model.Card) {
	pks := make([]int, 0, len(candidates))
	for _, c := range candidates {
		pks = append(pks, c.PK)
	}

	policy := options.AmbiguousAsk
	if e.opts != nil && e.opts.AmbiguousMatch.IsSet() {
		policy = e.opts.AmbiguousMatch
	}

	switch policy {
	case options.AmbiguousSkip:
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpSkip,
			AnkiNoteID: note.ID,
			Term:       term,
			Details:    plan.SkipDetails{Reason: "ambiguous_match_policy_skip", CandidatePKs: pks},
		})
	case options.AmbiguousConservativeSkip:
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpSkip,
			AnkiNoteID: note.ID,
			Term:       term,
			Details:    plan.SkipDetails{Reason: "ambiguous_match_policy_conservative_skip", CandidatePKs: pks},
		})
	case options.AmbiguousAggressiveLinkFirst:
		// Candidates arrive sorted by pk and none are claimed.
		e.link(st, note, candidates[0])
	default:
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpConflict,
			AnkiNoteID: note.ID,
			Term:       term,
			Details: plan.ConflictDetails{
				Type:              plan.ConflictAmbiguousLingqMatch,
				RecommendedAction: "several LingQ cards match on term and translation; pick one or choose a policy",
				CandidatePKs:      pks,
			},
		})
	}
}

// processCard runs pass 2 (service → flashcard) for an unclaimed card.
func (e *Engine) processCard(st *state, card model.Card, notes []model.Note) {
	primary := match.PrimaryTranslation(card, e.profile.MeaningLocale)
	if match.Normalize(primary) == "" {
		st.plan.Append(plan.Operation{
			Type:    plan.OpSkip,
			LingqPK: card.PK,
			Term:    card.Term,
			Details: plan.SkipDetails{Reason: "lingq_no_hint_in_locale"},
		})
		return
	}

	termNorm := match.Normalize(card.Term)
	primaryNorm := match.Normalize(primary)

	var candidates []model.Note
	for _, note := range notes {
		if st.consumedNotes[note.ID] {
			continue
		}
		if strings.TrimSpace(note.Field(e.profile.LingqToAnki.IdentityFields.PKField)) != "" {
			continue
		}
		if match.Normalize(note.Field(e.profile.AnkiToLingq.TermField)) != termNorm {
			continue
		}
		trans := e.translationCandidates(note)
		if len(trans) == 1 && match.Normalize(trans[0]) == primaryNorm {
			candidates = append(candidates, note)
		}
	}

	switch len(candidates) {
	case 1:
		e.link(st, candidates[0], card)
	case 0:
		e.createAnki(st, card, primary)
	default:
		e.resolveAmbiguousNotes(st, card, candidates)
	}
}

// createAnki emits a create_anki operation carrying field-mapped values
// and the identity fields to stamp onto the new note.
func (e *Engine) createAnki(st *state, card model.Card, primary string) {
	mapping := e.profile.LingqToAnki

	fields := make(map[string]string)
	for lingqField, ankiField := range mapping.FieldMapping {
		switch lingqField {
		case "term":
			fields[ankiField] = card.Term
		case "translation":
			fields[ankiField] = primary
		case "fragment":
			if card.Fragment != "" {
				fields[ankiField] = card.Fragment
			}
		}
	}

	st.plan.Append(plan.Operation{
		Type:    plan.OpCreateAnki,
		LingqPK: card.PK,
		Term:    card.Term,
		Details: plan.CreateAnkiDetails{
			NoteType: mapping.NoteType,
			Deck:     mapping.DeckName,
			Fields:   fields,
			Identity: plan.IdentityRef{
				PKField:            mapping.IdentityFields.PKField,
				CanonicalTermField: mapping.IdentityFields.CanonicalTermField,
				PKValue:            strconv.Itoa(card.PK),
				CanonicalTermValue: card.Term,
			},
		},
	})
}

// resolveAmbiguousNotes applies the ambiguous-match policy to a card that
// matched several unlinked notes.
func (e *Engine) resolveAmbiguousNotes(st *state, card model.Card, candidates []model.Note) {
	ids := make([]int64, 0, len(candidates))
	for _, n := range candidates {
		ids = append(ids, n.ID)
	}

	policy := options.AmbiguousAsk
	if e.opts != nil && e.opts.AmbiguousMatch.IsSet() {
		policy = e.opts.AmbiguousMatch
	}

	switch policy {
	case options.AmbiguousSkip, options.AmbiguousConservativeSkip:
		reason := "ambiguous_match_policy_skip"
		if policy == options.AmbiguousConservativeSkip {
			reason = "ambiguous_match_policy_conservative_skip"
		}
		st.plan.Append(plan.Operation{
			Type:    plan.OpSkip,
			LingqPK: card.PK,
			Term:    card.Term,
			Details: plan.SkipDetails{Reason: reason},
		})
	case options.AmbiguousAggressiveLinkFirst:
		// Candidates arrive in ascending note id order.
		e.link(st, candidates[0], card)
	default:
		st.plan.Append(plan.Operation{
			Type:    plan.OpConflict,
			LingqPK: card.PK,
			Term:    card.Term,
			Details: plan.ConflictDetails{
				Type:              plan.ConflictAmbiguousAnkiMatch,
				RecommendedAction: "several Anki notes match this card; pick one or choose a policy",
				CandidateNoteIDs:  ids,
			},
		})
	}
}

// link claims the pair, emits the link operation, and runs the
// update-pair step.
func (e *Engine) link(st *state, note model.Note, card model.Card) {
	st.claimedPKs[card.PK] = note.ID
	st.consumedNotes[note.ID] = true

	idFields := e.profile.LingqToAnki.IdentityFields
	st.plan.Append(plan.Operation{
		Type:       plan.OpLink,
		AnkiNoteID: note.ID,
		LingqPK:    card.PK,
		Term:       card.Term,
		Details: plan.LinkDetails{
			Identity: plan.IdentityRef{
				PKField:            idFields.PKField,
				CanonicalTermField: idFields.CanonicalTermField,
				PKValue:            strconv.Itoa(card.PK),
				CanonicalTermValue: card.Term,
			},
		},
	})

	e.updatePair(st, note, card)
}

// updatePair emits hint and progress operations for a linked pair.
func (e *Engine) updatePair(st *state, note model.Note, card model.Card) {
	locale := e.profile.MeaningLocale

	missing := hints.FindMissing(e.translationCandidates(note), card.Hints, locale)
	if len(missing) > 0 {
		payload := hints.BuildPayload(card.Hints, missing, locale)
		if !hints.Equivalent(payload, card.Hints) {
			st.plan.Append(plan.Operation{
				Type:       plan.OpUpdateHints,
				AnkiNoteID: note.ID,
				LingqPK:    card.PK,
				Term:       card.Term,
				Details: plan.UpdateHintsDetails{
					Language: e.profile.LingqLanguage,
					Hints:    payload,
					Reason:   "missing_hints_from_anki",
				},
			})
		}
	}

	authority := options.AuthorityAutomatic
	if e.opts != nil && e.opts.ProgressAuthority.IsValid() {
		authority = e.opts.ProgressAuthority
	}

	cmp := progress.Compare(progress.Input{
		LingqStatus:         card.Status,
		LingqExtendedStatus: card.ExtendedStatus,
		Hints:               card.Hints,
		MeaningLocale:       locale,
		AnkiHasReviews:      note.HasReviews(),
		SchedulingEnabled:   e.schedulingEnabled,
		Authority:           authority,
	})

	switch {
	case cmp.SyncToLingq:
		desired := progress.StatusFromReviews(noteMaxReps(note), note.MaxInterval())
		// Monotonic: never lower an existing LingQ status.
		if desired <= card.Status {
			return
		}
		st.plan.Append(plan.Operation{
			Type:       plan.OpUpdateStatus,
			AnkiNoteID: note.ID,
			LingqPK:    card.PK,
			Term:       card.Term,
			Details: plan.UpdateStatusDetails{
				Language: e.profile.LingqLanguage,
				Status:   &desired,
				Reason:   cmp.Reason,
			},
		})

	case cmp.SyncToAnki:
		if cmp.Tier == progress.TierNew && noteAllCardsNew(note) {
			return
		}
		st.plan.Append(plan.Operation{
			Type:       plan.OpRescheduleAnki,
			AnkiNoteID: note.ID,
			LingqPK:    card.PK,
			Term:       card.Term,
			Details: plan.RescheduleAnkiDetails{
				TargetTier:   string(cmp.Tier),
				LingqStatus:  card.Status,
				LingqDueDate: card.SRSDueDate,
				Reason:       cmp.Reason,
				FSRSSafe:     true,
			},
		})

	case cmp.Reason == "scheduling_writes_disabled" || cmp.Reason == "polysemy_skip_lingq_to_anki":
		st.plan.Append(plan.Operation{
			Type:       plan.OpSkip,
			AnkiNoteID: note.ID,
			LingqPK:    card.PK,
			Term:       card.Term,
			Details:    plan.SkipDetails{Reason: cmp.Reason},
		})
	}
}

// resolveTranslation reduces multiple translation candidates to one via
// the aggregation policy, or records the conflict/skip and returns false.
func (e *Engine) resolveTranslation(st *state, note model.Note, term string, candidates []string) (string, bool) {
	if len(candidates) == 1 {
		return candidates[0], true
	}

	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return match.Normalize(sorted[i]) < match.Normalize(sorted[j])
	})

	policy := options.AggregationAsk
	if e.opts != nil && e.opts.TranslationAggregation.IsSet() {
		policy = e.opts.TranslationAggregation
	}

	switch policy {
	case options.AggregationMin:
		return sorted[0], true
	case options.AggregationMax:
		return sorted[len(sorted)-1], true
	case options.AggregationAvg:
		// Median by text, not a numeric average.
		return sorted[len(sorted)/2], true
	case options.AggregationSkip:
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpSkip,
			AnkiNoteID: note.ID,
			Term:       term,
			Details:    plan.SkipDetails{Reason: "translation_aggregation_policy_skip"},
		})
		return "", false
	default:
		st.consumedNotes[note.ID] = true
		st.plan.Append(plan.Operation{
			Type:       plan.OpConflict,
			AnkiNoteID: note.ID,
			Term:       term,
			Details: plan.ConflictDetails{
				Type:                  plan.ConflictPolysemyNeedsPolicy,
				RecommendedAction:     "the note lists several translations; choose an aggregation policy or edit the note",
				CandidateTranslations: sorted,
			},
		})
		return "", false
	}
}

// translationCandidates collects the note's translation candidates from
// every configured field, split on newlines, deduplicated by normalized
// form keeping the first occurrence.
func (e *Engine) translationCandidates(note model.Note) []string {
	var out []string
	seen := make(map[string]bool)
	for _, field := range e.profile.AnkiToLingq.TranslationFields {
		for _, t := range match.SplitTranslations(note.Field(field)) {
			norm := match.Normalize(t)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			out = append(out, t)
		}
	}
	return out
}

// skipNote records a terminal skip for a note.
func (e *Engine) skipNote(st *state, note model.Note, term, reason string) {
	st.consumedNotes[note.ID] = true
	st.plan.Append(plan.Operation{
		Type:       plan.OpSkip,
		AnkiNoteID: note.ID,
		Term:       term,
		Details:    plan.SkipDetails{Reason: reason},
	})
}

func cardByPK(cards []model.Card, pk int) model.Card {
	for _, c := range cards {
		if c.PK == pk {
			return c
		}
	}
	return model.Card{PK: pk}
}

func noteMaxReps(note model.Note) int {
	maxReps := 0
	for _, c := range note.Cards {
		if c.Reps > maxReps {
			maxReps = c.Reps
		}
	}
	return maxReps
}

func noteAllCardsNew(note model.Note) bool {
	for _, c := range note.Cards {
		if c.Queue != model.QueueNew {
			return false
		}
	}
	return true
}
