// Package plan defines the sync plan produced by the diff engine and
// consumed by the apply engine: a sequence of typed operations, each
// carrying an op-type-specific details payload.
package plan

import (
	"fmt"

	"lingsync/internal/model"
)

// OpType identifies the kind of a sync operation.
type OpType string

const (
	// OpCreateLingq creates a new LingQ card from an Anki note.
	OpCreateLingq OpType = "create_lingq"
	// OpCreateAnki creates a new Anki note from a LingQ card.
	OpCreateAnki OpType = "create_anki"
	// OpLink writes identity fields onto an existing Anki note.
	OpLink OpType = "link"
	// OpUpdateHints replaces a LingQ card's hint payload.
	OpUpdateHints OpType = "update_hints"
	// OpUpdateStatus updates a LingQ card's status/extended status.
	OpUpdateStatus OpType = "update_status"
	// OpRescheduleAnki adjusts an Anki card's due date from LingQ progress.
	OpRescheduleAnki OpType = "reschedule_anki"
	// OpConflict records an ambiguity needing policy or human resolution.
	OpConflict OpType = "conflict"
	// OpSkip records a policy-driven no-op.
	OpSkip OpType = "skip"
)

// IsValid returns true if the op type is recognized.
func (t OpType) IsValid() bool {
	switch t {
	case OpCreateLingq, OpCreateAnki, OpLink, OpUpdateHints, OpUpdateStatus, OpRescheduleAnki, OpConflict, OpSkip:
		return true
	default:
		return false
	}
}

// String returns the string representation of the op type.
func (t OpType) String() string {
	return string(t)
}

// Details is the op-type-specific payload of an operation. Exactly one
// concrete type corresponds to each OpType.
type Details interface {
	isDetails()
}

// IdentityRef names the two Anki fields that durably link a note to a
// LingQ card, together with the values to write.
type IdentityRef struct {
	PKField            string `json:"pk_field" yaml:"pk_field"`
	CanonicalTermField string `json:"canonical_term_field" yaml:"canonical_term_field"`
	PKValue            string `json:"pk_value" yaml:"pk_value"`
	CanonicalTermValue string `json:"canonical_term_value" yaml:"canonical_term_value"`
}

// CreateLingqDetails is the payload for OpCreateLingq.
type CreateLingqDetails struct {
	Language      string       `json:"lingq_language" yaml:"lingq_language"`
	Hints         []model.Hint `json:"hints" yaml:"hints"`
	Fragment      string       `json:"fragment,omitempty" yaml:"fragment,omitempty"`
	Identity      *IdentityRef `json:"identity,omitempty" yaml:"identity,omitempty"`
	DesiredStatus *int         `json:"desired_status,omitempty" yaml:"desired_status,omitempty"`
}

// CreateAnkiDetails is the payload for OpCreateAnki.
type CreateAnkiDetails struct {
	NoteType string            `json:"note_type" yaml:"note_type"`
	Deck     string            `json:"deck,omitempty" yaml:"deck,omitempty"`
	Fields   map[string]string `json:"fields" yaml:"fields"`
	Identity IdentityRef       `json:"identity" yaml:"identity"`
}

// LinkDetails is the payload for OpLink.
type LinkDetails struct {
	Identity IdentityRef `json:"identity" yaml:"identity"`
}

// UpdateHintsDetails is the payload for OpUpdateHints.
type UpdateHintsDetails struct {
	Language string       `json:"lingq_language" yaml:"lingq_language"`
	Hints    []model.Hint `json:"hints" yaml:"hints"`
	Reason   string       `json:"reason" yaml:"reason"`
}

// UpdateStatusDetails is the payload for OpUpdateStatus. At least one of
// Status/ExtendedStatus must be present.
type UpdateStatusDetails struct {
	Language       string `json:"lingq_language" yaml:"lingq_language"`
	Status         *int   `json:"status,omitempty" yaml:"status,omitempty"`
	ExtendedStatus *int   `json:"extended_status,omitempty" yaml:"extended_status,omitempty"`
	Reason         string `json:"reason" yaml:"reason"`
}

// RescheduleAnkiDetails is the payload for OpRescheduleAnki. FSRSSafe is
// always true: reschedules adjust only the due date and never touch
// review history or memory-model state.
type RescheduleAnkiDetails struct {
	TargetTier   string `json:"target_tier" yaml:"target_tier"`
	LingqStatus  int    `json:"lingq_status" yaml:"lingq_status"`
	LingqDueDate string `json:"lingq_due_date,omitempty" yaml:"lingq_due_date,omitempty"`
	Reason       string `json:"reason" yaml:"reason"`
	FSRSSafe     bool   `json:"fsrs_safe" yaml:"fsrs_safe"`
}

// ConflictType classifies a conflict operation.
type ConflictType string

const (
	// ConflictDanglingPK means a note carries a PK absent on the service side.
	ConflictDanglingPK ConflictType = "dangling_pk"
	// ConflictDuplicatePK means two notes claim the same PK.
	ConflictDuplicatePK ConflictType = "duplicate_pk"
	// ConflictPKMismatch means a link would overwrite a different PK.
	ConflictPKMismatch ConflictType = "pk_mismatch"
	// ConflictAmbiguousLingqMatch means a note matched several cards.
	ConflictAmbiguousLingqMatch ConflictType = "ambiguous_lingq_match"
	// ConflictAmbiguousAnkiMatch means a card matched several notes.
	ConflictAmbiguousAnkiMatch ConflictType = "ambiguous_anki_match"
	// ConflictPolysemyNeedsPolicy means a note has several translations
	// and no aggregation policy was provided.
	ConflictPolysemyNeedsPolicy ConflictType = "anki_polysemy_needs_policy"
)

// ConflictDetails is the payload for OpConflict. The optional fields
// carry type-specific context for the resolution UI.
type ConflictDetails struct {
	Type                  ConflictType `json:"conflict_type" yaml:"conflict_type"`
	RecommendedAction     string       `json:"recommended_action" yaml:"recommended_action"`
	ExistingPKValue       string       `json:"existing_pk_value,omitempty" yaml:"existing_pk_value,omitempty"`
	ClaimedByNoteID       int64        `json:"claimed_by_note_id,omitempty" yaml:"claimed_by_note_id,omitempty"`
	CandidatePKs          []int        `json:"candidate_pks,omitempty" yaml:"candidate_pks,omitempty"`
	CandidateNoteIDs      []int64      `json:"candidate_note_ids,omitempty" yaml:"candidate_note_ids,omitempty"`
	CandidateTranslations []string     `json:"candidate_translations,omitempty" yaml:"candidate_translations,omitempty"`
}

// SkipDetails is the payload for OpSkip.
type SkipDetails struct {
	Reason       string `json:"reason" yaml:"reason"`
	CandidatePKs []int  `json:"candidate_pks,omitempty" yaml:"candidate_pks,omitempty"`
}

func (CreateLingqDetails) isDetails()    {}
func (CreateAnkiDetails) isDetails()     {}
func (LinkDetails) isDetails()           {}
func (UpdateHintsDetails) isDetails()    {}
func (UpdateStatusDetails) isDetails()   {}
func (RescheduleAnkiDetails) isDetails() {}
func (ConflictDetails) isDetails()       {}
func (SkipDetails) isDetails()           {}

// Operation is a single unit of intended change. AnkiNoteID and LingqPK
// are zero when the operation has no corresponding record on that side.
type Operation struct {
	Type       OpType  `json:"op_type" yaml:"op_type"`
	AnkiNoteID int64   `json:"anki_note_id,omitempty" yaml:"anki_note_id,omitempty"`
	LingqPK    int     `json:"lingq_pk,omitempty" yaml:"lingq_pk,omitempty"`
	Term       string  `json:"term" yaml:"term"`
	Details    Details `json:"details,omitempty" yaml:"details,omitempty"`
}

// Identifier derives a stable string identity from the operation's
// coordinates, deliberately excluding the details payload: two
// structurally-different-but-logically-same operations collapse, and
// checkpoint replay stays insensitive to payload changes across code
// versions.
func (op Operation) Identifier() string {
	anki := ""
	if op.AnkiNoteID != 0 {
		anki = fmt.Sprintf("%d", op.AnkiNoteID)
	}
	pk := ""
	if op.LingqPK != 0 {
		pk = fmt.Sprintf("%d", op.LingqPK)
	}
	return fmt.Sprintf("%s:%s:%s:%s", op.Type, anki, pk, op.Term)
}

// Plan is an ordered sequence of operations. Insertion order is
// significant for conflict/skip attribution; execution order is
// re-derived by the apply engine.
type Plan struct {
	ProfileName string      `json:"profile_name,omitempty" yaml:"profile_name,omitempty"`
	Operations  []Operation `json:"operations" yaml:"operations"`
}

// Append adds an operation to the plan.
func (p *Plan) Append(op Operation) {
	p.Operations = append(p.Operations, op)
}

// CountByType tallies operations per op type.
func (p *Plan) CountByType() map[OpType]int {
	counts := make(map[OpType]int)
	for _, op := range p.Operations {
		counts[op.Type]++
	}
	return counts
}

// Conflicts returns the conflict operations in plan order.
func (p *Plan) Conflicts() []Operation {
	var out []Operation
	for _, op := range p.Operations {
		if op.Type == OpConflict {
			out = append(out, op)
		}
	}
	return out
}

// Skips returns the skip operations in plan order.
func (p *Plan) Skips() []Operation {
	var out []Operation
	for _, op := range p.Operations {
		if op.Type == OpSkip {
			out = append(out, op)
		}
	}
	return out
}

// ResolveConflict rewrites the conflict at index i into a skip with the
// given reason. This is the only supported in-place mutation of a plan:
// an explicit user decision to not act on a conflict.
func (p *Plan) ResolveConflict(i int, reason string) error {
	if i < 0 || i >= len(p.Operations) {
		return fmt.Errorf("operation index %d out of range", i)
	}
	op := p.Operations[i]
	if op.Type != OpConflict {
		return fmt.Errorf("operation %d is %s, not a conflict", i, op.Type)
	}
	op.Type = OpSkip
	op.Details = SkipDetails{Reason: reason}
	p.Operations[i] = op
	return nil
}
