package plan

import (
	"testing"

	"lingsync/internal/model"
)

func TestOpType_IsValid(t *testing.T) {
	valid := []OpType{OpCreateLingq, OpCreateAnki, OpLink, OpUpdateHints, OpUpdateStatus, OpRescheduleAnki, OpConflict, OpSkip}
	for _, op := range valid {
		if !op.IsValid() {
			t.Errorf("%q should be valid", op)
		}
	}
	if OpType("rename").IsValid() {
		t.Error("unknown op type should be invalid")
	}
}

func TestOperation_Identifier(t *testing.T) {
	op := Operation{
		Type:       OpCreateAnki,
		AnkiNoteID: 123,
		LingqPK:    456,
		Term:       "hello",
		Details:    CreateAnkiDetails{NoteType: "Basic"},
	}

	id1 := op.Identifier()
	if id1 != "create_anki:123:456:hello" {
		t.Errorf("Identifier() = %q", id1)
	}

	// Details changes never affect the identifier.
	op.Details = CreateAnkiDetails{NoteType: "Cloze", Deck: "Other"}
	if op.Identifier() != id1 {
		t.Error("identifier should ignore details")
	}

	// Absent ids render as empty segments.
	bare := Operation{Type: OpUpdateStatus}
	if got := bare.Identifier(); got != "update_status:::" {
		t.Errorf("Identifier() = %q, want %q", got, "update_status:::")
	}

	// Any coordinate change produces a distinct identifier.
	variants := []Operation{
		{Type: OpUpdateHints, AnkiNoteID: 123, LingqPK: 456, Term: "hello"},
		{Type: OpCreateAnki, AnkiNoteID: 124, LingqPK: 456, Term: "hello"},
		{Type: OpCreateAnki, AnkiNoteID: 123, LingqPK: 457, Term: "hello"},
		{Type: OpCreateAnki, AnkiNoteID: 123, LingqPK: 456, Term: "world"},
	}
	for _, v := range variants {
		if v.Identifier() == id1 {
			t.Errorf("expected distinct identifier for %+v", v)
		}
	}
}

func TestPlan_CountByType(t *testing.T) {
	p := &Plan{}
	p.Append(Operation{Type: OpLink, Term: "a"})
	p.Append(Operation{Type: OpSkip, Term: "b", Details: SkipDetails{Reason: "missing_term"}})
	p.Append(Operation{Type: OpSkip, Term: "c", Details: SkipDetails{Reason: "missing_translation"}})

	counts := p.CountByType()
	if counts[OpLink] != 1 || counts[OpSkip] != 2 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if len(p.Conflicts()) != 0 {
		t.Error("no conflicts expected")
	}
	if len(p.Skips()) != 2 {
		t.Errorf("expected 2 skips, got %d", len(p.Skips()))
	}
}

func TestPlan_ResolveConflict(t *testing.T) {
	p := &Plan{}
	p.Append(Operation{
		Type: OpConflict,
		Term: "hello",
		Details: ConflictDetails{
			Type:         ConflictAmbiguousLingqMatch,
			CandidatePKs: []int{1, 2},
		},
	})
	p.Append(Operation{Type: OpLink, Term: "world"})

	if err := p.ResolveConflict(0, "user_skipped"); err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}
	if p.Operations[0].Type != OpSkip {
		t.Errorf("conflict should become skip, got %q", p.Operations[0].Type)
	}
	details, ok := p.Operations[0].Details.(SkipDetails)
	if !ok || details.Reason != "user_skipped" {
		t.Errorf("unexpected details: %+v", p.Operations[0].Details)
	}

	if err := p.ResolveConflict(1, "nope"); err == nil {
		t.Error("resolving a non-conflict should fail")
	}
	if err := p.ResolveConflict(9, "nope"); err == nil {
		t.Error("out-of-range index should fail")
	}
}

func TestDetails_TypesCoverOps(t *testing.T) {
	// Each payload satisfies the Details interface.
	var _ = []Details{
		CreateLingqDetails{Hints: []model.Hint{{Locale: "en", Text: "x"}}},
		CreateAnkiDetails{},
		LinkDetails{},
		UpdateHintsDetails{},
		UpdateStatusDetails{},
		RescheduleAnkiDetails{FSRSSafe: true},
		ConflictDetails{},
		SkipDetails{},
	}
}
