package apply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"lingsync/internal/checkpoint"
	"lingsync/internal/lingq"
	"lingsync/internal/model"
	"lingsync/internal/plan"
)

type createdCard struct {
	language string
	term     string
	hints    []lingq.HintCreate
	fragment string
}

type patchedCard struct {
	language string
	pk       int
	patch    lingq.CardPatch
}

type fakeLingq struct {
	searchResults []model.Card
	searchErr     error
	createErr     error
	patchErr      error
	nextPK        int

	created []createdCard
	patched []patchedCard
}

func (f *fakeLingq) SearchCards(_ context.Context, _, _ string) ([]model.Card, error) {
	return f.searchResults, f.searchErr
}

func (f *fakeLingq) CreateCard(_ context.Context, language, term string, hints []lingq.HintCreate, fragment string) (*model.Card, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, createdCard{language, term, hints, fragment})
	f.nextPK++
	return &model.Card{PK: f.nextPK, Term: term}, nil
}

func (f *fakeLingq) PatchCard(_ context.Context, language string, pk int, patch lingq.CardPatch) (*model.Card, error) {
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	f.patched = append(f.patched, patchedCard{language, pk, patch})
	return &model.Card{PK: pk}, nil
}

type fakeCollection struct {
	noteFields map[int64]map[string]string
	noteCards  map[int64][]model.CardRecord
	findResult []int64
	schema     []string

	updates   []map[string]string
	added     []map[string]string
	forgotten [][]int64
	scheduled []string
}

func (f *fakeCollection) NoteFields(_ context.Context, id int64) (map[string]string, error) {
	fields, ok := f.noteFields[id]
	if !ok {
		return nil, fmt.Errorf("note %d not found", id)
	}
	return fields, nil
}

func (f *fakeCollection) UpdateNoteFields(_ context.Context, id int64, fields map[string]string) error {
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeCollection) AddNote(_ context.Context, deck, noteType string, fields map[string]string, tags []string) (int64, error) {
	f.added = append(f.added, fields)
	return int64(5000 + len(f.added)), nil
}

func (f *fakeCollection) FindNotes(_ context.Context, query string) ([]int64, error) {
	return f.findResult, nil
}

func (f *fakeCollection) NoteCards(_ context.Context, id int64) ([]model.CardRecord, error) {
	return f.noteCards[id], nil
}

func (f *fakeCollection) ForgetCards(_ context.Context, cardIDs []int64) error {
	f.forgotten = append(f.forgotten, cardIDs)
	return nil
}

func (f *fakeCollection) SetDueDate(_ context.Context, cardIDs []int64, days string) error {
	f.scheduled = append(f.scheduled, days)
	return nil
}

func (f *fakeCollection) FieldNames(_ context.Context, noteType string) ([]string, error) {
	return f.schema, nil
}

func newTestEngine(lq *fakeLingq, col *fakeCollection, opts ...EngineOption) *Engine {
	return NewEngine(lq, col, opts...)
}

func TestOrderedBucketsAndStability(t *testing.T) {
	p := &plan.Plan{Operations: []plan.Operation{
		{Type: plan.OpSkip, Term: "a"},
		{Type: plan.OpCreateAnki, Term: "b"},
		{Type: plan.OpUpdateStatus, Term: "c"},
		{Type: plan.OpLink, Term: "d"},
		{Type: plan.OpRescheduleAnki, Term: "e"},
		{Type: plan.OpCreateLingq, Term: "f"},
		{Type: plan.OpLink, Term: "g"},
		{Type: plan.OpConflict, Term: "h"},
		{Type: plan.OpUpdateHints, Term: "i"},
	}}

	got := Ordered(p)
	want := []string{"d", "g", "f", "i", "c", "h", "a", "b", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %d ops, want %d", len(got), len(want))
	}
	for i, term := range want {
		if got[i].Term != term {
			t.Errorf("position %d = %q (%s), want %q", i, got[i].Term, got[i].Type, term)
		}
	}
}

func TestRunCountsConflictsAndSkipsAsSkipped(t *testing.T) {
	lq := &fakeLingq{}
	e := newTestEngine(lq, &fakeCollection{})
	p := &plan.Plan{Operations: []plan.Operation{
		{Type: plan.OpConflict, Term: "a", Details: plan.ConflictDetails{Type: plan.ConflictDanglingPK}},
		{Type: plan.OpSkip, Term: "b", Details: plan.SkipDetails{Reason: "no_action"}},
	}}

	result, err := e.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SkippedCount != 2 || result.SuccessCount != 0 || result.ErrorCount != 0 {
		t.Errorf("result = %+v, want 2 skipped", result)
	}
}

func TestCreateLingqIdempotent(t *testing.T) {
	lq := &fakeLingq{
		searchResults: []model.Card{{PK: 1, Term: "  HOLA "}},
	}
	e := newTestEngine(lq, &fakeCollection{})
	p := &plan.Plan{Operations: []plan.Operation{{
		Type: plan.OpCreateLingq,
		Term: "hola",
		Details: plan.CreateLingqDetails{
			Language: "es",
			Hints:    []model.Hint{{Locale: "en", Text: "hello"}},
		},
	}}}

	result, err := e.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SuccessCount != 1 {
		t.Errorf("result = %+v, want 1 success", result)
	}
	if len(lq.created) != 0 {
		t.Errorf("existing card must not be recreated, created = %+v", lq.created)
	}
}

func TestCreateLingqSetsDesiredStatus(t *testing.T) {
	lq := &fakeLingq{nextPK: 40}
	e := newTestEngine(lq, &fakeCollection{})
	status := 2
	p := &plan.Plan{Operations: []plan.Operation{{
		Type: plan.OpCreateLingq,
		Term: "hola",
		Details: plan.CreateLingqDetails{
			Language:      "es",
			Hints:         []model.Hint{{Locale: "en", Text: "hello"}},
			Fragment:      "hola amigo",
			DesiredStatus: &status,
		},
	}}}

	if _, err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lq.created) != 1 {
		t.Fatalf("created = %+v", lq.created)
	}
	if lq.created[0].fragment != "hola amigo" {
		t.Errorf("fragment = %q", lq.created[0].fragment)
	}
	if len(lq.patched) != 1 || lq.patched[0].pk != 41 {
		t.Fatalf("patched = %+v, want status patch on pk 41", lq.patched)
	}
	if lq.patched[0].patch.Status == nil || *lq.patched[0].patch.Status != 2 {
		t.Errorf("patch = %+v, want status 2", lq.patched[0].patch)
	}
}

func TestUpdateHintsAndStatus(t *testing.T) {
	lq := &fakeLingq{}
	e := newTestEngine(lq, &fakeCollection{})
	status := 3
	p := &plan.Plan{Operations: []plan.Operation{
		{
			Type: plan.OpUpdateHints, LingqPK: 7, Term: "hola",
			Details: plan.UpdateHintsDetails{
				Language: "es",
				Hints:    []model.Hint{{Locale: "en", Text: "hello"}, {Locale: "en", Text: "hi"}},
			},
		},
		{
			Type: plan.OpUpdateStatus, LingqPK: 7, Term: "hola",
			Details: plan.UpdateStatusDetails{Language: "es", Status: &status},
		},
	}}

	result, err := e.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SuccessCount != 2 {
		t.Fatalf("result = %+v", result)
	}
	if len(lq.patched) != 2 {
		t.Fatalf("patched = %+v", lq.patched)
	}
	if len(lq.patched[0].patch.Hints) != 2 {
		t.Errorf("hint patch = %+v", lq.patched[0].patch)
	}
	if lq.patched[1].patch.Status == nil || *lq.patched[1].patch.Status != 3 {
		t.Errorf("status patch = %+v", lq.patched[1].patch)
	}
}

func linkOp(noteID int64, pk int) plan.Operation {
	return plan.Operation{
		Type: plan.OpLink, AnkiNoteID: noteID, LingqPK: pk, Term: "hola",
		Details: plan.LinkDetails{Identity: plan.IdentityRef{
			PKField:            "LingQ_PK",
			CanonicalTermField: "LingQ_TermCanonical",
			PKValue:            fmt.Sprintf("%d", pk),
			CanonicalTermValue: "hola",
		}},
	}
}

func TestLinkWritesIdentityFields(t *testing.T) {
	col := &fakeCollection{noteFields: map[int64]map[string]string{
		10: {"Word": "hola", "LingQ_PK": ""},
	}}
	e := newTestEngine(&fakeLingq{}, col)

	result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{linkOp(10, 7)}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SuccessCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(col.updates) != 1 {
		t.Fatalf("updates = %+v", col.updates)
	}
	if col.updates[0]["LingQ_PK"] != "7" || col.updates[0]["LingQ_TermCanonical"] != "hola" {
		t.Errorf("written fields = %v", col.updates[0])
	}
}

func TestLinkRefusesDifferentExistingPK(t *testing.T) {
	col := &fakeCollection{noteFields: map[int64]map[string]string{
		10: {"LingQ_PK": "999"},
	}}
	e := newTestEngine(&fakeLingq{}, col)

	result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{linkOp(10, 7)}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ErrorCount != 1 {
		t.Fatalf("result = %+v, want 1 error", result)
	}
	if len(col.updates) != 0 {
		t.Errorf("conflicting link must not write, updates = %+v", col.updates)
	}
}

func TestLinkAlreadyLinkedIsNoOp(t *testing.T) {
	col := &fakeCollection{noteFields: map[int64]map[string]string{
		10: {"LingQ_PK": "7"},
	}}
	e := newTestEngine(&fakeLingq{}, col)

	result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{linkOp(10, 7)}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SuccessCount != 1 || len(col.updates) != 0 {
		t.Errorf("result = %+v, updates = %+v, want success without writes", result, col.updates)
	}
}

func createAnkiOp() plan.Operation {
	return plan.Operation{
		Type: plan.OpCreateAnki, LingqPK: 7, Term: "gato",
		Details: plan.CreateAnkiDetails{
			NoteType: "Basic",
			Deck:     "Spanish",
			Fields:   map[string]string{"Word": "gato", "Meaning": "cat"},
			Identity: plan.IdentityRef{
				PKField:            "LingQ_PK",
				CanonicalTermField: "LingQ_TermCanonical",
				PKValue:            "7",
				CanonicalTermValue: "gato",
			},
		},
	}
}

func TestCreateAnkiStampsIdentity(t *testing.T) {
	col := &fakeCollection{}
	e := newTestEngine(&fakeLingq{}, col)

	result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{createAnkiOp()}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SuccessCount != 1 || len(col.added) != 1 {
		t.Fatalf("result = %+v, added = %+v", result, col.added)
	}
	got := col.added[0]
	if got["LingQ_PK"] != "7" || got["LingQ_TermCanonical"] != "gato" || got["Word"] != "gato" {
		t.Errorf("fields = %v", got)
	}
}

func TestCreateAnkiIdempotentWhenNoteExists(t *testing.T) {
	col := &fakeCollection{findResult: []int64{123}}
	e := newTestEngine(&fakeLingq{}, col)

	result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{createAnkiOp()}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SuccessCount != 1 || len(col.added) != 0 {
		t.Errorf("existing note must not be recreated, result = %+v, added = %+v", result, col.added)
	}
}

func TestCreateAnkiValidatesSchema(t *testing.T) {
	col := &fakeCollection{schema: []string{"Word", "Meaning"}}
	e := newTestEngine(&fakeLingq{}, col, WithSchemaProvider(col))

	result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{createAnkiOp()}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Identity fields are missing from the schema, so the op must fail
	// instead of silently dropping data.
	if result.ErrorCount != 1 || len(col.added) != 0 {
		t.Errorf("result = %+v, added = %+v, want schema failure", result, col.added)
	}
}

func rescheduleOp(tier string) plan.Operation {
	return plan.Operation{
		Type: plan.OpRescheduleAnki, AnkiNoteID: 10, LingqPK: 7, Term: "hola",
		Details: plan.RescheduleAnkiDetails{
			TargetTier: tier, LingqStatus: 3,
			Reason: "lingq_has_progress_anki_no_reviews", FSRSSafe: true,
		},
	}
}

func TestRescheduleAnki(t *testing.T) {
	t.Run("learned tier sets due date", func(t *testing.T) {
		col := &fakeCollection{noteCards: map[int64][]model.CardRecord{
			10: {{CardID: 100, Queue: model.QueueReview}},
		}}
		e := newTestEngine(&fakeLingq{}, col)

		result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{rescheduleOp("learned")}})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.SuccessCount != 1 {
			t.Fatalf("result = %+v", result)
		}
		if len(col.scheduled) != 1 || col.scheduled[0] != "28" {
			t.Errorf("scheduled = %v, want [28]", col.scheduled)
		}
		if len(col.forgotten) != 0 {
			t.Errorf("must not forget cards, forgotten = %v", col.forgotten)
		}
	})

	t.Run("new tier forgets scheduled cards", func(t *testing.T) {
		col := &fakeCollection{noteCards: map[int64][]model.CardRecord{
			10: {{CardID: 100, Queue: model.QueueReview}},
		}}
		e := newTestEngine(&fakeLingq{}, col)

		if _, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{rescheduleOp("new")}}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(col.forgotten) != 1 {
			t.Errorf("forgotten = %v, want one forget call", col.forgotten)
		}
	})

	t.Run("new tier with all-new cards is a no-op", func(t *testing.T) {
		col := &fakeCollection{noteCards: map[int64][]model.CardRecord{
			10: {{CardID: 100, Queue: model.QueueNew}},
		}}
		e := newTestEngine(&fakeLingq{}, col)

		result, err := e.Run(context.Background(), &plan.Plan{Operations: []plan.Operation{rescheduleOp("new")}})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.SuccessCount != 1 || len(col.forgotten) != 0 || len(col.scheduled) != 0 {
			t.Errorf("result = %+v, want success without scheduler calls", result)
		}
	})
}

func TestRunResumeSkipsCompletedOps(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	lq := &fakeLingq{}
	p := &plan.Plan{ProfileName: "spanish", Operations: []plan.Operation{{
		Type: plan.OpUpdateHints, LingqPK: 7, Term: "hola",
		Details: plan.UpdateHintsDetails{
			Language: "es",
			Hints:    []model.Hint{{Locale: "en", Text: "hello"}},
		},
	}}}

	opID := p.Operations[0].Identifier()
	seed := &checkpoint.Checkpoint{RunID: "run-1", CompletedOps: []string{opID}}
	if err := store.Save("spanish", seed); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	e := newTestEngine(lq, &fakeCollection{}, WithCheckpointStore(store))
	result, err := e.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SkippedCount != 1 || len(lq.patched) != 0 {
		t.Errorf("completed op must not rerun, result = %+v, patched = %+v", result, lq.patched)
	}
	// Clean completion clears the checkpoint.
	if _, err := os.Stat(store.Path("spanish")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("checkpoint should be cleared after a clean run, stat err = %v", err)
	}
}

func TestRunFailedOpStillMarkedCompleted(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewStore(dir)

	lq := &fakeLingq{patchErr: errors.New("boom")}
	p := &plan.Plan{ProfileName: "spanish", Operations: []plan.Operation{{
		Type: plan.OpUpdateHints, LingqPK: 7, Term: "hola",
		Details: plan.UpdateHintsDetails{
			Language: "es",
			Hints:    []model.Hint{{Locale: "en", Text: "hello"}},
		},
	}}}

	e := newTestEngine(lq, &fakeCollection{}, WithCheckpointStore(store))
	result, err := e.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ErrorCount != 1 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v, want 1 recorded error", result)
	}

	// The checkpoint survives an errored run and lists the failed op,
	// so a resume does not loop on it.
	cp, err := store.Load("spanish")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp == nil {
		t.Fatal("checkpoint missing after errored run")
	}
	if len(cp.CompletedOps) != 1 || cp.CompletedOps[0] != p.Operations[0].Identifier() {
		t.Errorf("completed ops = %v", cp.CompletedOps)
	}

	// Second run: the cursor is already past the failed op, so nothing
	// reruns, and the error-free completion clears the checkpoint.
	lq.patchErr = nil
	result2, err := e.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result2.ErrorCount != 0 || result2.SuccessCount != 0 || len(lq.patched) != 0 {
		t.Errorf("second result = %+v, patched = %+v", result2, lq.patched)
	}
	if _, err := os.Stat(store.Path("spanish")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("checkpoint should be cleared, stat err = %v", err)
	}
}

func TestRunProgressCallback(t *testing.T) {
	var seen []int
	e := newTestEngine(&fakeLingq{}, &fakeCollection{},
		WithProgress(func(done, total int, _ plan.Operation) {
			seen = append(seen, done)
			if total != 2 {
				t.Errorf("total = %d, want 2", total)
			}
		}))

	p := &plan.Plan{Operations: []plan.Operation{
		{Type: plan.OpSkip, Term: "a", Details: plan.SkipDetails{Reason: "no_action"}},
		{Type: plan.OpSkip, Term: "b", Details: plan.SkipDetails{Reason: "no_action"}},
	}}
	if _, err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("progress calls = %v, want [1 2]", seen)
	}
}
