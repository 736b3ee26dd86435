// Package apply executes a computed sync plan against both stores with
// checkpointed resume. Every operation runs at most once per run:
// completed operation identifiers are persisted after each step, so an
// interrupted run picks up where it left off without repeating writes.
package apply

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"lingsync/internal/anki"
	"lingsync/internal/checkpoint"
	"lingsync/internal/lingq"
	"lingsync/internal/logging"
	"lingsync/internal/model"
	"lingsync/internal/plan"
	"lingsync/internal/progress"
)

// LingqService is the slice of the LingQ client the engine needs.
type LingqService interface {
	SearchCards(ctx context.Context, language, term string) ([]model.Card, error)
	CreateCard(ctx context.Context, language, term string, hints []lingq.HintCreate, fragment string) (*model.Card, error)
	PatchCard(ctx context.Context, language string, pk int, patch lingq.CardPatch) (*model.Card, error)
}

// Result summarizes one apply run.
type Result struct {
	SuccessCount int      `json:"success_count" yaml:"success_count"`
	ErrorCount   int      `json:"error_count" yaml:"error_count"`
	SkippedCount int      `json:"skipped_count" yaml:"skipped_count"`
	Errors       []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ProgressFunc is called after each processed operation.
type ProgressFunc func(done, total int, op plan.Operation)

// Engine applies sync plans.
type Engine struct {
	lingq      LingqService
	collection anki.Collection
	schema     anki.FieldSchemaProvider
	store      *checkpoint.Store
	onProgress ProgressFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSchemaProvider sets the note-type schema source used to validate
// fields before creating notes. Defaults to NullSchemaProvider.
func WithSchemaProvider(p anki.FieldSchemaProvider) EngineOption {
	return func(e *Engine) { e.schema = p }
}

// WithCheckpointStore enables checkpoint persistence. Without a store,
// runs are not resumable.
func WithCheckpointStore(s *checkpoint.Store) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithProgress registers a per-operation progress callback.
func WithProgress(fn ProgressFunc) EngineOption {
	return func(e *Engine) { e.onProgress = fn }
}

// NewEngine creates an apply engine over the two stores.
func NewEngine(lq LingqService, col anki.Collection, opts ...EngineOption) *Engine {
	e := &Engine{
		lingq:      lq,
		collection: col,
		schema:     anki.NullSchemaProvider{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ordered returns the plan's operations in execution order: links first,
// then LingQ creates, hint updates, status updates, conflicts, skips,
// and finally everything else. Order within a bucket preserves plan
// order, so execution is deterministic.
func Ordered(p *plan.Plan) []plan.Operation {
	priorities := map[plan.OpType]int{
		plan.OpLink:         0,
		plan.OpCreateLingq:  1,
		plan.OpUpdateHints:  2,
		plan.OpUpdateStatus: 3,
		plan.OpConflict:     4,
		plan.OpSkip:         5,
	}
	const defaultPriority = 999

	type indexed struct {
		prio int
		pos  int
		op   plan.Operation
	}
	ops := make([]indexed, len(p.Operations))
	for i, op := range p.Operations {
		prio, ok := priorities[op.Type]
		if !ok {
			prio = defaultPriority
		}
		ops[i] = indexed{prio: prio, pos: i, op: op}
	}
	// Insertion sort keeps it stable without pulling in sort.SliceStable
	// machinery for what is usually a short list.
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0; j-- {
			a, b := ops[j-1], ops[j]
			if a.prio < b.prio || (a.prio == b.prio && a.pos < b.pos) {
				break
			}
			ops[j-1], ops[j] = b, a
		}
	}
	out := make([]plan.Operation, len(ops))
	for i, io := range ops {
		out[i] = io.op
	}
	return out
}

// Run applies the plan, resuming from any existing checkpoint for the
// plan's profile. Operation failures are recorded and the run continues;
// a failed operation is still marked completed so a resume does not
// retry it forever. The checkpoint is cleared once the whole plan has
// been processed without errors.
func (e *Engine) Run(ctx context.Context, p *plan.Plan) (*Result, error) {
	defer logging.Timer("apply")()

	ordered := Ordered(p)

	cp := e.loadCheckpoint(p.ProfileName)
	if cp == nil {
		cp = &checkpoint.Checkpoint{RunID: uuid.NewString()}
	}

	completed := make(map[string]bool, len(cp.CompletedOps))
	for _, id := range cp.CompletedOps {
		completed[id] = true
	}

	result := &Result{}
	start := cp.LastProcessedIndex
	if start > len(ordered) {
		start = len(ordered)
	}

	logging.Info("applying sync plan",
		logging.Profile(p.ProfileName),
		logging.Count(len(ordered)),
	)

	for i := start; i < len(ordered); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		op := ordered[i]
		opID := op.Identifier()

		switch {
		case completed[opID]:
			result.SkippedCount++

		case op.Type == plan.OpConflict || op.Type == plan.OpSkip:
			result.SkippedCount++
			cp.CompletedOps = append(cp.CompletedOps, opID)
			completed[opID] = true

		default:
			if err := e.applyOne(ctx, op); err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s failed for %q: %v", op.Type, op.Term, err))
				logging.Error("operation failed",
					logging.Operation(string(op.Type)),
					logging.Term(op.Term),
					logging.Err(err),
				)
			} else {
				result.SuccessCount++
			}
			// Mark completed either way so resume never loops on a
			// permanently failing operation.
			cp.CompletedOps = append(cp.CompletedOps, opID)
			completed[opID] = true
		}

		cp.LastProcessedIndex = i + 1
		e.saveCheckpoint(p.ProfileName, cp)

		if e.onProgress != nil {
			e.onProgress(i+1, len(ordered), op)
		}
	}

	if result.ErrorCount == 0 && e.store != nil && p.ProfileName != "" {
		if err := e.store.Clear(p.ProfileName); err != nil {
			logging.Warn("failed to clear checkpoint", logging.Profile(p.ProfileName), logging.Err(err))
		}
	}

	return result, nil
}

func (e *Engine) loadCheckpoint(profileName string) *checkpoint.Checkpoint {
	if e.store == nil || profileName == "" {
		return nil
	}
	cp, err := e.store.Load(profileName)
	if err != nil {
		logging.Warn("failed to load checkpoint", logging.Profile(profileName), logging.Err(err))
		return nil
	}
	return cp
}

func (e *Engine) saveCheckpoint(profileName string, cp *checkpoint.Checkpoint) {
	if e.store == nil || profileName == "" {
		return
	}
	if err := e.store.Save(profileName, cp); err != nil {
		logging.Warn("failed to save checkpoint", logging.Profile(profileName), logging.Err(err))
	}
}

func (e *Engine) applyOne(ctx context.Context, op plan.Operation) error {
	switch op.Type {
	case plan.OpCreateLingq:
		return e.applyCreateLingq(ctx, op)
	case plan.OpUpdateHints:
		return e.applyUpdateHints(ctx, op)
	case plan.OpUpdateStatus:
		return e.applyUpdateStatus(ctx, op)
	case plan.OpLink:
		return e.applyLink(ctx, op)
	case plan.OpCreateAnki:
		return e.applyCreateAnki(ctx, op)
	case plan.OpRescheduleAnki:
		return e.applyRescheduleAnki(ctx, op)
	default:
		return fmt.Errorf("unknown op type %q", op.Type)
	}
}

func (e *Engine) applyCreateLingq(ctx context.Context, op plan.Operation) error {
	details, ok := op.Details.(plan.CreateLingqDetails)
	if !ok {
		return fmt.Errorf("create_lingq: unexpected details %T", op.Details)
	}
	if details.Language == "" {
		return fmt.Errorf("create_lingq: missing language")
	}
	if strings.TrimSpace(op.Term) == "" {
		return fmt.Errorf("create_lingq: missing term")
	}

	// Idempotency: an earlier interrupted run may have created the card
	// already. Exact trimmed case-insensitive term comparison only.
	existing, err := e.lingq.SearchCards(ctx, details.Language, op.Term)
	if err != nil {
		return err
	}
	want := strings.ToLower(strings.TrimSpace(op.Term))
	for _, card := range existing {
		if strings.ToLower(strings.TrimSpace(card.Term)) == want {
			return nil
		}
	}

	hints := make([]lingq.HintCreate, 0, len(details.Hints))
	for _, h := range details.Hints {
		hints = append(hints, lingq.HintCreate{Locale: h.Locale, Text: h.Text})
	}

	created, err := e.lingq.CreateCard(ctx, details.Language, op.Term, hints, details.Fragment)
	if err != nil {
		return err
	}

	if details.DesiredStatus != nil && *details.DesiredStatus > 0 {
		patch := lingq.CardPatch{Status: details.DesiredStatus}
		if _, err := e.lingq.PatchCard(ctx, details.Language, created.PK, patch); err != nil {
			return fmt.Errorf("set status on created card: %w", err)
		}
	}
	return nil
}

func (e *Engine) applyUpdateHints(ctx context.Context, op plan.Operation) error {
	details, ok := op.Details.(plan.UpdateHintsDetails)
	if !ok {
		return fmt.Errorf("update_hints: unexpected details %T", op.Details)
	}
	if details.Language == "" {
		return fmt.Errorf("update_hints: missing language")
	}
	if op.LingqPK == 0 {
		return fmt.Errorf("update_hints: missing lingq pk")
	}

	hints := make([]lingq.HintCreate, 0, len(details.Hints))
	for _, h := range details.Hints {
		hints = append(hints, lingq.HintCreate{Locale: h.Locale, Text: h.Text})
	}
	_, err := e.lingq.PatchCard(ctx, details.Language, op.LingqPK, lingq.CardPatch{Hints: hints})
	return err
}

func (e *Engine) applyUpdateStatus(ctx context.Context, op plan.Operation) error {
	details, ok := op.Details.(plan.UpdateStatusDetails)
	if !ok {
		return fmt.Errorf("update_status: unexpected details %T", op.Details)
	}
	if details.Language == "" {
		return fmt.Errorf("update_status: missing language")
	}
	if op.LingqPK == 0 {
		return fmt.Errorf("update_status: missing lingq pk")
	}
	if details.Status == nil && details.ExtendedStatus == nil {
		return fmt.Errorf("update_status: nothing to update")
	}

	patch := lingq.CardPatch{Status: details.Status, ExtendedStatus: details.ExtendedStatus}
	_, err := e.lingq.PatchCard(ctx, details.Language, op.LingqPK, patch)
	return err
}

// applyLink writes the identity fields onto the note. A note already
// carrying a different pk is refused: that situation means the plan is
// stale and the pair needs a fresh diff.
func (e *Engine) applyLink(ctx context.Context, op plan.Operation) error {
	details, ok := op.Details.(plan.LinkDetails)
	if !ok {
		return fmt.Errorf("link: unexpected details %T", op.Details)
	}

	fields, err := e.collection.NoteFields(ctx, op.AnkiNoteID)
	if err != nil {
		return err
	}

	current := strings.TrimSpace(fields[details.Identity.PKField])
	switch current {
	case details.Identity.PKValue:
		// Already linked.
		return nil
	case "":
	default:
		return fmt.Errorf("note %d already linked to pk %s, refusing to overwrite with %s",
			op.AnkiNoteID, current, details.Identity.PKValue)
	}

	return e.collection.UpdateNoteFields(ctx, op.AnkiNoteID, map[string]string{
		details.Identity.PKField:            details.Identity.PKValue,
		details.Identity.CanonicalTermField: details.Identity.CanonicalTermValue,
	})
}

func (e *Engine) applyCreateAnki(ctx context.Context, op plan.Operation) error {
	details, ok := op.Details.(plan.CreateAnkiDetails)
	if !ok {
		return fmt.Errorf("create_anki: unexpected details %T", op.Details)
	}

	// Idempotency: a note stamped with this pk already exists.
	query := fmt.Sprintf("%q", details.Identity.PKField+":"+details.Identity.PKValue)
	existing, err := e.collection.FindNotes(ctx, query)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	fields := make(map[string]string, len(details.Fields)+2)
	for name, value := range details.Fields {
		fields[name] = value
	}
	fields[details.Identity.PKField] = details.Identity.PKValue
	fields[details.Identity.CanonicalTermField] = details.Identity.CanonicalTermValue

	if err := e.validateFields(ctx, details.NoteType, fields); err != nil {
		return err
	}

	id, err := e.collection.AddNote(ctx, details.Deck, details.NoteType, fields, nil)
	if err != nil {
		return err
	}
	logging.Debug("created note", logging.NoteID(id), logging.Term(op.Term))
	return nil
}

// validateFields checks field names against the note type schema when
// one is available. An unknown schema (nil names) validates everything.
func (e *Engine) validateFields(ctx context.Context, noteType string, fields map[string]string) error {
	names, err := e.schema.FieldNames(ctx, noteType)
	if err != nil {
		return fmt.Errorf("field schema for %q: %w", noteType, err)
	}
	if names == nil {
		return nil
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for name := range fields {
		if !known[name] {
			return fmt.Errorf("note type %q has no field %q", noteType, name)
		}
	}
	return nil
}

func (e *Engine) applyRescheduleAnki(ctx context.Context, op plan.Operation) error {
	details, ok := op.Details.(plan.RescheduleAnkiDetails)
	if !ok {
		return fmt.Errorf("reschedule_anki: unexpected details %T", op.Details)
	}

	records, err := e.collection.NoteCards(ctx, op.AnkiNoteID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("note %d has no cards", op.AnkiNoteID)
	}

	cardIDs := make([]int64, 0, len(records))
	for _, r := range records {
		cardIDs = append(cardIDs, r.CardID)
	}

	tier := progress.Tier(details.TargetTier)
	if tier == progress.TierNew {
		allNew := true
		for _, r := range records {
			if r.Queue != model.QueueNew {
				allNew = false
				break
			}
		}
		if allNew {
			return nil
		}
		return e.collection.ForgetCards(ctx, cardIDs)
	}

	days, ok := progress.DaysForTier(tier)
	if !ok {
		return fmt.Errorf("unknown target tier %q", details.TargetTier)
	}
	return e.collection.SetDueDate(ctx, cardIDs, strconv.Itoa(days))
}
