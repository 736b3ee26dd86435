// Package anki abstracts the flashcard collection behind a narrow
// interface and provides an AnkiConnect-backed implementation. The sync
// engine only ever goes through Collection, so tests and alternative
// hosts can substitute their own.
package anki

import (
	"context"

	"lingsync/internal/model"
)

// Collection is the mutable view of the flashcard store that the apply
// engine needs. Implementations must never modify review history;
// rescheduling goes through ForgetCards and SetDueDate only.
type Collection interface {
	// NoteFields returns the current field values of a note.
	NoteFields(ctx context.Context, noteID int64) (map[string]string, error)
	// UpdateNoteFields overwrites the given fields, leaving others alone.
	UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error
	// AddNote creates a note and returns its id.
	AddNote(ctx context.Context, deck, noteType string, fields map[string]string, tags []string) (int64, error)
	// FindNotes runs a collection search query and returns matching note ids.
	FindNotes(ctx context.Context, query string) ([]int64, error)
	// NoteCards returns the scheduling records of the note's cards.
	NoteCards(ctx context.Context, noteID int64) ([]model.CardRecord, error)
	// ForgetCards resets cards to the new queue. Review history is kept.
	ForgetCards(ctx context.Context, cardIDs []int64) error
	// SetDueDate moves the due date without touching intervals or
	// history, which keeps FSRS state intact.
	SetDueDate(ctx context.Context, cardIDs []int64, days string) error
}

// FieldSchemaProvider reports the field names of a note type. A nil
// field list with a nil error means the schema is unknown and callers
// should skip field validation rather than fail.
type FieldSchemaProvider interface {
	FieldNames(ctx context.Context, noteType string) ([]string, error)
}

// NullSchemaProvider is the degraded-mode provider used when the
// collection host cannot answer schema questions. It reports every
// schema as unknown.
type NullSchemaProvider struct{}

func (NullSchemaProvider) FieldNames(context.Context, string) ([]string, error) {
	return nil, nil
}
