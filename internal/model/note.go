// Package model defines the record snapshot types exchanged with the two
// external stores: Anki notes (flashcard side) and LingQ cards (vocabulary
// service side). Snapshots are produced by the clients and consumed
// read-only by the diff engine.
package model

// Anki card queue states relevant to scheduling decisions.
const (
	// QueueNew marks a card that has never been scheduled.
	QueueNew = 0
	// QueueLearning marks a card in the (re)learning queue.
	QueueLearning = 1
	// QueueReview marks a card in the review queue.
	QueueReview = 2
	// QueueSuspended marks a suspended card.
	QueueSuspended = -1
)

// CardRecord is the per-card repetition snapshot attached to a note.
type CardRecord struct {
	CardID   int64 `json:"card_id"`
	Reps     int   `json:"reps"`
	Interval int   `json:"ivl"`
	Queue    int   `json:"queue"`
	Ordinal  int   `json:"ord"`
}

// Note is an immutable snapshot of an Anki note and its cards.
type Note struct {
	ID     int64             `json:"note_id"`
	Fields map[string]string `json:"fields"`
	Cards  []CardRecord      `json:"cards,omitempty"`
}

// Field returns the value of the named field, or "" if absent.
func (n Note) Field(name string) string {
	if n.Fields == nil {
		return ""
	}
	return n.Fields[name]
}

// HasReviews reports whether any card of the note has been reviewed at
// least once. It gates LingQ card creation for bulk-imported decks.
func (n Note) HasReviews() bool {
	for _, c := range n.Cards {
		if c.Reps > 0 {
			return true
		}
	}
	return false
}

// MaxInterval returns the largest interval in days across the note's cards.
func (n Note) MaxInterval() int {
	maxIvl := 0
	for _, c := range n.Cards {
		if c.Interval > maxIvl {
			maxIvl = c.Interval
		}
	}
	return maxIvl
}
