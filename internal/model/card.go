package model

import "strings"

// LingQ card statuses (coarse mastery): 0=new, 1=recognized, 2=familiar,
// 3=learned, 4=known. LingQ historically represented "known" as status=3
// with extended_status=3; newer payloads use status=4.
const (
	StatusNew        = 0
	StatusRecognized = 1
	StatusFamiliar   = 2
	StatusLearned    = 3
	StatusKnown      = 4
)

// Hint is a (locale, text) translation/meaning entry on a LingQ card.
type Hint struct {
	ID         int    `json:"id,omitempty"`
	Locale     string `json:"locale"`
	Text       string `json:"text"`
	Popularity int    `json:"popularity,omitempty"`
}

// Card is an immutable snapshot of a LingQ card.
type Card struct {
	PK             int      `json:"pk"`
	Term           string   `json:"term"`
	Status         int      `json:"status"`
	ExtendedStatus *int     `json:"extended_status,omitempty"`
	Fragment       string   `json:"fragment,omitempty"`
	SRSDueDate     string   `json:"srs_due_date,omitempty"`
	Hints          []Hint   `json:"hints,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// HintsInLocale returns the card's hints restricted to the given locale,
// skipping blank texts.
func (c Card) HintsInLocale(locale string) []Hint {
	var out []Hint
	for _, h := range c.Hints {
		if h.Locale != locale {
			continue
		}
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}
