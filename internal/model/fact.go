package model

import "time"

// FactID identifies an atomic extracted fact.
type FactID string

// SourceLocator pins a fact to a position inside its document. Exactly one
// of the text span (Offset/Length) or the tabular Row is meaningful; the
// unused side is negative.
type SourceLocator struct {
	DocumentID DocumentID `json:"document_id"`
	Page       int        `json:"page,omitempty"` // 1-based, 0 when not paginated
	Offset     int        `json:"offset"`         // byte offset into Document.Text, -1 for row facts
	Length     int        `json:"length"`         // span length, 0 allowed for point references
	Row        int        `json:"row"`            // index into Document.Rows, -1 for text facts
}

// IsRow reports whether the locator addresses tabular content.
func (l SourceLocator) IsRow() bool { return l.Row >= 0 }

// ExtractedFact is the sole unit of evidence: an atomic claim with a
// mandatory source locator. Immutable once recorded.
type ExtractedFact struct {
	ID          FactID        `json:"id"`
	Content     string        `json:"content"`
	Locator     SourceLocator `json:"locator"`
	DerivedFrom FactID        `json:"derived_from,omitempty"` // derivative facts never corroborate independently
	Contradicts FactID        `json:"contradicts,omitempty"`  // correction marker; history is never mutated
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Independent reports whether two facts count as independent corroboration:
// different documents always do; within one document the locator regions
// must not overlap; a derivation link in either direction collapses them.
func Independent(a, b ExtractedFact) bool {
	if a.DerivedFrom == b.ID || b.DerivedFrom == a.ID {
		return false
	}
	if a.DerivedFrom != "" && a.DerivedFrom == b.DerivedFrom {
		return false
	}
	if a.Locator.DocumentID != b.Locator.DocumentID {
		return true
	}
	if a.Locator.IsRow() != b.Locator.IsRow() {
		return true
	}
	if a.Locator.IsRow() {
		return a.Locator.Row != b.Locator.Row
	}
	// Point references occupy at least one byte so two facts at the same
	// offset never count twice.
	aEnd := a.Locator.Offset + max(a.Locator.Length, 1)
	bEnd := b.Locator.Offset + max(b.Locator.Length, 1)
	return aEnd <= b.Locator.Offset || bEnd <= a.Locator.Offset
}
