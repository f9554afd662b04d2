// Package ledger implements the append-only evidence store. Every claim the
// pipeline emits must cite facts recorded here; nothing downstream is allowed
// to invent evidence, and nothing here is ever mutated or deleted.
package ledger

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"kestrel/internal/model"
)

var (
	// ErrNotFound is returned when a document or fact id is unknown.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidLocator is returned when a locator lies outside the bounds
	// of its document.
	ErrInvalidLocator = errors.New("ledger: locator outside document bounds")
	// ErrDuplicateID is returned when a document id is registered twice.
	ErrDuplicateID = errors.New("ledger: duplicate id")
)

// Ledger holds case documents and the atomic facts extracted from them.
// Records are append-only: a correction is a new fact carrying a Contradicts
// marker, never an update in place. Safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	docs      map[model.DocumentID]model.Document
	docOrder  []model.DocumentID
	facts     map[model.FactID]model.ExtractedFact
	factOrder []model.FactID
	byDoc     map[model.DocumentID][]model.FactID

	now func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		docs:  make(map[model.DocumentID]model.Document),
		facts: make(map[model.FactID]model.ExtractedFact),
		byDoc: make(map[model.DocumentID][]model.FactID),
		now:   time.Now,
	}
}

// AddDocument registers a source document. An empty id is assigned one;
// re-registering an existing id fails with ErrDuplicateID.
func (l *Ledger) AddDocument(doc model.Document) (model.DocumentID, error) {
	if doc.Name == "" {
		return "", fmt.Errorf("ledger: add document: empty name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if doc.ID == "" {
		doc.ID = model.DocumentID("doc-" + uuid.NewString())
	}
	if _, ok := l.docs[doc.ID]; ok {
		return "", fmt.Errorf("document %s: %w", doc.ID, ErrDuplicateID)
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = l.now()
	}
	l.docs[doc.ID] = doc
	l.docOrder = append(l.docOrder, doc.ID)
	return doc.ID, nil
}

// Document returns a registered document.
func (l *Ledger) Document(id model.DocumentID) (model.Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.docs[id]
	if !ok {
		return model.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

// Documents returns all documents in registration order.
func (l *Ledger) Documents() []model.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Document, 0, len(l.docOrder))
	for _, id := range l.docOrder {
		out = append(out, l.docs[id])
	}
	return out
}

// AddFact records an atomic fact extracted from docID at the given locator.
// The locator is validated against the document's actual bounds before the
// fact is admitted; out-of-range spans, rows, and pages fail with
// ErrInvalidLocator.
func (l *Ledger) AddFact(docID model.DocumentID, content string, loc model.SourceLocator) (model.FactID, error) {
	return l.add(docID, content, loc, "", "")
}

// AddDerived records a fact computed from an existing one, for example a
// yearly total summed from monthly rows. Derived facts never count as
// independent corroboration of their parent.
func (l *Ledger) AddDerived(docID model.DocumentID, content string, loc model.SourceLocator, parent model.FactID) (model.FactID, error) {
	if parent == "" {
		return "", fmt.Errorf("ledger: add derived: empty parent")
	}
	return l.add(docID, content, loc, parent, "")
}

// AddCorrection records a fact that supersedes an earlier one. The original
// stays in the ledger untouched; readers see both and the contradiction link
// between them.
func (l *Ledger) AddCorrection(docID model.DocumentID, content string, loc model.SourceLocator, contradicts model.FactID) (model.FactID, error) {
	if contradicts == "" {
		return "", fmt.Errorf("ledger: add correction: empty target")
	}
	return l.add(docID, content, loc, "", contradicts)
}

func (l *Ledger) add(docID model.DocumentID, content string, loc model.SourceLocator, parent, contradicts model.FactID) (model.FactID, error) {
	if content == "" {
		return "", fmt.Errorf("ledger: add fact: empty content")
	}
	if loc.DocumentID == "" {
		loc.DocumentID = docID
	}
	if loc.DocumentID != docID {
		return "", fmt.Errorf("locator names document %s, fact names %s: %w", loc.DocumentID, docID, ErrInvalidLocator)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.docs[docID]
	if !ok {
		return "", fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	if err := checkLocator(doc, loc); err != nil {
		return "", err
	}
	if parent != "" {
		if _, ok := l.facts[parent]; !ok {
			return "", fmt.Errorf("derived from %s: %w", parent, ErrNotFound)
		}
	}
	if contradicts != "" {
		if _, ok := l.facts[contradicts]; !ok {
			return "", fmt.Errorf("contradicts %s: %w", contradicts, ErrNotFound)
		}
	}

	fact := model.ExtractedFact{
		ID:          model.FactID("fact-" + uuid.NewString()),
		Content:     content,
		Locator:     loc,
		DerivedFrom: parent,
		Contradicts: contradicts,
		RecordedAt:  l.now(),
	}
	l.facts[fact.ID] = fact
	l.factOrder = append(l.factOrder, fact.ID)
	l.byDoc[docID] = append(l.byDoc[docID], fact.ID)
	return fact.ID, nil
}

// checkLocator verifies the locator addresses content that actually exists.
// Point references (zero length) still occupy one byte for bounds purposes.
func checkLocator(doc model.Document, loc model.SourceLocator) error {
	if loc.Page < 0 {
		return fmt.Errorf("page %d: %w", loc.Page, ErrInvalidLocator)
	}
	if doc.PageCount > 0 && loc.Page > doc.PageCount {
		return fmt.Errorf("page %d of %d: %w", loc.Page, doc.PageCount, ErrInvalidLocator)
	}
	if loc.IsRow() {
		if loc.Row >= len(doc.Rows) {
			return fmt.Errorf("row %d of %d: %w", loc.Row, len(doc.Rows), ErrInvalidLocator)
		}
		return nil
	}
	if loc.Offset < 0 || loc.Length < 0 {
		return fmt.Errorf("span %d+%d: %w", loc.Offset, loc.Length, ErrInvalidLocator)
	}
	if loc.Offset+max(loc.Length, 1) > len(doc.Text) {
		return fmt.Errorf("span %d+%d exceeds %d bytes: %w", loc.Offset, loc.Length, len(doc.Text), ErrInvalidLocator)
	}
	return nil
}

// GetFact returns a recorded fact.
func (l *Ledger) GetFact(id model.FactID) (model.ExtractedFact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.facts[id]
	if !ok {
		return model.ExtractedFact{}, fmt.Errorf("fact %s: %w", id, ErrNotFound)
	}
	return f, nil
}

// HasFact reports whether id names a recorded fact.
func (l *Ledger) HasFact(id model.FactID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.facts[id]
	return ok
}

// MissingCitations returns the ids from the list that do not exist in the
// ledger, in first-seen order. An empty result means every citation checks
// out.
func (l *Ledger) MissingCitations(ids []model.FactID) []model.FactID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var missing []model.FactID
	seen := make(map[model.FactID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := l.facts[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// FactsFor returns the facts extracted from one document in recording order.
// The sequence is backed by a snapshot taken when FactsFor is called, so it
// can be ranged over any number of times and is unaffected by concurrent
// writes.
func (l *Ledger) FactsFor(docID model.DocumentID) iter.Seq[model.ExtractedFact] {
	l.mu.RLock()
	snapshot := make([]model.ExtractedFact, 0, len(l.byDoc[docID]))
	for _, id := range l.byDoc[docID] {
		snapshot = append(snapshot, l.facts[id])
	}
	l.mu.RUnlock()

	return func(yield func(model.ExtractedFact) bool) {
		for _, f := range snapshot {
			if !yield(f) {
				return
			}
		}
	}
}

// Facts returns every recorded fact in recording order.
func (l *Ledger) Facts() []model.ExtractedFact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.ExtractedFact, 0, len(l.factOrder))
	for _, id := range l.factOrder {
		out = append(out, l.facts[id])
	}
	return out
}

// Corrections returns the facts that contradict the given fact, in
// recording order.
func (l *Ledger) Corrections(id model.FactID) []model.ExtractedFact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.ExtractedFact
	for _, fid := range l.factOrder {
		if f := l.facts[fid]; f.Contradicts == id {
			out = append(out, f)
		}
	}
	return out
}

// FactCount returns the number of recorded facts.
func (l *Ledger) FactCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.facts)
}

// DocumentCount returns the number of registered documents.
func (l *Ledger) DocumentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.docs)
}

// DocumentIDs returns registered document ids in registration order.
func (l *Ledger) DocumentIDs() []model.DocumentID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.docOrder)
}
