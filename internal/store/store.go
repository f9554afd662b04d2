// Package store holds cases, their evidence ledgers, and finished reports
// behind one interface so the pipeline never cares where a case came from.
package store

import (
	"errors"
	"fmt"
	"sync"

	"kestrel/internal/ledger"
	"kestrel/internal/model"
)

var (
	// ErrNotFound is returned for unknown case ids and unsaved reports.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateCase is returned when a case id is registered twice.
	ErrDuplicateCase = errors.New("store: duplicate case")
)

// Store is the persistence surface the pipeline reads through. One entry
// per case: the case record, its append-only ledger, and, after a completed
// run, its report.
type Store interface {
	PutCase(c model.Case, led *ledger.Ledger) error
	LoadCase(id model.CaseID) (model.Case, error)
	Ledger(id model.CaseID) (*ledger.Ledger, error)
	Documents(id model.CaseID) ([]model.Document, error)
	Facts(id model.CaseID) ([]model.ExtractedFact, error)
	SaveReport(id model.CaseID, r model.Report) error
	Report(id model.CaseID) (model.Report, error)
	Cases() []model.CaseID
}

type entry struct {
	c      model.Case
	led    *ledger.Ledger
	report *model.Report
}

// MemStore is the in-memory Store. Safe for concurrent use; batch runs
// share one instance across case workers.
type MemStore struct {
	mu    sync.RWMutex
	cases map[model.CaseID]*entry
	order []model.CaseID
}

func NewMem() *MemStore {
	return &MemStore{cases: make(map[model.CaseID]*entry)}
}

// PutCase registers a case with its ledger. A nil ledger gets an empty one.
func (s *MemStore) PutCase(c model.Case, led *ledger.Ledger) error {
	if c.ID == "" {
		return fmt.Errorf("store: put case: empty id")
	}
	if led == nil {
		led = ledger.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return fmt.Errorf("case %s: %w", c.ID, ErrDuplicateCase)
	}
	s.cases[c.ID] = &entry{c: c, led: led}
	s.order = append(s.order, c.ID)
	return nil
}

func (s *MemStore) LoadCase(id model.CaseID) (model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cases[id]
	if !ok {
		return model.Case{}, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return e.c, nil
}

func (s *MemStore) Ledger(id model.CaseID) (*ledger.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return e.led, nil
}

func (s *MemStore) Documents(id model.CaseID) ([]model.Document, error) {
	led, err := s.Ledger(id)
	if err != nil {
		return nil, err
	}
	return led.Documents(), nil
}

func (s *MemStore) Facts(id model.CaseID) ([]model.ExtractedFact, error) {
	led, err := s.Ledger(id)
	if err != nil {
		return nil, err
	}
	return led.Facts(), nil
}

// SaveReport attaches a completed report to the case, replacing any earlier
// run's report.
func (s *MemStore) SaveReport(id model.CaseID, r model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cases[id]
	if !ok {
		return fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	e.report = &r
	return nil
}

// Report returns the saved report. ErrNotFound covers both unknown cases
// and cases that have not completed a run.
func (s *MemStore) Report(id model.CaseID) (model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cases[id]
	if !ok || e.report == nil {
		return model.Report{}, fmt.Errorf("report for case %s: %w", id, ErrNotFound)
	}
	return *e.report, nil
}

// Cases returns registered case ids in registration order.
func (s *MemStore) Cases() []model.CaseID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CaseID, len(s.order))
	copy(out, s.order)
	return out
}

// MissingCitations reports the ids no registered ledger knows. Fact ids are
// minted uuids, so an id either belongs to exactly one case or to none;
// per-case citation closure is enforced again when findings are applied.
func (s *MemStore) MissingCitations(ids []model.FactID) []model.FactID {
	s.mu.RLock()
	ledgers := make([]*ledger.Ledger, 0, len(s.cases))
	for _, e := range s.cases {
		ledgers = append(ledgers, e.led)
	}
	s.mu.RUnlock()

	var missing []model.FactID
	for _, id := range ids {
		found := false
		for _, led := range ledgers {
			if led.HasFact(id) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	return missing
}
