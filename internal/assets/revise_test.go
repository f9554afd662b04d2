package assets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

func TestReanalyze_NarrowsChallengedFinding(t *testing.T) {
	s := seedCase(t)
	ask := newStubAsker()
	ask.queue("finding_revision", &revisionPayload{
		Statement: "Two wires to First Cayman Trust within one week",
		Facts:     []model.FactID{s.id("chase.wire0"), s.id("chase.wire1")},
	})

	e := NewEngine(ask, s.ledger, nil, 1)
	original := model.Finding{
		ID:         "fd-1",
		Kind:       model.KindConcealment,
		Statement:  "Sustained offshore transfer program",
		Citations:  []model.FactID{s.id("chase.wire0")},
		Status:     model.StatusDemoted,
		Confidence: model.ConfidenceUncertain,
		Revision:   0,
		Concealment: &model.ConcealmentFlag{
			Scheme: model.SchemeOffshore,
			Tier:   4,
		},
	}

	revised, err := e.Reanalyze(context.Background(), s.c, s.docs, original, "only one wire is actually dated")
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}

	if revised.ID != original.ID {
		t.Errorf("revision changed identity: %s -> %s", original.ID, revised.ID)
	}
	if revised.Revision != 1 {
		t.Errorf("revision = %d, want 1", revised.Revision)
	}
	if revised.Status != model.StatusProvisional {
		t.Errorf("status = %s, want Provisional", revised.Status)
	}
	if revised.Statement != "Two wires to First Cayman Trust within one week" {
		t.Errorf("statement = %q", revised.Statement)
	}
	// Two independent row facts: offshore stays at its base tier 3.
	if revised.Concealment.Tier != 3 {
		t.Errorf("tier = %d, want 3 recomputed from corroboration", revised.Concealment.Tier)
	}
	if revised.Confidence != model.ConfidenceHigh {
		t.Errorf("confidence = %s, want High from two independent facts", revised.Confidence)
	}
}

func TestReanalyze_ValuationKeepsMethod(t *testing.T) {
	s := seedCase(t)
	ask := newStubAsker()
	ask.queue("valuation_estimate", &valuationPayload{
		Statement: "Capitalized earnings with corrected addbacks",
		Point:     400000, Low: 380000, High: 430000,
		Facts: []model.FactID{s.id("acme.revenue"), s.id("acme.balance")},
	})

	e := NewEngine(ask, s.ledger, nil, 1)
	original := model.Finding{
		ID:         "fd-v",
		Kind:       model.KindValuation,
		Statement:  "Capitalized earnings",
		Citations:  []model.FactID{s.id("acme.revenue")},
		Status:     model.StatusDemoted,
		Confidence: model.ConfidenceUncertain,
		Valuation: &model.ValuationEstimate{
			AssetID: "asset-acme",
			Method:  model.MethodIncomeApproach,
			Point:   360000,
			Low:     340000,
			High:    380000,
		},
	}

	revised, err := e.Reanalyze(context.Background(), s.c, s.docs, original, "owner addbacks were double counted")
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}

	if revised.Valuation.Method != model.MethodIncomeApproach {
		t.Errorf("method = %s, want preserved income_approach", revised.Valuation.Method)
	}
	if revised.Valuation.AssetID != "asset-acme" {
		t.Errorf("asset id = %s, want preserved", revised.Valuation.AssetID)
	}
	if revised.Valuation.Point != 400000 {
		t.Errorf("point = %.0f, want revised 400000", revised.Valuation.Point)
	}
	if revised.Valuation.Confidence != revised.Confidence {
		t.Errorf("estimate confidence %s diverged from finding %s", revised.Valuation.Confidence, revised.Confidence)
	}
}

func TestReanalyze_PromptCarriesChallenge(t *testing.T) {
	s := seedCase(t)
	ask := newStubAsker()
	ask.queue("finding_revision", &revisionPayload{
		Statement: "narrowed",
		Facts:     []model.FactID{s.id("chase.wire0")},
	})

	e := NewEngine(ask, s.ledger, nil, 1)
	f := model.Finding{
		ID:        "fd-1",
		Kind:      model.KindBehavioral,
		Statement: "income disappears between statements",
		Citations: []model.FactID{s.id("wells.balance")},
		Status:    model.StatusDemoted,
	}

	_, err := e.Reanalyze(context.Background(), s.c, s.docs, f, "the gap is explained by a documented transfer")
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}
	prompt := ask.lastPrompt()
	if !strings.Contains(prompt, "explained by a documented transfer") {
		t.Errorf("prompt missing challenge rationale")
	}
	if !strings.Contains(prompt, "income disappears") {
		t.Errorf("prompt missing original statement")
	}
}

func TestReanalyze_ErrorPropagates(t *testing.T) {
	s := seedCase(t)
	ask := newStubAsker()
	ask.errs["finding_revision"] = reasoning.ErrUpstreamTimeout

	e := NewEngine(ask, s.ledger, nil, 1)
	f := model.Finding{
		ID:        "fd-1",
		Kind:      model.KindBehavioral,
		Statement: "pattern",
		Citations: []model.FactID{s.id("wells.balance")},
	}

	_, err := e.Reanalyze(context.Background(), s.c, s.docs, f, "challenge")
	if !errors.Is(err, reasoning.ErrUpstreamTimeout) {
		t.Errorf("expected upstream timeout, got %v", err)
	}
}

func TestReanalyze_ProviderDisabled(t *testing.T) {
	s := seedCase(t)
	ask := newStubAsker()
	ask.enabled = false

	e := NewEngine(ask, s.ledger, nil, 1)
	_, err := e.Reanalyze(context.Background(), s.c, s.docs, model.Finding{ID: "fd-1"}, "challenge")
	if !errors.Is(err, reasoning.ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}
