package redteam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

type stubFacts struct {
	facts       map[model.FactID]model.ExtractedFact
	corrections map[model.FactID][]model.ExtractedFact
}

func (s *stubFacts) GetFact(id model.FactID) (model.ExtractedFact, error) {
	f, ok := s.facts[id]
	if !ok {
		return model.ExtractedFact{}, errors.New("no such fact")
	}
	return f, nil
}

func (s *stubFacts) Corrections(id model.FactID) []model.ExtractedFact {
	return s.corrections[id]
}

type scriptedAsker struct {
	enabled  bool
	verdicts []*challengePayload
	errs     []error
	prompts  []string
}

func (s *scriptedAsker) Enabled() bool { return s.enabled }

func (s *scriptedAsker) Ask(_ context.Context, _ reasoning.Schema, prompt string) (reasoning.Payload, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.verdicts) {
		return nil, fmt.Errorf("no scripted verdict for call %d", i)
	}
	return s.verdicts[i], nil
}

func twoDocFacts() *stubFacts {
	return &stubFacts{
		facts: map[model.FactID]model.ExtractedFact{
			"f1": {ID: "f1", Content: "Wire to First Cayman Trust", Locator: model.SourceLocator{DocumentID: "doc-1", Row: -1, Offset: 0, Length: 20}},
			"f2": {ID: "f2", Content: "Trust account opened 2023", Locator: model.SourceLocator{DocumentID: "doc-2", Row: -1, Offset: 0, Length: 20}},
			"f3": {ID: "f3", Content: "Single unexplained deposit", Locator: model.SourceLocator{DocumentID: "doc-3", Row: -1, Offset: 0, Length: 20}},
		},
		corrections: map[model.FactID][]model.ExtractedFact{},
	}
}

func provisional(id model.FindingID, level model.ConfidenceLevel, revision int, cites ...model.FactID) model.Finding {
	return model.Finding{
		ID:         id,
		Kind:       model.KindConcealment,
		Statement:  "offshore movement of community funds",
		Confidence: level,
		Citations:  cites,
		Status:     model.StatusProvisional,
		Revision:   revision,
		Concealment: &model.ConcealmentFlag{
			Scheme: model.SchemeOffshore,
			Tier:   3,
		},
	}
}

func TestReview_ConfirmRaisesWithinCeiling(t *testing.T) {
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeNoContradiction, Rationale: "both sources agree"},
		{Outcome: outcomeNoContradiction, Rationale: "nothing contradicts it"},
	}}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	queue := []model.Finding{
		// Two independent documents: ceiling High, Medium rises to High.
		provisional("fd-1", model.ConfidenceMedium, 0, "f1", "f2"),
		// Single fact: ceiling Low, confidence cannot rise past it.
		provisional("fd-2", model.ConfidenceLow, 0, "f3"),
	}

	pass, err := r.Review(context.Background(), model.Case{ID: "case-1", Name: "Harlow"}, queue)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Confirmed) != 2 || len(pass.Demoted) != 0 || len(pass.Retracted) != 0 {
		t.Fatalf("pass = %+v", pass)
	}

	if got := pass.Confirmed[0].Confidence; got != model.ConfidenceHigh {
		t.Errorf("fd-1 confidence = %s, want High", got)
	}
	if got := pass.Confirmed[1].Confidence; got != model.ConfidenceLow {
		t.Errorf("fd-2 confidence = %s, want Low (ceiling)", got)
	}
	for _, f := range pass.Confirmed {
		if f.Status != model.StatusConfirmed {
			t.Errorf("%s status = %s", f.ID, f.Status)
		}
		if f.StatusReason == "" {
			t.Errorf("%s missing status reason", f.ID)
		}
	}
}

func TestReview_SelfReportedUncertaintyNeverRises(t *testing.T) {
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeNoContradiction, Rationale: "consistent"},
	}}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	f := provisional("fd-1", model.ConfidenceUncertain, 0, "f1", "f2")
	f.SelfReportedUncertain = true

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{f})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got := pass.Confirmed[0].Confidence; got != model.ConfidenceUncertain {
		t.Errorf("confidence = %s, want Uncertain preserved", got)
	}
}

func TestReview_ContradictionDemotes(t *testing.T) {
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeContradiction, Rationale: "f2 dates the account after the transfers", Facts: []model.FactID{"f2"}},
	}}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "f2"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Demoted) != 1 {
		t.Fatalf("pass = %+v", pass)
	}

	d := pass.Demoted[0]
	if d.Status != model.StatusDemoted {
		t.Errorf("status = %s", d.Status)
	}
	if d.Confidence != model.ConfidenceUncertain {
		t.Errorf("confidence = %s, want forced Uncertain", d.Confidence)
	}
	if !strings.Contains(d.StatusReason, "dates the account") {
		t.Errorf("status reason = %q", d.StatusReason)
	}
}

func TestReview_RevisionBudgetExhaustedRetracts(t *testing.T) {
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeContradiction, Rationale: "still contradicted"},
	}}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceUncertain, 2, "f1", "f2"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Retracted) != 1 || len(pass.Demoted) != 0 {
		t.Fatalf("pass = %+v", pass)
	}

	ret := pass.Retracted[0]
	if ret.Status != model.StatusRetracted {
		t.Errorf("status = %s", ret.Status)
	}
	if !strings.Contains(ret.StatusReason, ErrRevisionExhausted.Error()) {
		t.Errorf("status reason = %q", ret.StatusReason)
	}
	if len(pass.Gaps) != 1 || pass.Gaps[0].Reason != ErrRevisionExhausted.Error() {
		t.Errorf("gaps = %v", pass.Gaps)
	}
}

func TestReview_InvalidEvidenceRetractsImmediately(t *testing.T) {
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeEvidenceInvalid, Rationale: "f1 describes a deposit, not a wire"},
	}}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "f2"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Retracted) != 1 {
		t.Fatalf("pass = %+v", pass)
	}
	if pass.Retracted[0].Revision != 0 {
		t.Errorf("retraction must not consume revision rounds")
	}
}

func TestReview_MissingCitationRetractsWithoutCall(t *testing.T) {
	ask := &scriptedAsker{enabled: true}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "ghost"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Retracted) != 1 {
		t.Fatalf("pass = %+v", pass)
	}
	if len(ask.prompts) != 0 {
		t.Errorf("expected no challenge call for unresolvable citations")
	}
	if !strings.Contains(pass.Retracted[0].StatusReason, "ghost") {
		t.Errorf("status reason = %q", pass.Retracted[0].StatusReason)
	}
}

func TestReview_ChallengeFailureLeavesUnresolved(t *testing.T) {
	ask := &scriptedAsker{
		enabled: true,
		errs:    []error{fmt.Errorf("model kept violating the shape: %w", reasoning.ErrSchemaViolation)},
	}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "f2"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Unresolved) != 1 {
		t.Fatalf("pass = %+v", pass)
	}
	if pass.Unresolved[0].Status != model.StatusProvisional {
		t.Errorf("unresolved finding status = %s", pass.Unresolved[0].Status)
	}
	if len(pass.Gaps) != 1 || !strings.Contains(pass.Gaps[0].Area, "fd-1") {
		t.Errorf("gaps = %v", pass.Gaps)
	}
}

func TestReview_ValuationCeilingSeesSiblingDisagreement(t *testing.T) {
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeNoContradiction, Rationale: "figures reconcile"},
		{Outcome: outcomeNoContradiction, Rationale: "figures reconcile"},
	}}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	mk := func(id model.FindingID, method model.ValuationMethod, point float64) model.Finding {
		f := provisional(id, model.ConfidenceMedium, 0, "f1", "f2")
		f.Kind = model.KindValuation
		f.Concealment = nil
		f.Valuation = &model.ValuationEstimate{
			AssetID: "asset-1",
			Method:  method,
			Point:   point,
			Low:     point - 10000,
			High:    point + 10000,
		}
		return f
	}

	// 480k vs 360k disagree by more than 25%; the ceiling caps at Medium
	// even though both findings cite two independent documents.
	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		mk("fd-v1", model.MethodMarketComparison, 480000),
		mk("fd-v2", model.MethodIncomeApproach, 360000),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	for _, f := range pass.Confirmed {
		if f.Confidence != model.ConfidenceMedium {
			t.Errorf("%s confidence = %s, want Medium (methodology cap)", f.ID, f.Confidence)
		}
		if f.Valuation.Confidence != f.Confidence {
			t.Errorf("%s estimate confidence diverged from finding", f.ID)
		}
	}
}

func TestReview_ProviderDisabled(t *testing.T) {
	ask := &scriptedAsker{enabled: false}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	pass, err := r.Review(context.Background(), model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "f2"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(pass.Unresolved) != 1 || len(pass.Gaps) != 1 {
		t.Fatalf("pass = %+v", pass)
	}
}

func TestReview_Cancelled(t *testing.T) {
	ask := &scriptedAsker{enabled: true}
	r := NewReviewer(ask, twoDocFacts(), nil, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Review(ctx, model.Case{}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "f2"),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestChallengePrompt_IncludesCorrections(t *testing.T) {
	facts := twoDocFacts()
	facts.corrections["f1"] = []model.ExtractedFact{
		{ID: "f9", Content: "Wire was recalled the next day", Contradicts: "f1"},
	}
	ask := &scriptedAsker{enabled: true, verdicts: []*challengePayload{
		{Outcome: outcomeContradiction, Rationale: "recalled"},
	}}
	r := NewReviewer(ask, facts, nil, 2)

	_, err := r.Review(context.Background(), model.Case{Name: "Harlow"}, []model.Finding{
		provisional("fd-1", model.ConfidenceHigh, 0, "f1", "f2"),
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(ask.prompts) != 1 {
		t.Fatalf("expected one challenge call")
	}
	if !strings.Contains(ask.prompts[0], "recalled the next day") {
		t.Errorf("prompt missing recorded correction:\n%s", ask.prompts[0])
	}
	if !strings.Contains(ask.prompts[0], "offshore movement") {
		t.Errorf("prompt missing finding statement")
	}
}
