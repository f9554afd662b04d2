package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"kestrel/internal/ledger"
	"kestrel/internal/model"
	"kestrel/internal/reasoning"
	"kestrel/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptAsker replays canned JSON replies per schema name, decoding through
// schema.New the way the adapter does. Unscripted calls fail with an
// upstream error so degraded paths stay observable.
type scriptAsker struct {
	mu      sync.Mutex
	replies map[string][]string
	asked   map[string]int
}

func newScriptAsker() *scriptAsker {
	return &scriptAsker{
		replies: make(map[string][]string),
		asked:   make(map[string]int),
	}
}

func (a *scriptAsker) on(schema string, raw ...string) {
	a.replies[schema] = append(a.replies[schema], raw...)
}

func (a *scriptAsker) count(schema string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.asked[schema]
}

func (a *scriptAsker) Enabled() bool { return true }

func (a *scriptAsker) Ask(_ context.Context, schema reasoning.Schema, _ string) (reasoning.Payload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.asked[schema.Name]++
	queue := a.replies[schema.Name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("%w: no scripted reply for %s", reasoning.ErrUpstreamError, schema.Name)
	}
	a.replies[schema.Name] = queue[1:]

	p := schema.New()
	if err := json.Unmarshal([]byte(queue[0]), p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// seedCase registers a case with two verified bank statements, one cited
// fact each.
func seedCase(t *testing.T, st *store.MemStore, jurisdiction string) (model.Case, *ledger.Ledger, []model.FactID) {
	t.Helper()

	c := model.Case{
		ID:           "case-harlow",
		Name:         "Harlow v. Harlow",
		Jurisdiction: jurisdiction,
		CreatedAt:    time.Now(),
	}
	led := ledger.New()

	var ids []model.FactID
	docs := []struct{ name, text, fact string }{
		{
			"chase-june-2023.pdf",
			"Statement period June 2023. Outbound wire $18,500.00 to Cayman National Bank on 2023-06-03.",
			"Outbound wire $18,500.00 to Cayman National Bank",
		},
		{
			"chase-july-2023.pdf",
			"Statement period July 2023. Recurring transfer to Harlow Design LLC operating account, $4,200.00.",
			"Recurring transfer to Harlow Design LLC operating account",
		},
	}
	for _, d := range docs {
		docID, err := led.AddDocument(model.Document{
			CaseID: c.ID,
			Type:   model.DocBankStatement,
			Name:   d.name,
			Text:   d.text,
		})
		if err != nil {
			t.Fatalf("add document %s: %v", d.name, err)
		}
		off := strings.Index(d.text, d.fact)
		if off < 0 {
			t.Fatalf("fact %q not in text", d.fact)
		}
		id, err := led.AddFact(docID, d.fact, model.SourceLocator{
			DocumentID: docID, Offset: off, Length: len(d.fact), Row: -1,
		})
		if err != nil {
			t.Fatalf("add fact: %v", err)
		}
		ids = append(ids, id)
	}

	if err := st.PutCase(c, led); err != nil {
		t.Fatalf("put case: %v", err)
	}
	return c, led, ids
}

// testConfig narrows the expected document set so knowledge boundaries only
// appear in the test that wants them.
func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Pipeline.ExpectedDocuments = []model.DocumentType{model.DocBankStatement}
	return cfg
}

func factList(ids ...model.FactID) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func TestRun_CompletedReport(t *testing.T) {
	st := store.NewMem()
	c, led, facts := seedCase(t, st, "CA")

	ask := newScriptAsker()
	ask.on("asset_map", fmt.Sprintf(
		`{"assets":[{"asset_class":"business_interest","statement":"Harlow Design LLC is a marital business interest","facts":%s}]}`,
		factList(facts...)))
	ask.on("concealment_detection", fmt.Sprintf(
		`{"schemes":[{"scheme":"offshore","statement":"Wire to Cayman National Bank moved marital funds offshore","facts":%s}]}`,
		factList(facts...)))
	ask.on("behavioral_patterns", `{"patterns":[]}`)
	valuation := fmt.Sprintf(
		`{"statement":"Harlow Design LLC valued at $250,000","point":250000,"low":200000,"high":300000,"facts":%s}`,
		factList(facts[0]))
	ask.on("valuation_estimate", valuation, valuation, valuation)
	confirm := `{"outcome":"no_contradiction","rationale":"the cited evidence stands"}`
	ask.on("finding_challenge", confirm, confirm, confirm, confirm, confirm)

	o := New(st, ask, nil, testConfig())
	rep, err := o.Run(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Findings) != 5 {
		t.Fatalf("findings = %d, want 5", len(rep.Findings))
	}
	for _, f := range rep.Findings {
		if f.Status != model.StatusConfirmed {
			t.Errorf("finding %s status = %s, want Confirmed", f.ID, f.Status)
		}
		if missing := led.MissingCitations(f.Citations); len(missing) > 0 {
			t.Errorf("finding %s cites unknown facts %v", f.ID, missing)
		}
	}
	if len(rep.AuditTrail) != 0 {
		t.Errorf("audit trail = %d findings, want 0", len(rep.AuditTrail))
	}

	// Two facts from independent documents back the asset finding.
	var asset model.Finding
	for _, f := range rep.Findings {
		if f.Kind == model.KindAsset {
			asset = f
		}
	}
	if asset.Confidence != model.ConfidenceHigh {
		t.Errorf("asset confidence = %s, want High", asset.Confidence)
	}

	wantPhases := []model.PhaseName{
		model.PhaseConstitutionalVerification,
		model.PhaseSequentialAnalysis,
		model.PhaseSelfCorrection,
		model.PhaseStrategicOutput,
	}
	if len(rep.Phases) != len(wantPhases) {
		t.Fatalf("phase records = %d, want %d", len(rep.Phases), len(wantPhases))
	}
	for i, rec := range rep.Phases {
		if rec.Phase != wantPhases[i] {
			t.Errorf("phase[%d] = %s, want %s", i, rec.Phase, wantPhases[i])
		}
		if rec.Status != model.PhaseSuccess {
			t.Errorf("phase %s status = %s (%s), want success", rec.Phase, rec.Status, rec.Detail)
		}
		if rec.EndedAt.Before(rec.StartedAt) {
			t.Errorf("phase %s ended before it started", rec.Phase)
		}
	}

	if len(rep.Simulations) != 1 {
		t.Fatalf("simulations = %d, want 1", len(rep.Simulations))
	}
	if rep.Simulations[0].Weight != 0.5 {
		t.Errorf("community property weight = %v, want 0.5", rep.Simulations[0].Weight)
	}
	if rep.Financial.TotalAssets != 250000 {
		t.Errorf("total assets = %v, want 250000", rep.Financial.TotalAssets)
	}

	if len(rep.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(rep.Actions))
	}
	if rep.Actions[0].Urgency != UrgencyHigh {
		t.Errorf("action urgency = %s, want high", rep.Actions[0].Urgency)
	}
	if len(rep.Discovery) != 0 {
		t.Errorf("discovery = %v, want none", rep.Discovery)
	}

	if len(rep.SummaryLevels) < 2 {
		t.Fatalf("summary levels = %d, want at least 2", len(rep.SummaryLevels))
	}
	for i := 1; i < len(rep.SummaryLevels); i++ {
		if len(rep.SummaryLevels[i].Text) >= len(rep.SummaryLevels[i-1].Text) {
			t.Errorf("summary level %d not shorter than level %d", i, i-1)
		}
	}

	saved, err := st.Report(c.ID)
	if err != nil {
		t.Fatalf("saved report: %v", err)
	}
	if saved.CaseID != c.ID || len(saved.Findings) != len(rep.Findings) {
		t.Errorf("saved report differs from returned report")
	}
}

func TestRun_DisabledReasoningDegrades(t *testing.T) {
	st := store.NewMem()
	c, _, _ := seedCase(t, st, "TX")

	o := New(st, nil, nil, testConfig())
	rep, err := o.Run(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Findings) != 0 {
		t.Errorf("findings = %d, want 0", len(rep.Findings))
	}
	wantAreas := []string{"asset_mapping", "concealment_detection", "behavioral_patterns", "business_valuation"}
	for _, area := range wantAreas {
		found := false
		for _, g := range rep.CoverageGaps {
			if g.Area == area {
				found = true
			}
		}
		if !found {
			t.Errorf("no coverage gap for %s", area)
		}
	}
	if len(rep.SummaryLevels) != 1 {
		t.Fatalf("summary levels = %d, want 1", len(rep.SummaryLevels))
	}
	if !strings.Contains(rep.SummaryLevels[0].Text, "No findings were confirmed") {
		t.Errorf("summary text = %q", rep.SummaryLevels[0].Text)
	}
	if len(rep.Simulations) != 0 {
		t.Errorf("simulations = %d, want 0", len(rep.Simulations))
	}

	// Analysis recorded partial; the run still completed.
	var analysis model.PhaseRecord
	for _, rec := range rep.Phases {
		if rec.Phase == model.PhaseSequentialAnalysis {
			analysis = rec
		}
	}
	if analysis.Status != model.PhasePartial {
		t.Errorf("analysis status = %s, want partial", analysis.Status)
	}
}

func TestRun_DemoteThenRetract(t *testing.T) {
	st := store.NewMem()
	c, _, facts := seedCase(t, st, "CA")

	ask := newScriptAsker()
	ask.on("asset_map", fmt.Sprintf(
		`{"assets":[{"asset_class":"bank_account","statement":"Undisclosed Chase account","facts":%s}]}`,
		factList(facts...)))
	ask.on("concealment_detection", `{"schemes":[]}`)
	ask.on("behavioral_patterns", `{"patterns":[]}`)

	contradiction := `{"outcome":"contradiction","rationale":"the july statement contradicts the balance"}`
	ask.on("finding_challenge", contradiction, contradiction, contradiction)
	revision := fmt.Sprintf(`{"statement":"Chase account exists but balance is unclear","facts":%s}`, factList(facts...))
	ask.on("finding_revision", revision, revision)

	cfg := testConfig()
	o := New(st, ask, nil, cfg)
	rep, err := o.Run(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Revision budget exhaustion retracts the finding, never fails the case.
	if len(rep.Findings) != 0 {
		t.Fatalf("findings = %d, want 0", len(rep.Findings))
	}
	if len(rep.AuditTrail) != 1 {
		t.Fatalf("audit trail = %d, want 1", len(rep.AuditTrail))
	}
	got := rep.AuditTrail[0]
	if got.Status != model.StatusRetracted {
		t.Errorf("status = %s, want Retracted", got.Status)
	}
	if !strings.Contains(got.StatusReason, "revision budget exhausted") {
		t.Errorf("status reason = %q", got.StatusReason)
	}
	if got.Revision != cfg.Pipeline.MaxRevisionRounds {
		t.Errorf("revision = %d, want %d", got.Revision, cfg.Pipeline.MaxRevisionRounds)
	}

	// Review ran MaxRevisionRounds+1 times and then stopped.
	corrections := 0
	for _, rec := range rep.Phases {
		if rec.Phase == model.PhaseSelfCorrection {
			corrections++
		}
	}
	if want := cfg.Pipeline.MaxRevisionRounds + 1; corrections != want {
		t.Errorf("correction passes = %d, want %d", corrections, want)
	}
	if n := ask.count("finding_challenge"); n != 3 {
		t.Errorf("challenges = %d, want 3", n)
	}
	if n := ask.count("finding_revision"); n != 2 {
		t.Errorf("revisions = %d, want 2", n)
	}
}

func TestRun_HallucinatedCitationGoesToAuditTrail(t *testing.T) {
	st := store.NewMem()
	c, led, facts := seedCase(t, st, "CA")

	ask := newScriptAsker()
	ask.on("asset_map", fmt.Sprintf(
		`{"assets":[{"asset_class":"bank_account","statement":"Documented Chase account","facts":%s},{"asset_class":"brokerage_account","statement":"Phantom brokerage account","facts":["fact-ghost"]}]}`,
		factList(facts...)))
	ask.on("concealment_detection", `{"schemes":[]}`)
	ask.on("behavioral_patterns", `{"patterns":[]}`)
	ask.on("finding_challenge", `{"outcome":"no_contradiction","rationale":"holds up"}`)

	o := New(st, ask, nil, testConfig())
	rep, err := o.Run(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(rep.Findings))
	}
	for _, f := range rep.Findings {
		if missing := led.MissingCitations(f.Citations); len(missing) > 0 {
			t.Errorf("citation closure violated: %v", missing)
		}
	}
	if len(rep.AuditTrail) != 1 {
		t.Fatalf("audit trail = %d, want 1", len(rep.AuditTrail))
	}
	if !strings.Contains(rep.AuditTrail[0].StatusReason, "absent from the ledger") {
		t.Errorf("retraction reason = %q", rep.AuditTrail[0].StatusReason)
	}
	// The phantom finding was never challenged; one call covers the real one.
	if n := ask.count("finding_challenge"); n != 1 {
		t.Errorf("challenges = %d, want 1", n)
	}
}

func TestRun_UnresolvedChallengeStaysProvisional(t *testing.T) {
	st := store.NewMem()
	c, _, facts := seedCase(t, st, "CA")

	ask := newScriptAsker()
	ask.on("asset_map", fmt.Sprintf(
		`{"assets":[{"asset_class":"bank_account","statement":"Chase account","facts":%s}]}`,
		factList(facts...)))
	ask.on("concealment_detection", `{"schemes":[]}`)
	ask.on("behavioral_patterns", `{"patterns":[]}`)
	// No finding_challenge scripted: the review call fails upstream.

	o := New(st, ask, nil, testConfig())
	rep, err := o.Run(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Findings) != 1 || rep.Findings[0].Status != model.StatusProvisional {
		t.Fatalf("want one provisional finding, got %+v", rep.Findings)
	}
	foundGap := false
	for _, g := range rep.CoverageGaps {
		if strings.HasPrefix(g.Area, "finding_challenge:") {
			foundGap = true
		}
	}
	if !foundGap {
		t.Errorf("no coverage gap for the failed challenge")
	}
	var correction model.PhaseRecord
	for _, rec := range rep.Phases {
		if rec.Phase == model.PhaseSelfCorrection {
			correction = rec
		}
	}
	if correction.Status != model.PhasePartial {
		t.Errorf("correction status = %s, want partial", correction.Status)
	}
}

func TestRun_CancelledBeforeAnalysis(t *testing.T) {
	st := store.NewMem()
	c, _, _ := seedCase(t, st, "CA")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(st, newScriptAsker(), nil, testConfig())
	rep, err := o.Run(ctx, c.ID)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if rep != nil {
		t.Fatalf("report returned despite cancellation")
	}
	if _, err := st.Report(c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("partial report observable after cancellation: %v", err)
	}
}

func TestRun_PhaseBudgetExhaustionFailsCase(t *testing.T) {
	st := store.NewMem()
	c, _, _ := seedCase(t, st, "CA")

	cfg := testConfig()
	cfg.Pipeline.PhaseTimeout = time.Nanosecond

	o := New(st, newScriptAsker(), nil, cfg)
	rep, err := o.Run(context.Background(), c.ID)
	if err == nil {
		t.Fatal("want error after budget exhaustion")
	}
	if errors.Is(err, ErrCancelled) {
		t.Fatalf("budget exhaustion reported as cancellation: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !strings.Contains(err.Error(), string(model.PhaseSequentialAnalysis)) {
		t.Errorf("error does not name the failed phase: %v", err)
	}
	if rep != nil {
		t.Fatal("report returned despite failure")
	}
	if _, err := st.Report(c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("partial report observable after failure: %v", err)
	}
}

func TestRun_UnknownJurisdictionFailsVerification(t *testing.T) {
	st := store.NewMem()
	c, _, _ := seedCase(t, st, "Atlantis")

	o := New(st, nil, nil, testConfig())
	_, err := o.Run(context.Background(), c.ID)
	if err == nil {
		t.Fatal("want error for unknown jurisdiction")
	}
	if !strings.Contains(err.Error(), string(model.PhaseConstitutionalVerification)) {
		t.Errorf("error does not name the phase: %v", err)
	}
	if !strings.Contains(err.Error(), "Atlantis") {
		t.Errorf("error does not name the jurisdiction: %v", err)
	}
}

func TestRun_UnknownCase(t *testing.T) {
	o := New(store.NewMem(), nil, nil, testConfig())
	_, err := o.Run(context.Background(), "case-nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}

func TestAdvance_EnforcesPhaseOrder(t *testing.T) {
	r := &run{}
	forward := []State{
		StateVerification, StateAnalysis, StateCorrection,
		StateAnalysis, StateCorrection, StateOutput, StateCompleted,
	}
	for _, s := range forward {
		if err := r.advance(s); err != nil {
			t.Fatalf("advance(%s): %v", s, err)
		}
	}
	if err := r.advance(StateFailed); err == nil {
		t.Error("completed run accepted another transition")
	}

	r = &run{}
	if err := r.advance(StateOutput); err == nil {
		t.Error("fresh run skipped straight to output")
	}
	if err := r.advance(StateVerification); err != nil {
		t.Fatalf("advance(verification): %v", err)
	}
	if err := r.advance(StateCompleted); err == nil {
		t.Error("verification jumped to completed")
	}
	if err := r.advance(StateAnalysis); err != nil {
		t.Fatalf("advance(analysis): %v", err)
	}
	if err := r.advance(StateVerification); err == nil {
		t.Error("run moved backward to verification")
	}
}

func TestAnalyzeBundle(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bundle.yaml"
	data := `case:
  id: case-bundle
  name: Vance v. Vance
  jurisdiction: TX
documents:
  - name: wells-2022.pdf
    type: bank_statement
    text: "Closing balance $9,500 on 2022-12-31."
    facts:
      - content: "Closing balance $9,500"
        offset: 0
        length: 22
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	st := store.NewMem()
	o := New(st, nil, nil, testConfig())
	rep, err := o.AnalyzeBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeBundle: %v", err)
	}
	if rep.CaseID != "case-bundle" {
		t.Errorf("case id = %s", rep.CaseID)
	}
	if _, err := st.LoadCase("case-bundle"); err != nil {
		t.Errorf("case not registered: %v", err)
	}
	if _, err := st.Report("case-bundle"); err != nil {
		t.Errorf("report not saved: %v", err)
	}
}

func TestAnalyzeBundle_MissingFile(t *testing.T) {
	o := New(store.NewMem(), nil, nil, testConfig())
	if _, err := o.AnalyzeBundle(context.Background(), "/does/not/exist.yaml"); err == nil {
		t.Fatal("want error for missing bundle")
	}
}
