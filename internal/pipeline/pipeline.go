// Package pipeline drives a case through the four analysis phases as an
// explicit state machine: constitutional verification, sequential analysis,
// self-correction, strategic output. Transitions only move forward, except
// that self-correction may send demoted findings back to analysis a bounded
// number of times. Every phase attempt records its timestamps and outcome,
// and a report becomes observable only once the run completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kestrel/internal/assets"
	"kestrel/internal/bundle"
	"kestrel/internal/confidence"
	"kestrel/internal/ledger"
	"kestrel/internal/logging"
	"kestrel/internal/model"
	"kestrel/internal/reasoning"
	"kestrel/internal/redteam"
	"kestrel/internal/simulate"
	"kestrel/internal/store"
)

// ErrCancelled marks a run aborted by its caller. The case ends Failed and
// no report is saved.
var ErrCancelled = errors.New("pipeline: run cancelled")

// State is the orchestrator's position in the phase machine.
type State string

const (
	StateVerification State = "constitutional_verification"
	StateAnalysis     State = "sequential_analysis"
	StateCorrection   State = "self_correction"
	StateOutput       State = "strategic_output"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// transitions is the complete edge set. The empty state is a run that has
// not started; Completed and Failed have no outgoing edges.
var transitions = map[State][]State{
	"":                {StateVerification},
	StateVerification: {StateAnalysis, StateFailed},
	StateAnalysis:     {StateCorrection, StateFailed},
	StateCorrection:   {StateAnalysis, StateOutput, StateFailed},
	StateOutput:       {StateCompleted, StateFailed},
}

// Asker is the slice of the reasoning adapter the phases consume.
type Asker interface {
	Enabled() bool
	Ask(ctx context.Context, schema reasoning.Schema, prompt string) (reasoning.Payload, error)
}

// disabledAsker stands in when no reasoning provider is configured. The
// deterministic passes still run; everything needing inference surfaces as a
// coverage gap.
type disabledAsker struct{}

func (disabledAsker) Enabled() bool { return false }
func (disabledAsker) Ask(context.Context, reasoning.Schema, string) (reasoning.Payload, error) {
	return nil, reasoning.ErrNoProvider
}

// phaseAttempts bounds re-running a phase whose wall-clock budget expired.
const phaseAttempts = 2

// Orchestrator runs cases through the phase machine. Safe for concurrent use
// across cases; per-run state lives on the run, never on the orchestrator.
type Orchestrator struct {
	store store.Store
	ask   Asker
	conf  *confidence.Engine
	sim   *simulate.Simulator
	cfg   *model.Config
	log   *logging.Logger

	now func() time.Time
}

// New creates an orchestrator over the given store. A nil ask runs every
// reasoning-dependent sub-pass in degraded mode.
func New(st store.Store, ask Asker, log *logging.Logger, cfg *model.Config) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	if ask == nil {
		ask = disabledAsker{}
	}
	return &Orchestrator{
		store: st,
		ask:   ask,
		conf:  confidence.NewEngine(),
		sim:   simulate.New(log),
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// run is the mutable state of one case moving through the machine.
type run struct {
	c   model.Case
	led *ledger.Ledger

	state  State
	phases []model.PhaseRecord
	gaps   []model.CoverageGap

	jur        model.Jurisdiction
	docs       []model.Document     // documents that passed verification
	boundaries []model.DocumentType // expected types with no documents
	unverified []string             // discovery entries for failed documents

	findings []model.Finding // confirmed plus still-provisional
	audit    []model.Finding // retracted, with their final status reasons

	report *model.Report
}

func (r *run) advance(to State) error {
	for _, next := range transitions[r.state] {
		if next == to {
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("pipeline: illegal transition %q -> %q", r.state, to)
}

// fail is reachable from every phase state, so it skips the edge check.
func (r *run) fail() { r.state = StateFailed }

// Run executes all four phases for a registered case and persists the
// report. The returned report is the one saved to the store.
func (o *Orchestrator) Run(ctx context.Context, caseID model.CaseID) (*model.Report, error) {
	c, err := o.store.LoadCase(caseID)
	if err != nil {
		return nil, fmt.Errorf("load case %q: %w", caseID, err)
	}
	led, err := o.store.Ledger(caseID)
	if err != nil {
		return nil, fmt.Errorf("ledger for %q: %w", caseID, err)
	}

	r := &run{c: c, led: led}
	o.log.Info("run started", "case", string(c.ID),
		"documents", led.DocumentCount(), "facts", led.FactCount())

	if err := o.runPhase(ctx, r, model.PhaseConstitutionalVerification, func(context.Context) (model.PhaseStatus, string, error) {
		return o.verify(r)
	}); err != nil {
		return nil, err
	}

	engine := assets.NewEngine(o.ask, led, o.log, o.cfg.Pipeline.MaxConcurrentInference)
	reviewer := redteam.NewReviewer(o.ask, led, o.log, o.cfg.Pipeline.MaxRevisionRounds)

	queue, err := o.analyze(ctx, r, engine)
	if err != nil {
		return nil, err
	}
	if err := o.correct(ctx, r, engine, reviewer, queue); err != nil {
		return nil, err
	}

	if err := o.runPhase(ctx, r, model.PhaseStrategicOutput, func(pctx context.Context) (model.PhaseStatus, string, error) {
		return o.assemble(pctx, r)
	}); err != nil {
		return nil, err
	}

	// The report carries the full phase history, including the record of
	// the phase that assembled it.
	r.report.Phases = r.phases
	r.report.CoverageGaps = r.gaps

	if err := o.store.SaveReport(c.ID, *r.report); err != nil {
		r.fail()
		return nil, fmt.Errorf("save report for %q: %w", c.ID, err)
	}
	if err := r.advance(StateCompleted); err != nil {
		return nil, err
	}

	o.log.Info("run completed", "case", string(c.ID),
		"findings", len(r.report.Findings),
		"retracted", len(r.report.AuditTrail),
		"gaps", len(r.report.CoverageGaps),
		"overall", string(r.report.Dashboard.Overall))
	return r.report, nil
}

// AnalyzeBundle loads a case bundle from disk, registers it, and runs the
// full pipeline. This is the worker.Analyzer used by batch runs.
func (o *Orchestrator) AnalyzeBundle(ctx context.Context, path string) (*model.Report, error) {
	c, led, err := bundle.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", path, err)
	}
	if err := o.store.PutCase(c, led); err != nil {
		return nil, fmt.Errorf("register case %q: %w", c.ID, err)
	}
	return o.Run(ctx, c.ID)
}

// runPhase drives one state transition, applies the phase's wall-clock
// budget, and records every attempt. Budget exhaustion retries the phase
// once; a second exhaustion, any other failure, or caller cancellation fails
// the case with a diagnostic reason.
func (o *Orchestrator) runPhase(ctx context.Context, r *run, phase model.PhaseName, fn func(context.Context) (model.PhaseStatus, string, error)) error {
	if err := r.advance(State(phase)); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= phaseAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.PhaseTimeout)
		rec := model.PhaseRecord{Phase: phase, StartedAt: o.now()}
		status, detail, err := fn(pctx)
		rec.EndedAt = o.now()
		timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			rec.Status = status
			rec.Detail = detail
			r.phases = append(r.phases, rec)
			o.log.Info("phase complete", "case", string(r.c.ID),
				"phase", string(phase), "status", string(status), "detail", detail)
			return nil
		}

		rec.Status = model.PhaseFailed
		rec.Detail = err.Error()
		r.phases = append(r.phases, rec)
		lastErr = err

		if ctx.Err() != nil {
			r.fail()
			return fmt.Errorf("phase %s: %w", phase, ErrCancelled)
		}
		if timedOut && attempt < phaseAttempts {
			o.log.Warn("phase budget exhausted, retrying", "case", string(r.c.ID),
				"phase", string(phase), "attempt", attempt)
			continue
		}
		break
	}

	r.fail()
	return fmt.Errorf("phase %s: %w", phase, lastErr)
}

// analyze runs sequential analysis over the verified documents and returns
// the provisional queue for review.
func (o *Orchestrator) analyze(ctx context.Context, r *run, engine *assets.Engine) ([]model.Finding, error) {
	var queue []model.Finding
	err := o.runPhase(ctx, r, model.PhaseSequentialAnalysis, func(pctx context.Context) (model.PhaseStatus, string, error) {
		res, err := engine.Run(pctx, r.c, r.docs)
		if err != nil {
			return "", "", err
		}
		queue = res.Findings
		r.gaps = append(r.gaps, res.Gaps...)
		status := model.PhaseSuccess
		if len(res.Gaps) > 0 {
			status = model.PhasePartial
		}
		return status, fmt.Sprintf("%d provisional findings, %d gaps", len(res.Findings), len(res.Gaps)), nil
	})
	return queue, err
}

// correct runs the review loop. Each pass challenges the queue; demoted
// findings re-enter analysis with an incremented revision and face review
// again. The reviewer retracts findings that exhaust the revision budget,
// so the loop runs at most MaxRevisionRounds+1 passes.
func (o *Orchestrator) correct(ctx context.Context, r *run, engine *assets.Engine, reviewer *redteam.Reviewer, queue []model.Finding) error {
	for round := 0; ; round++ {
		var pass *redteam.Pass
		if err := o.runPhase(ctx, r, model.PhaseSelfCorrection, func(pctx context.Context) (model.PhaseStatus, string, error) {
			p, err := reviewer.Review(pctx, r.c, queue)
			if err != nil {
				return "", "", err
			}
			pass = p
			status := model.PhaseSuccess
			if len(p.Unresolved) > 0 || len(p.Gaps) > 0 {
				status = model.PhasePartial
			}
			return status, fmt.Sprintf("confirmed %d, demoted %d, retracted %d, unresolved %d",
				len(p.Confirmed), len(p.Demoted), len(p.Retracted), len(p.Unresolved)), nil
		}); err != nil {
			return err
		}

		r.findings = append(r.findings, pass.Confirmed...)
		r.findings = append(r.findings, pass.Unresolved...)
		r.audit = append(r.audit, pass.Retracted...)
		r.gaps = append(r.gaps, pass.Gaps...)

		if len(pass.Demoted) == 0 {
			return nil
		}
		if round >= o.cfg.Pipeline.MaxRevisionRounds {
			// The reviewer retracts at the revision budget itself; this
			// guard keeps the loop bounded regardless.
			for _, f := range pass.Demoted {
				f.Status = model.StatusRetracted
				f.StatusReason = redteam.ErrRevisionExhausted.Error()
				r.audit = append(r.audit, f)
			}
			return nil
		}

		// Even an empty revision set loops back through review so the run
		// always leaves this loop from the correction state.
		revised, err := o.reanalyze(ctx, r, engine, pass.Demoted)
		if err != nil {
			return err
		}
		queue = revised
	}
}

// reanalyze re-enters sequential analysis for demoted findings. A finding
// whose revision call fails is retracted rather than left looping.
func (o *Orchestrator) reanalyze(ctx context.Context, r *run, engine *assets.Engine, demoted []model.Finding) ([]model.Finding, error) {
	var revised []model.Finding
	err := o.runPhase(ctx, r, model.PhaseSequentialAnalysis, func(pctx context.Context) (model.PhaseStatus, string, error) {
		status := model.PhaseSuccess
		for _, f := range demoted {
			again, err := engine.Reanalyze(pctx, r.c, r.docs, f, f.StatusReason)
			if err != nil {
				if ctxErr := pctx.Err(); ctxErr != nil {
					return "", "", ctxErr
				}
				status = model.PhasePartial
				f.Status = model.StatusRetracted
				f.StatusReason = "revision failed: " + err.Error()
				r.audit = append(r.audit, f)
				r.gaps = append(r.gaps, model.CoverageGap{
					Phase:  model.PhaseSequentialAnalysis,
					Area:   "finding_revision:" + string(f.ID),
					Reason: err.Error(),
				})
				continue
			}
			revised = append(revised, again)
		}
		return status, fmt.Sprintf("revised %d of %d demoted findings", len(revised), len(demoted)), nil
	})
	return revised, err
}
