package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"kestrel/internal/model"
)

// verify is constitutional verification: resolve the governing law, check
// every document, and take the knowledge-boundary inventory. Deterministic;
// no reasoning calls happen in this phase.
func (o *Orchestrator) verify(r *run) (model.PhaseStatus, string, error) {
	jur, ok := model.LookupJurisdiction(r.c.Jurisdiction)
	if !ok {
		return "", "", fmt.Errorf("unknown jurisdiction %q", r.c.Jurisdiction)
	}
	r.jur = jur

	docs := r.led.Documents()
	if len(docs) == 0 {
		return "", "", errors.New("case has no documents")
	}

	for _, doc := range docs {
		problems := verifyDocument(r, doc)
		if len(problems) == 0 {
			r.docs = append(r.docs, doc)
			continue
		}
		reason := strings.Join(problems, "; ")
		r.gaps = append(r.gaps, model.CoverageGap{
			Phase:  model.PhaseConstitutionalVerification,
			Area:   "document_verification:" + doc.Name,
			Reason: reason,
		})
		r.unverified = append(r.unverified, fmt.Sprintf("Cure and re-submit %s: %s", doc.Name, reason))
	}
	if len(r.docs) == 0 {
		return "", "", errors.New("no documents passed verification")
	}

	present := make(map[model.DocumentType]bool)
	for _, doc := range r.docs {
		present[doc.Type] = true
	}
	for _, want := range o.cfg.Pipeline.ExpectedDocuments {
		if present[want] {
			continue
		}
		r.boundaries = append(r.boundaries, want)
		r.gaps = append(r.gaps, model.CoverageGap{
			Phase:  model.PhaseConstitutionalVerification,
			Area:   "knowledge_boundary:" + string(want),
			Reason: fmt.Sprintf("no %s documents were provided", want),
		})
	}

	status := model.PhaseSuccess
	if len(r.docs) < len(docs) {
		status = model.PhasePartial
	}
	detail := fmt.Sprintf("%d of %d documents verified, %s law (%s)",
		len(r.docs), len(docs), jur.Name, jur.Framework)
	return status, detail, nil
}

// verifyDocument returns everything wrong with one document: unknown type,
// no extracted content, or a recorded fact whose locator escapes the
// document. Incomplete documents stay out of analysis; their facts remain in
// the ledger for citation resolution.
func verifyDocument(r *run, doc model.Document) []string {
	var problems []string
	if !model.KnownDocumentType(doc.Type) {
		problems = append(problems, fmt.Sprintf("unknown document type %q", doc.Type))
	}
	if strings.TrimSpace(doc.Text) == "" && len(doc.Rows) == 0 {
		problems = append(problems, "no extracted content")
	}
	for f := range r.led.FactsFor(doc.ID) {
		if msg := locatorProblem(doc, f.Locator); msg != "" {
			problems = append(problems, fmt.Sprintf("fact %s: %s", f.ID, msg))
		}
	}
	return problems
}

// locatorProblem re-checks a fact locator against its document's bounds,
// returning an empty string when the locator holds.
func locatorProblem(doc model.Document, loc model.SourceLocator) string {
	if loc.IsRow() {
		if loc.Row >= len(doc.Rows) {
			return fmt.Sprintf("row %d outside %d tabular rows", loc.Row, len(doc.Rows))
		}
	} else {
		end := loc.Offset + max(loc.Length, 1)
		if loc.Offset < 0 || end > len(doc.Text) {
			return fmt.Sprintf("text span [%d, %d) outside %d bytes", loc.Offset, end, len(doc.Text))
		}
	}
	if doc.PageCount > 0 && loc.Page > doc.PageCount {
		return fmt.Sprintf("page %d beyond %d pages", loc.Page, doc.PageCount)
	}
	return ""
}
