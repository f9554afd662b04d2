package assets

import (
	"fmt"
	"strings"

	"kestrel/internal/model"
)

const (
	maxFactsPerPrompt = 120
	maxTextExcerpt    = 2000
)

// factLines renders ledger facts as "- id: content" lines, capped to keep
// prompts inside token budgets.
func factLines(facts []model.ExtractedFact) string {
	if len(facts) == 0 {
		return "(no extracted facts for this material)"
	}
	var b strings.Builder
	for i, f := range facts {
		if i >= maxFactsPerPrompt {
			fmt.Fprintf(&b, "... and %d more facts\n", len(facts)-maxFactsPerPrompt)
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.ID, f.Content)
	}
	return b.String()
}

func caseHeader(c model.Case) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s\nJurisdiction: %s\n", c.Name, c.Jurisdiction)
	if c.MarriageDate != nil {
		fmt.Fprintf(&b, "Marriage date: %s\n", c.MarriageDate.Format("2006-01-02"))
	}
	if c.SeparationDate != nil {
		fmt.Fprintf(&b, "Separation date: %s\n", c.SeparationDate.Format("2006-01-02"))
	}
	return b.String()
}

func documentBlock(doc model.Document, facts []model.ExtractedFact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document %s (%s): %s\n", doc.ID, doc.Type, doc.Name)
	if doc.Party != "" {
		fmt.Fprintf(&b, "Concerns party: %s\n", doc.Party)
	}
	b.WriteString("Extracted facts:\n")
	b.WriteString(factLines(facts))
	if doc.Text != "" {
		excerpt := doc.Text
		if len(excerpt) > maxTextExcerpt {
			excerpt = excerpt[:maxTextExcerpt] + "..."
		}
		fmt.Fprintf(&b, "Text excerpt:\n%s\n", excerpt)
	}
	return b.String()
}

func assetMapPrompt(c model.Case, docs []model.Document, factsByDoc map[model.DocumentID][]model.ExtractedFact) string {
	var b strings.Builder
	b.WriteString(`Map the asset universe visible in the material below: every account, property, business interest, brokerage or retirement holding, vehicle, digital asset, and liability the evidence shows. One entry per asset. Cite only the listed fact ids.
For real property, when the facts state a down payment, purchase price, current value, and community mortgage payments, copy those figures into the apportionment object and set separate_down_payment from what the facts say about the down payment's source.

`)
	b.WriteString(caseHeader(c))
	for _, doc := range docs {
		b.WriteString("\n")
		b.WriteString(documentBlock(doc, factsByDoc[doc.ID]))
	}
	return b.String()
}

func concealmentPrompt(c model.Case, assetFindings []model.Finding, facts []model.ExtractedFact) string {
	var b strings.Builder
	b.WriteString(`Examine the asset map and raw facts below for concealment patterns: offshore movement, business income or expense manipulation, digital-asset obfuscation, and structuring. Report a scheme only when specific listed facts show it; cite those fact ids. Do not assign severity.

`)
	b.WriteString(caseHeader(c))
	b.WriteString("\nAsset map:\n")
	if len(assetFindings) == 0 {
		b.WriteString("(no assets mapped)\n")
	}
	for _, f := range assetFindings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.AssetClass, f.Statement)
	}
	b.WriteString("\nFacts:\n")
	b.WriteString(factLines(facts))
	return b.String()
}

func behavioralPrompt(c model.Case, facts []model.ExtractedFact) string {
	var b strings.Builder
	b.WriteString(`Look for financial conduct patterns in the facts below: timing clusters, unexplained counterparties, income that disappears between documents, lifestyle spending inconsistent with reported income. Report a pattern only when specific listed facts show it; cite those fact ids.

`)
	b.WriteString(caseHeader(c))
	b.WriteString("\nFacts:\n")
	b.WriteString(factLines(facts))
	return b.String()
}

var methodInstructions = map[model.ValuationMethod]string{
	model.MethodMarketComparison: "Value the business below by market comparison: comparable sales, revenue or earnings multiples the facts support.",
	model.MethodIncomeApproach:   "Value the business below by the income approach: capitalize or discount the earnings stream the facts support.",
	model.MethodAssetApproach:    "Value the business below by the asset approach: assets minus liabilities at the values the facts support.",
}

func valuationPrompt(c model.Case, asset model.Finding, method model.ValuationMethod, facts []model.ExtractedFact) string {
	var b strings.Builder
	b.WriteString(methodInstructions[method])
	b.WriteString(`
Use only this methodology. Give point, low, and high figures the cited facts support; if the facts cannot support a figure under this methodology, set uncertain to true and say why in the statement.

`)
	b.WriteString(caseHeader(c))
	fmt.Fprintf(&b, "\nAsset under valuation:\n[%s] %s\n", asset.AssetClass, asset.Statement)
	b.WriteString("\nFacts:\n")
	b.WriteString(factLines(facts))
	return b.String()
}
