package summary

import (
	"fmt"
	"strings"

	"kestrel/internal/model"
	"kestrel/internal/reasoning"
)

// densePayload is a proposed re-phrasing of the current densest level. The
// builder holds it to the ladder rules after decoding; nothing here is
// trusted beyond basic shape.
type densePayload struct {
	Text  string         `json:"text"`
	Facts []model.FactID `json:"facts"`
}

func (p *densePayload) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("empty text")
	}
	if len(p.Facts) == 0 {
		return fmt.Errorf("no citations")
	}
	return nil
}

func (p *densePayload) CitedFacts() []model.FactID { return p.Facts }

var denseSchema = reasoning.Schema{
	Name: "dense_summary",
	Shape: `{
  "text": "the same claims in fewer words",
  "facts": ["fact-id", "fact-id"]
}`,
	New: func() reasoning.Payload { return &densePayload{} },
}

func densePrompt(c model.Case, last model.SummaryLevel, union []model.FactID) string {
	ids := make([]string, len(union))
	for i, id := range union {
		ids[i] = string(id)
	}

	var b strings.Builder
	b.WriteString(`Rewrite the summary below in fewer characters. Keep every distinct claim; drop wording, not content. Your facts array must list exactly the fact ids given, no more, no fewer. If the summary cannot be shortened without losing a claim, return it unchanged.

`)
	fmt.Fprintf(&b, "Case: %s\nJurisdiction: %s\n", c.Name, c.Jurisdiction)
	fmt.Fprintf(&b, "\nSummary (%d characters):\n%s\n", len(last.Text), last.Text)
	fmt.Fprintf(&b, "\nFact ids cited:\n%s\n", strings.Join(ids, ", "))
	return b.String()
}
