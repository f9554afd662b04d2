// Package bundle loads pre-ingested case bundles. A bundle is one YAML file
// carrying the case record and its documents with already-extracted text,
// rows, and facts; nothing here parses original files. Facts land in a fresh
// ledger in file order, so the bundle fully determines the evidence the
// pipeline sees.
package bundle

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"kestrel/internal/ledger"
	"kestrel/internal/model"
)

const dateLayout = "2006-01-02"

type caseSection struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Jurisdiction   string `yaml:"jurisdiction"`
	MarriageDate   string `yaml:"marriage_date"`
	SeparationDate string `yaml:"separation_date"`
}

type rowEntry struct {
	Date        string  `yaml:"date"`
	Description string  `yaml:"description"`
	Amount      float64 `yaml:"amount"`
}

// factEntry references its position through either row or offset; pointers
// distinguish "offset: 0" from the field being absent.
type factEntry struct {
	Key         string `yaml:"key"`
	Content     string `yaml:"content"`
	Page        int    `yaml:"page"`
	Offset      *int   `yaml:"offset"`
	Length      int    `yaml:"length"`
	Row         *int   `yaml:"row"`
	DerivedFrom string `yaml:"derived_from"`
	Corrects    string `yaml:"corrects"`
}

type docEntry struct {
	Name  string      `yaml:"name"`
	Type  string      `yaml:"type"`
	Party string      `yaml:"party"`
	Pages int         `yaml:"pages"`
	Text  string      `yaml:"text"`
	Rows  []rowEntry  `yaml:"rows"`
	Facts []factEntry `yaml:"facts"`
}

type caseFile struct {
	Case      caseSection `yaml:"case"`
	Documents []docEntry  `yaml:"documents"`
}

// Load reads and parses one bundle file.
func Load(path string) (model.Case, *ledger.Ledger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Case{}, nil, fmt.Errorf("read bundle: %w", err)
	}
	return Parse(raw)
}

// Parse builds the case and its populated ledger from bundle YAML.
func Parse(raw []byte) (model.Case, *ledger.Ledger, error) {
	var f caseFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return model.Case{}, nil, fmt.Errorf("parse bundle: %w", err)
	}

	c, err := buildCase(f.Case)
	if err != nil {
		return model.Case{}, nil, err
	}

	led := ledger.New()
	// Keys resolve across documents, so a deposition can correct a fact
	// from an earlier bank statement. References look backward only.
	keys := make(map[string]model.FactID)

	for i, d := range f.Documents {
		if err := loadDocument(led, c.ID, d, keys); err != nil {
			return model.Case{}, nil, fmt.Errorf("document %d (%s): %w", i, d.Name, err)
		}
	}
	return c, led, nil
}

func buildCase(s caseSection) (model.Case, error) {
	if s.Name == "" {
		return model.Case{}, fmt.Errorf("bundle: case name is required")
	}
	if s.Jurisdiction == "" {
		return model.Case{}, fmt.Errorf("bundle: case jurisdiction is required")
	}

	c := model.Case{
		ID:           model.CaseID(s.ID),
		Name:         s.Name,
		Jurisdiction: s.Jurisdiction,
		CreatedAt:    time.Now(),
	}
	if c.ID == "" {
		c.ID = model.CaseID("case-" + uuid.NewString())
	}

	var err error
	if c.MarriageDate, err = parseDate(s.MarriageDate); err != nil {
		return model.Case{}, fmt.Errorf("bundle: marriage_date: %w", err)
	}
	if c.SeparationDate, err = parseDate(s.SeparationDate); err != nil {
		return model.Case{}, fmt.Errorf("bundle: separation_date: %w", err)
	}
	return c, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%q is not a %s date", s, dateLayout)
	}
	return &t, nil
}

func loadDocument(led *ledger.Ledger, caseID model.CaseID, d docEntry, keys map[string]model.FactID) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	docType := model.DocumentType(d.Type)
	if !model.KnownDocumentType(docType) {
		return fmt.Errorf("unknown document type %q", d.Type)
	}

	rows := make([]model.TabularRow, len(d.Rows))
	for i, r := range d.Rows {
		rows[i] = model.TabularRow{Index: i, Date: r.Date, Description: r.Description, Amount: r.Amount}
	}

	docID, err := led.AddDocument(model.Document{
		CaseID:    caseID,
		Type:      docType,
		Name:      d.Name,
		Text:      d.Text,
		Rows:      rows,
		PageCount: d.Pages,
		Party:     d.Party,
	})
	if err != nil {
		return err
	}

	for j, fe := range d.Facts {
		id, err := loadFact(led, docID, fe, keys)
		if err != nil {
			return fmt.Errorf("fact %d: %w", j, err)
		}
		if fe.Key != "" {
			if _, dup := keys[fe.Key]; dup {
				return fmt.Errorf("fact %d: duplicate key %q", j, fe.Key)
			}
			keys[fe.Key] = id
		}
	}
	return nil
}

func loadFact(led *ledger.Ledger, docID model.DocumentID, fe factEntry, keys map[string]model.FactID) (model.FactID, error) {
	loc := model.SourceLocator{DocumentID: docID, Page: fe.Page, Offset: -1, Row: -1}
	switch {
	case fe.Row != nil && fe.Offset != nil:
		return "", fmt.Errorf("row and offset are mutually exclusive")
	case fe.Row != nil:
		loc.Row = *fe.Row
	case fe.Offset != nil:
		loc.Offset = *fe.Offset
		loc.Length = fe.Length
	default:
		return "", fmt.Errorf("a row or an offset is required")
	}

	if fe.DerivedFrom != "" && fe.Corrects != "" {
		return "", fmt.Errorf("derived_from and corrects are mutually exclusive")
	}

	switch {
	case fe.DerivedFrom != "":
		parent, ok := keys[fe.DerivedFrom]
		if !ok {
			return "", fmt.Errorf("derived_from references unknown key %q", fe.DerivedFrom)
		}
		return led.AddDerived(docID, fe.Content, loc, parent)
	case fe.Corrects != "":
		target, ok := keys[fe.Corrects]
		if !ok {
			return "", fmt.Errorf("corrects references unknown key %q", fe.Corrects)
		}
		return led.AddCorrection(docID, fe.Content, loc, target)
	default:
		return led.AddFact(docID, fe.Content, loc)
	}
}
