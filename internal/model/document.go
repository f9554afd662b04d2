package model

import "time"

// DocumentID identifies an ingested document.
type DocumentID string

// DocumentType classifies the source material. The pipeline never parses
// raw files; extraction happens upstream and the type arrives with the text.
type DocumentType string

const (
	DocBankStatement      DocumentType = "bank_statement"
	DocTaxReturn          DocumentType = "tax_return"
	DocPropertyRecord     DocumentType = "property_record"
	DocBusinessRecord     DocumentType = "business_record"
	DocBrokerageStatement DocumentType = "brokerage_statement"
	DocCryptoExchange     DocumentType = "crypto_exchange"
	DocLoanStatement      DocumentType = "loan_statement"
	DocOther              DocumentType = "other"
)

// KnownDocumentType reports whether t is one of the recognized types.
func KnownDocumentType(t DocumentType) bool {
	switch t {
	case DocBankStatement, DocTaxReturn, DocPropertyRecord, DocBusinessRecord,
		DocBrokerageStatement, DocCryptoExchange, DocLoanStatement, DocOther:
		return true
	}
	return false
}

// Document is an externally ingested piece of evidence. Immutable once
// ingested; corrections happen as new facts, never as edits.
type Document struct {
	ID         DocumentID   `json:"id"`
	CaseID     CaseID       `json:"case_id"`
	Type       DocumentType `json:"type"`
	Name       string       `json:"name"`            // original filename or label
	Text       string       `json:"text"`            // extracted text content
	Rows       []TabularRow `json:"rows,omitempty"`  // extracted tabular content
	PageCount  int          `json:"page_count"`      // 0 when not paginated
	Party      string       `json:"party,omitempty"` // which spouse the document concerns, when known
	IngestedAt time.Time    `json:"ingested_at"`
}

// TabularRow is one row of extracted tabular content, transaction-shaped
// because that is what financial statements yield.
type TabularRow struct {
	Index       int     `json:"index"`
	Date        string  `json:"date,omitempty"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
}
