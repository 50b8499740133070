package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DocumentType identifies the kind of business document a page belongs to
type DocumentType string

const (
	DocumentTypeInvoice   DocumentType = "invoice"
	DocumentTypeTransport DocumentType = "transport"
	DocumentTypePacklist  DocumentType = "packlist"
)

// ParseDocumentType maps a classifier label to a DocumentType.
// Unknown labels fall back to invoice.
func ParseDocumentType(label string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(label))) {
	case DocumentTypeTransport:
		return DocumentTypeTransport
	case DocumentTypePacklist:
		return DocumentTypePacklist
	default:
		return DocumentTypeInvoice
	}
}

// ClassificationResult represents the classification of a single page
type ClassificationResult struct {
	PageNumber   int          `json:"page_number"`
	DocumentType DocumentType `json:"document_type"`
	Confidence   float64      `json:"confidence"`
}

// ExtractionResult represents the fields extracted from a group of pages
type ExtractionResult struct {
	DocumentType  DocumentType           `json:"document_type"`
	ExtractedData map[string]interface{} `json:"extracted_data"`
	Confidence    float64                `json:"confidence"`
}

// ProcessedDocument is the outcome of running a PDF through the pipeline
type ProcessedDocument struct {
	DocumentID     string                 `json:"document_id"`
	Classification []ClassificationResult `json:"classification"`
	Extraction     []ExtractionResult     `json:"extraction"`
	ProcessingTime float64                `json:"processing_time"`
}

// SGDDocumentResponse groups the processed documents of a despacho
type SGDDocumentResponse struct {
	Documents  []ProcessedDocument `json:"documents"`
	DespachoID string              `json:"despacho_id"`
}

// IndividualDocumentRequest carries a base64 encoded PDF
type IndividualDocumentRequest struct {
	DocumentBase64 string  `json:"document_base64" validate:"required"`
	Filename       *string `json:"filename,omitempty"`
}

// SGDDocument is a document as returned by the SGD system
type SGDDocument struct {
	ID      DocumentID `json:"id"`
	Content string     `json:"content"`
}

// DocumentID accepts both JSON strings and numbers
type DocumentID string

// UnmarshalJSON implements json.Unmarshaler
func (d *DocumentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = DocumentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("document id must be a string or number: %w", err)
	}
	*d = DocumentID(n.String())
	return nil
}

// Task status values
const (
	TaskStatusPending   = "pending"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// TaskStatus describes the state of an asynchronous job
type TaskStatus struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
