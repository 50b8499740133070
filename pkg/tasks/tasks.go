package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/pdf"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/queue"
)

// Job types handled by the document worker
const (
	ProcessIndividualDocument = "process_individual_document"
	ProcessSGDDocuments       = "process_sgd_documents"
)

// ErrUnknownJobType is returned for jobs this worker cannot handle
var ErrUnknownJobType = errors.New("unknown job type")

// ErrInvalidPayload is returned when a job is missing a required field
var ErrInvalidPayload = errors.New("invalid job payload")

// Processor is the part of the document pipeline the tasks need
type Processor interface {
	Process(ctx context.Context, document []byte, documentID string) (*models.ProcessedDocument, error)
	ProcessDespacho(ctx context.Context, despachoID string, refresh bool) (*models.SGDDocumentResponse, error)
}

// Runner executes queued jobs
type Runner struct {
	processor Processor
	logger    *logrus.Logger
}

// NewRunner creates a new Runner
func NewRunner(processor Processor, logger *logrus.Logger) *Runner {
	return &Runner{processor: processor, logger: logger}
}

// IndividualDocumentData builds the payload of a process_individual_document job
func IndividualDocumentData(base64Content, documentID string) map[string]interface{} {
	return map[string]interface{}{
		"base64_content": base64Content,
		"document_id":    documentID,
	}
}

// SGDDocumentsData builds the payload of a process_sgd_documents job
func SGDDocumentsData(despachoID string) map[string]interface{} {
	return map[string]interface{}{"despacho_id": despachoID}
}

// ProcessJob implements queue.JobProcessor
func (r *Runner) ProcessJob(ctx context.Context, job *queue.Job) (interface{}, error) {
	switch job.Type {
	case ProcessIndividualDocument:
		return r.processIndividualDocument(ctx, job)
	case ProcessSGDDocuments:
		return r.processSGDDocuments(ctx, job)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
}

func (r *Runner) processIndividualDocument(ctx context.Context, job *queue.Job) (interface{}, error) {
	content, ok := job.StringData("base64_content")
	if !ok || content == "" {
		return nil, fmt.Errorf("%w: base64_content is required", ErrInvalidPayload)
	}
	documentID, _ := job.StringData("document_id")
	if documentID == "" {
		documentID = job.ID
	}

	document, err := pdf.Base64ToPDF(content)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"document_id": documentID,
	}).Info("Processing individual document")

	return r.processor.Process(ctx, document, documentID)
}

func (r *Runner) processSGDDocuments(ctx context.Context, job *queue.Job) (interface{}, error) {
	despachoID, ok := job.StringData("despacho_id")
	if !ok || despachoID == "" {
		return nil, fmt.Errorf("%w: despacho_id is required", ErrInvalidPayload)
	}

	refresh, _ := job.Data["refresh"].(bool)

	r.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"despacho_id": despachoID,
	}).Info("Processing SGD documents")

	return r.processor.ProcessDespacho(ctx, despachoID, refresh)
}
