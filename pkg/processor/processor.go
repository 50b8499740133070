package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/pdf"
)

// Classifier detects the document type of a single page PDF
type Classifier interface {
	Classify(ctx context.Context, pdf []byte) (models.DocumentType, float64, error)
}

// Extractor pulls structured fields out of a PDF of a known type
type Extractor interface {
	Extract(ctx context.Context, pdf []byte, docType models.DocumentType) (map[string]interface{}, float64, error)
}

// DocumentSource lists the documents of a despacho
type DocumentSource interface {
	GetDespachoDocuments(ctx context.Context, despachoID string) ([]models.SGDDocument, error)
}

// Cache stores despacho documents and processing results
type Cache interface {
	GetDespachoDocuments(ctx context.Context, despachoID string) ([]models.SGDDocument, bool, error)
	SetDespachoDocuments(ctx context.Context, despachoID string, docs []models.SGDDocument, ttl time.Duration) error
	GetResult(ctx context.Context, despachoID, documentID string, out interface{}) (bool, error)
	SetResult(ctx context.Context, despachoID, documentID string, result interface{}, ttl time.Duration) error
}

// Options configures a DocumentProcessor
type Options struct {
	Classifier Classifier
	Extractor  Extractor
	// Source and Cache are only needed for ProcessDespacho
	Source DocumentSource
	Cache  Cache
	// ClassifyConcurrency bounds the pages classified at once
	ClassifyConcurrency int
	Metrics             *Metrics
}

// DocumentProcessor runs the split, classify, group, merge and extract pipeline
type DocumentProcessor struct {
	opts   Options
	logger *logrus.Logger
}

// New creates a DocumentProcessor
func New(opts Options, logger *logrus.Logger) (*DocumentProcessor, error) {
	if opts.Classifier == nil || opts.Extractor == nil {
		return nil, errors.New("classifier and extractor are required")
	}
	if opts.Metrics == nil {
		return nil, errors.New("metrics are required")
	}
	if opts.ClassifyConcurrency <= 0 {
		opts.ClassifyConcurrency = 1
	}
	return &DocumentProcessor{opts: opts, logger: logger}, nil
}

// Process runs a PDF through the whole pipeline
func (p *DocumentProcessor) Process(ctx context.Context, document []byte, documentID string) (*models.ProcessedDocument, error) {
	start := time.Now()
	logger := p.logger.WithField("document_id", documentID)

	pages, err := pdf.SeparatePages(document)
	if err != nil {
		p.opts.Metrics.DocumentsProcessed.WithLabelValues("invalid").Inc()
		return nil, errors.Wrapf(err, "document %s", documentID)
	}
	logger.WithField("pages", len(pages)).Info("Document split into pages")

	classifications, err := p.classifyPages(ctx, pages, logger)
	if err != nil {
		p.opts.Metrics.DocumentsProcessed.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(err, "document %s", documentID)
	}

	groups := GroupConsecutivePages(pages, classifications)
	extractions := make([]models.ExtractionResult, 0, len(groups))
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			p.opts.Metrics.DocumentsProcessed.WithLabelValues("error").Inc()
			return nil, errors.Wrapf(err, "document %s", documentID)
		}
		extractions = append(extractions, p.extractGroup(ctx, group, logger.WithField("group", i+1)))
	}

	elapsed := time.Since(start)
	p.opts.Metrics.DocumentsProcessed.WithLabelValues("success").Inc()
	p.opts.Metrics.ProcessingTime.Observe(elapsed.Seconds())

	logger.WithFields(logrus.Fields{
		"groups":   len(groups),
		"duration": elapsed.String(),
	}).Info("Document processed")

	return &models.ProcessedDocument{
		DocumentID:     documentID,
		Classification: classifications,
		Extraction:     extractions,
		ProcessingTime: elapsed.Seconds(),
	}, nil
}

// classifyPages classifies every page concurrently. Results keep page order
// and a failed classification falls back to invoice.
func (p *DocumentProcessor) classifyPages(ctx context.Context, pages [][]byte, logger *logrus.Entry) ([]models.ClassificationResult, error) {
	results := make([]models.ClassificationResult, len(pages))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ClassifyConcurrency)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			docType, confidence, err := p.opts.Classifier.Classify(gCtx, page)
			if err != nil {
				if ctxErr := gCtx.Err(); ctxErr != nil {
					return errors.Wrapf(ctxErr, "page %d", i+1)
				}
				logger.WithError(err).WithField("page", i+1).Warn("Classification failed, defaulting to invoice")
				docType, confidence = models.DocumentTypeInvoice, 0
			}

			results[i] = models.ClassificationResult{
				PageNumber:   i + 1,
				DocumentType: docType,
				Confidence:   confidence,
			}
			p.opts.Metrics.PagesClassified.WithLabelValues(string(docType)).Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// extractGroup merges a page group and extracts its fields. Failures yield
// an empty extraction.
func (p *DocumentProcessor) extractGroup(ctx context.Context, group PageGroup, logger *logrus.Entry) models.ExtractionResult {
	result := models.ExtractionResult{
		DocumentType:  group.DocumentType,
		ExtractedData: map[string]interface{}{},
	}
	logger = logger.WithFields(logrus.Fields{
		"document_type": group.DocumentType,
		"pages":         len(group.Pages),
	})

	merged, err := pdf.MergePages(group.Pages)
	if err != nil {
		logger.WithError(err).Warn("Failed to merge page group")
		p.opts.Metrics.Extractions.WithLabelValues(string(group.DocumentType), "error").Inc()
		return result
	}

	data, confidence, err := p.opts.Extractor.Extract(ctx, merged, group.DocumentType)
	if err != nil {
		logger.WithError(err).Warn("Extraction failed, returning empty data")
		p.opts.Metrics.Extractions.WithLabelValues(string(group.DocumentType), "error").Inc()
		return result
	}

	if data != nil {
		result.ExtractedData = data
	}
	result.Confidence = confidence
	p.opts.Metrics.Extractions.WithLabelValues(string(group.DocumentType), "success").Inc()
	return result
}
