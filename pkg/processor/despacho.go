package processor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/sgd"
)

// ErrNoSource is returned by ProcessDespacho when no SGD source is configured
var ErrNoSource = errors.New("no SGD source configured")

// ProcessDespacho fetches the documents of a despacho from SGD and processes
// each of them. Cached results and documents are reused unless refresh is set.
func (p *DocumentProcessor) ProcessDespacho(ctx context.Context, despachoID string, refresh bool) (*models.SGDDocumentResponse, error) {
	if p.opts.Source == nil {
		return nil, ErrNoSource
	}
	logger := p.logger.WithFields(logrus.Fields{
		"despacho_id": despachoID,
		"refresh":     refresh,
	})

	if !refresh && p.opts.Cache != nil {
		var cached models.SGDDocumentResponse
		found, err := p.opts.Cache.GetResult(ctx, despachoID, "", &cached)
		if err != nil {
			logger.WithError(err).Warn("Failed to read cached result")
		}
		if found {
			logger.Info("Returning cached despacho result")
			return &cached, nil
		}
	}

	docs, err := p.despachoDocuments(ctx, despachoID, refresh, logger)
	if err != nil {
		return nil, err
	}

	response := &models.SGDDocumentResponse{
		DespachoID: despachoID,
		Documents:  make([]models.ProcessedDocument, 0, len(docs)),
	}

	for _, doc := range docs {
		docLogger := logger.WithField("document_id", string(doc.ID))
		if doc.ID == "" || doc.Content == "" {
			docLogger.Warn("Skipping SGD document without id or content")
			continue
		}

		content, err := sgd.DecodeDocument(doc.Content)
		if err != nil || len(content) == 0 {
			docLogger.WithError(err).Warn("Skipping SGD document that could not be decoded")
			continue
		}

		processed, err := p.Process(ctx, content, string(doc.ID))
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrapf(ctx.Err(), "despacho %s", despachoID)
			}
			docLogger.WithError(err).Warn("Skipping SGD document that could not be processed")
			continue
		}
		response.Documents = append(response.Documents, *processed)

		if p.opts.Cache != nil {
			if err := p.opts.Cache.SetResult(ctx, despachoID, string(doc.ID), processed, 0); err != nil {
				docLogger.WithError(err).Warn("Failed to cache document result")
			}
		}
	}

	// An empty result is not cached so the next request tries again
	if p.opts.Cache != nil && len(response.Documents) > 0 {
		if err := p.opts.Cache.SetResult(ctx, despachoID, "", response, 0); err != nil {
			logger.WithError(err).Warn("Failed to cache despacho result")
		}
	}

	logger.WithField("documents", len(response.Documents)).Info("Despacho processed")
	return response, nil
}

// despachoDocuments returns the documents of a despacho from the cache, or
// from SGD when they are not cached
func (p *DocumentProcessor) despachoDocuments(ctx context.Context, despachoID string, refresh bool, logger *logrus.Entry) ([]models.SGDDocument, error) {
	if !refresh && p.opts.Cache != nil {
		docs, found, err := p.opts.Cache.GetDespachoDocuments(ctx, despachoID)
		if err != nil {
			logger.WithError(err).Warn("Failed to read cached documents")
		}
		if found {
			return docs, nil
		}
	}

	docs, err := p.opts.Source.GetDespachoDocuments(ctx, despachoID)
	if err != nil {
		return nil, errors.Wrapf(err, "despacho %s", despachoID)
	}

	if p.opts.Cache != nil {
		if err := p.opts.Cache.SetDespachoDocuments(ctx, despachoID, docs, 0); err != nil {
			logger.WithError(err).Warn("Failed to cache despacho documents")
		}
	}
	return docs, nil
}
