package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/pdf"
)

// scriptedClassifier answers with a fixed type per call order
type scriptedClassifier struct {
	types []models.DocumentType
	fail  map[int]bool
	calls int32
	delay time.Duration
}

func (c *scriptedClassifier) Classify(ctx context.Context, page []byte) (models.DocumentType, float64, error) {
	n, err := pdf.PageCount(page)
	if err != nil || n != 1 {
		return "", 0, errors.New("expected a single page")
	}
	// Pages are identical, so the call index decides the answer
	i := int(atomic.AddInt32(&c.calls, 1)) - 1
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.fail[i] {
		return "", 0, errors.New("classifier unavailable")
	}
	return c.types[i], 0.9, nil
}

type recordingExtractor struct {
	mu    sync.Mutex
	calls []extractCall
	err   error
}

type extractCall struct {
	docType models.DocumentType
	pages   int
}

func (e *recordingExtractor) Extract(ctx context.Context, document []byte, docType models.DocumentType) (map[string]interface{}, float64, error) {
	n, err := pdf.PageCount(document)
	if err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	e.calls = append(e.calls, extractCall{docType: docType, pages: n})
	e.mu.Unlock()

	if e.err != nil {
		return nil, 0, e.err
	}
	return map[string]interface{}{"pages": n, "type": string(docType)}, 0.8, nil
}

func newTestProcessor(t *testing.T, c Classifier, e Extractor, concurrency int) (*DocumentProcessor, *Metrics) {
	logger, _ := test.NewNullLogger()
	metrics := NewMetrics(prometheus.NewRegistry())
	p, err := New(Options{
		Classifier:          c,
		Extractor:           e,
		ClassifyConcurrency: concurrency,
		Metrics:             metrics,
	}, logger)
	require.NoError(t, err)
	return p, metrics
}

func TestNew_RequiresDependencies(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(Options{Metrics: NewMetrics(prometheus.NewRegistry())}, logger)
	assert.Error(t, err)

	_, err = New(Options{Classifier: &scriptedClassifier{}, Extractor: &recordingExtractor{}}, logger)
	assert.Error(t, err)
}

func TestProcess_GroupsConsecutivePages(t *testing.T) {
	classifier := &scriptedClassifier{types: []models.DocumentType{
		models.DocumentTypeInvoice,
		models.DocumentTypeInvoice,
		models.DocumentTypeTransport,
		models.DocumentTypeInvoice,
	}}
	extractor := &recordingExtractor{}
	p, metrics := newTestProcessor(t, classifier, extractor, 1)

	result, err := p.Process(context.Background(), pdf.SamplePDF(4), "doc-1")
	require.NoError(t, err)

	assert.Equal(t, "doc-1", result.DocumentID)
	require.Len(t, result.Classification, 4)
	for i, c := range result.Classification {
		assert.Equal(t, i+1, c.PageNumber)
		assert.Equal(t, classifier.types[i], c.DocumentType)
	}

	require.Len(t, result.Extraction, 3)
	assert.Equal(t, []extractCall{
		{models.DocumentTypeInvoice, 2},
		{models.DocumentTypeTransport, 1},
		{models.DocumentTypeInvoice, 1},
	}, extractor.calls)
	assert.Equal(t, 2, result.Extraction[0].ExtractedData["pages"])
	assert.InDelta(t, 0.8, result.Extraction[0].Confidence, 1e-9)
	assert.GreaterOrEqual(t, result.ProcessingTime, 0.0)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DocumentsProcessed.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.PagesClassified.WithLabelValues("invoice")))
}

func TestProcess_ConcurrentClassificationKeepsPageOrder(t *testing.T) {
	classifier := &scriptedClassifier{
		types: []models.DocumentType{
			models.DocumentTypeTransport, models.DocumentTypeTransport, models.DocumentTypeTransport,
			models.DocumentTypeTransport, models.DocumentTypeTransport, models.DocumentTypeTransport,
		},
		delay: 5 * time.Millisecond,
	}
	p, _ := newTestProcessor(t, classifier, &recordingExtractor{}, 3)

	result, err := p.Process(context.Background(), pdf.SamplePDF(6), "doc-2")
	require.NoError(t, err)

	require.Len(t, result.Classification, 6)
	for i, c := range result.Classification {
		assert.Equal(t, i+1, c.PageNumber)
	}
	require.Len(t, result.Extraction, 1)
	assert.Equal(t, 6, result.Extraction[0].ExtractedData["pages"])
}

func TestProcess_ClassificationFailureDefaultsToInvoice(t *testing.T) {
	classifier := &scriptedClassifier{
		types: []models.DocumentType{models.DocumentTypeTransport, models.DocumentTypeTransport},
		fail:  map[int]bool{1: true},
	}
	p, _ := newTestProcessor(t, classifier, &recordingExtractor{}, 1)

	result, err := p.Process(context.Background(), pdf.SamplePDF(2), "doc-3")
	require.NoError(t, err)

	assert.Equal(t, models.DocumentTypeTransport, result.Classification[0].DocumentType)
	assert.Equal(t, models.DocumentTypeInvoice, result.Classification[1].DocumentType)
	assert.Zero(t, result.Classification[1].Confidence)
	assert.Len(t, result.Extraction, 2)
}

func TestProcess_ExtractionFailureYieldsEmptyData(t *testing.T) {
	classifier := &scriptedClassifier{types: []models.DocumentType{models.DocumentTypePacklist}}
	p, metrics := newTestProcessor(t, classifier, &recordingExtractor{err: errors.New("model missing")}, 1)

	result, err := p.Process(context.Background(), pdf.SamplePDF(1), "doc-4")
	require.NoError(t, err)

	require.Len(t, result.Extraction, 1)
	assert.Equal(t, models.DocumentTypePacklist, result.Extraction[0].DocumentType)
	assert.NotNil(t, result.Extraction[0].ExtractedData)
	assert.Empty(t, result.Extraction[0].ExtractedData)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Extractions.WithLabelValues("packlist", "error")))
}

func TestProcess_InvalidPDF(t *testing.T) {
	p, metrics := newTestProcessor(t, &scriptedClassifier{}, &recordingExtractor{}, 1)

	_, err := p.Process(context.Background(), []byte("not a pdf"), "doc-5")
	assert.ErrorIs(t, err, pdf.ErrInvalidPDF)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DocumentsProcessed.WithLabelValues("invalid")))
}

func TestProcess_CancelledContext(t *testing.T) {
	classifier := &scriptedClassifier{types: []models.DocumentType{models.DocumentTypeInvoice}}
	p, _ := newTestProcessor(t, classifier, &recordingExtractor{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, pdf.SamplePDF(1), "doc-6")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupConsecutivePages(t *testing.T) {
	page := func(b byte) []byte { return []byte{b} }
	class := func(types ...models.DocumentType) []models.ClassificationResult {
		out := make([]models.ClassificationResult, len(types))
		for i, dt := range types {
			out[i] = models.ClassificationResult{PageNumber: i + 1, DocumentType: dt}
		}
		return out
	}

	assert.Nil(t, GroupConsecutivePages(nil, nil))

	groups := GroupConsecutivePages(
		[][]byte{page(1), page(2), page(3), page(4), page(5)},
		class(models.DocumentTypeTransport, models.DocumentTypeInvoice, models.DocumentTypeInvoice,
			models.DocumentTypeTransport, models.DocumentTypeTransport),
	)
	assert.Equal(t, []PageGroup{
		{DocumentType: models.DocumentTypeTransport, Pages: [][]byte{page(1)}},
		{DocumentType: models.DocumentTypeInvoice, Pages: [][]byte{page(2), page(3)}},
		{DocumentType: models.DocumentTypeTransport, Pages: [][]byte{page(4), page(5)}},
	}, groups)

	groups = GroupConsecutivePages([][]byte{page(1)}, class(models.DocumentTypePacklist))
	assert.Equal(t, []PageGroup{{DocumentType: models.DocumentTypePacklist, Pages: [][]byte{page(1)}}}, groups)
}
