package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks pipeline activity
type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	PagesClassified    *prometheus.CounterVec
	Extractions        *prometheus.CounterVec
	ProcessingTime     prometheus.Histogram
}

// NewMetrics creates the processor metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_documents_processed_total",
			Help: "Documents run through the pipeline by outcome",
		}, []string{"status"}),
		PagesClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_pages_classified_total",
			Help: "Pages classified by document type",
		}, []string{"document_type"}),
		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_extractions_total",
			Help: "Extractions by document type and outcome",
		}, []string{"document_type", "status"}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docproc_document_processing_seconds",
			Help:    "Time to process a single document",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
		}),
	}
}
