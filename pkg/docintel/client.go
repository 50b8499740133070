package docintel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

const (
	moduleName    = "docintel"
	moduleVersion = "v1.0.0"

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
)

// ErrAnalyzeFailed is returned when the service reports a failed analysis
var ErrAnalyzeFailed = errors.New("document analysis failed")

// Models names the Azure models used for each stage
type Models struct {
	Classifier string
	Transport  string
	Invoice    string
}

// Options configures a Client
type Options struct {
	Endpoint      string
	Key           string
	APIVersion    string
	Models        Models
	PollInterval  time.Duration
	Timeout       time.Duration
	ClientOptions *policy.ClientOptions
}

// Client talks to the Azure Document Intelligence REST API
type Client struct {
	endpoint     string
	apiVersion   string
	models       Models
	pollInterval time.Duration
	timeout      time.Duration
	pipeline     runtime.Pipeline
	logger       *logrus.Logger
}

// NewClient creates a new Document Intelligence client
func NewClient(opts Options, logger *logrus.Logger) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("azure endpoint is required")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("azure key is required")
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "2023-07-31"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	cred := azcore.NewKeyCredential(opts.Key)
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{runtime.NewKeyCredentialPolicy(cred, subscriptionKeyHeader, nil)},
	}, opts.ClientOptions)

	return &Client{
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		apiVersion:   opts.APIVersion,
		models:       opts.Models,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		pipeline:     pl,
		logger:       logger,
	}, nil
}

// Classify runs the document classifier on a PDF and returns the detected type.
// A result without documents is reported as an invoice.
func (c *Client) Classify(ctx context.Context, pdf []byte) (models.DocumentType, float64, error) {
	result, err := c.analyze(ctx, "documentClassifiers/"+url.PathEscape(c.models.Classifier), pdf)
	if err != nil {
		return models.DocumentTypeInvoice, 0, fmt.Errorf("classification with %s failed: %w", c.models.Classifier, err)
	}

	if len(result.Documents) == 0 {
		return models.DocumentTypeInvoice, 0, nil
	}

	doc := result.Documents[0]
	return models.ParseDocumentType(doc.DocType), doc.Confidence, nil
}

// ModelFor returns the extraction model used for a document type
func (c *Client) ModelFor(docType models.DocumentType) string {
	if docType == models.DocumentTypeTransport {
		return c.models.Transport
	}
	return c.models.Invoice
}

// Extract runs the extraction model matching docType and returns the fields
// that carry a value
func (c *Client) Extract(ctx context.Context, pdf []byte, docType models.DocumentType) (map[string]interface{}, float64, error) {
	model := c.ModelFor(docType)

	result, err := c.analyze(ctx, "documentModels/"+url.PathEscape(model), pdf)
	if err != nil {
		return nil, 0, fmt.Errorf("extraction with %s failed: %w", model, err)
	}

	data := make(map[string]interface{})
	if len(result.Documents) == 0 {
		return data, 0, nil
	}

	doc := result.Documents[0]
	for name, field := range doc.Fields {
		if v, ok := field.value(); ok {
			data[name] = v
		}
	}

	return data, doc.Confidence, nil
}

// analyze submits a document and waits for the long-running operation to finish
func (c *Client) analyze(ctx context.Context, path string, pdf []byte) (*analyzeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/formrecognizer/%s:analyze?api-version=%s", c.endpoint, path, url.QueryEscape(c.apiVersion))
	req, err := runtime.NewRequest(ctx, http.MethodPost, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := req.SetBody(streaming.NopCloser(bytes.NewReader(pdf)), "application/pdf"); err != nil {
		return nil, fmt.Errorf("failed to set request body: %w", err)
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit document: %w", err)
	}
	defer resp.Body.Close()

	if !runtime.HasStatusCode(resp, http.StatusAccepted) {
		return nil, runtime.NewResponseError(resp)
	}

	operationLocation := resp.Header.Get("Operation-Location")
	if operationLocation == "" {
		return nil, fmt.Errorf("response is missing the Operation-Location header")
	}

	c.logger.WithFields(logrus.Fields{
		"path":      path,
		"operation": operationLocation,
		"size":      len(pdf),
	}).Debug("Document submitted for analysis")

	return c.poll(ctx, operationLocation, retryAfter(resp, c.pollInterval))
}

func (c *Client) poll(ctx context.Context, operationLocation string, delay time.Duration) (*analyzeResult, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		op, next, err := c.getOperation(ctx, operationLocation)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return &analyzeResult{}, nil
			}
			return op.AnalyzeResult, nil
		case "failed", "canceled":
			if op.Error != nil {
				return nil, fmt.Errorf("%w: %s: %s", ErrAnalyzeFailed, op.Error.Code, op.Error.Message)
			}
			return nil, fmt.Errorf("%w: status %s", ErrAnalyzeFailed, op.Status)
		}

		delay = next
	}
}

func (c *Client) getOperation(ctx context.Context, operationLocation string) (*operation, time.Duration, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, operationLocation)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to poll operation: %w", err)
	}
	defer resp.Body.Close()

	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, 0, runtime.NewResponseError(resp)
	}

	var op operation
	if err := runtime.UnmarshalAsJSON(resp, &op); err != nil {
		return nil, 0, fmt.Errorf("failed to decode operation: %w", err)
	}

	return &op, retryAfter(resp, c.pollInterval), nil
}

func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
