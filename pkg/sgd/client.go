package sgd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/pdf"
)

// ErrUnexpectedStatus is returned when SGD answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected status from SGD")

// Client fetches despacho documents from the SGD system
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	logger      *logrus.Logger
}

// NewClient creates a new SGD client
func NewClient(baseURL, bearerToken string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// GetDespachoDocuments returns the documents attached to a despacho
func (c *Client) GetDespachoDocuments(ctx context.Context, despachoID string) ([]models.SGDDocument, error) {
	endpoint := fmt.Sprintf("%s/documentos64/despacho/%s", c.baseURL, url.PathEscape(despachoID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch despacho %s: %w", despachoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d for despacho %s", ErrUnexpectedStatus, resp.StatusCode, despachoID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read SGD response: %w", err)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode SGD response: %w", err)
	}

	// Anything other than a list carries no documents
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		c.logger.WithField("despacho_id", despachoID).Warn("SGD response is not a list, assuming no documents")
		return []models.SGDDocument{}, nil
	}

	var docs []models.SGDDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode SGD documents: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"despacho_id": despachoID,
		"documents":   len(docs),
	}).Info("Fetched despacho documents from SGD")

	return docs, nil
}

// DecodeDocument decodes the base64 content of an SGD document
func DecodeDocument(content string) ([]byte, error) {
	return pdf.Base64ToPDF(content)
}
