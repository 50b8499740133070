package docintel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

const testKey = "test-key"

// fakeService emulates the analyze + poll flow of Document Intelligence
type fakeService struct {
	server      *httptest.Server
	mu          sync.Mutex
	submitted   []string
	polls       int32
	runningFor  int32
	submitCode  int
	finalStatus string
	result      map[string]interface{}
}

func newFakeService(t *testing.T) *fakeService {
	fs := &fakeService{submitCode: http.StatusAccepted, finalStatus: "succeeded", runningFor: 1}
	fs.server = httptest.NewTLSServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(subscriptionKeyHeader) != testKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":analyze"):
		body, _ := io.ReadAll(r.Body)
		if r.URL.Query().Get("api-version") == "" || r.Header.Get("Content-Type") != "application/pdf" || len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.submitted = append(fs.submitted, r.URL.Path)
		fs.mu.Unlock()
		if fs.submitCode != http.StatusAccepted {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fs.submitCode)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidRequest","message":"bad document"}}`))
			return
		}
		w.Header().Set("Operation-Location", fs.server.URL+"/operations/1")
		w.WriteHeader(http.StatusAccepted)

	case r.Method == http.MethodGet && r.URL.Path == "/operations/1":
		n := atomic.AddInt32(&fs.polls, 1)
		status := fs.finalStatus
		if n <= atomic.LoadInt32(&fs.runningFor) {
			status = "running"
		}
		payload := map[string]interface{}{"status": status}
		if status == "succeeded" {
			payload["analyzeResult"] = fs.result
		}
		if status == "failed" {
			payload["error"] = map[string]string{"code": "ModelFailed", "message": "model crashed"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fs *fakeService) paths() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.submitted...)
}

func newTestClient(t *testing.T, fs *fakeService) *Client {
	logger, _ := test.NewNullLogger()
	client, err := NewClient(Options{
		Endpoint:   fs.server.URL + "/",
		Key:        testKey,
		APIVersion: "2023-07-31",
		Models: Models{
			Classifier: "doctype_01",
			Transport:  "transport_01",
			Invoice:    "inovice_01",
		},
		PollInterval:  5 * time.Millisecond,
		Timeout:       5 * time.Second,
		ClientOptions: &policy.ClientOptions{Transport: fs.server.Client()},
	}, logger)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresEndpointAndKey(t *testing.T) {
	logger, _ := test.NewNullLogger()

	_, err := NewClient(Options{Key: "k"}, logger)
	assert.Error(t, err)

	_, err = NewClient(Options{Endpoint: "https://example.com"}, logger)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	fs := newFakeService(t)
	fs.result = map[string]interface{}{
		"documents": []map[string]interface{}{
			{"docType": "transport", "confidence": 0.87},
		},
	}
	client := newTestClient(t, fs)

	docType, confidence, err := client.Classify(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypeTransport, docType)
	assert.InDelta(t, 0.87, confidence, 1e-9)
	assert.Equal(t, []string{"/formrecognizer/documentClassifiers/doctype_01:analyze"}, fs.paths())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fs.polls), int32(2))
}

func TestClassify_NoDocumentsDefaultsToInvoice(t *testing.T) {
	fs := newFakeService(t)
	fs.result = map[string]interface{}{"documents": []interface{}{}}
	client := newTestClient(t, fs)

	docType, confidence, err := client.Classify(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypeInvoice, docType)
	assert.Zero(t, confidence)
}

func TestClassify_SubmitRejected(t *testing.T) {
	fs := newFakeService(t)
	fs.submitCode = http.StatusBadRequest
	client := newTestClient(t, fs)

	docType, _, err := client.Classify(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Equal(t, models.DocumentTypeInvoice, docType)

	var respErr *azcore.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusBadRequest, respErr.StatusCode)
}

func TestExtract_FlattensFields(t *testing.T) {
	fs := newFakeService(t)
	fs.result = map[string]interface{}{
		"documents": []map[string]interface{}{
			{
				"docType":    "transport_01",
				"confidence": 0.91,
				"fields": map[string]interface{}{
					"Carrier":   map[string]interface{}{"type": "string", "valueString": "ACME", "content": "ACME"},
					"Weight":    map[string]interface{}{"type": "number", "valueNumber": 12.5},
					"Packages":  map[string]interface{}{"type": "integer", "valueInteger": 3},
					"Total":     map[string]interface{}{"type": "currency", "valueCurrency": map[string]interface{}{"amount": 99.9, "currencyCode": "USD"}},
					"Reference": map[string]interface{}{"type": "unknownType", "content": "REF-1"},
					"Empty":     map[string]interface{}{"type": "string"},
					"RawOnly":   map[string]interface{}{"type": "string", "content": "12 KG"},
					"Items": map[string]interface{}{
						"type": "array",
						"valueArray": []map[string]interface{}{
							{"type": "object", "valueObject": map[string]interface{}{
								"Code": map[string]interface{}{"type": "string", "valueString": "A1"},
							}},
						},
					},
				},
			},
		},
	}
	client := newTestClient(t, fs)

	data, confidence, err := client.Extract(context.Background(), []byte("%PDF-1.4"), models.DocumentTypeTransport)
	require.NoError(t, err)
	assert.InDelta(t, 0.91, confidence, 1e-9)
	assert.Equal(t, []string{"/formrecognizer/documentModels/transport_01:analyze"}, fs.paths())

	assert.Equal(t, "ACME", data["Carrier"])
	assert.Equal(t, 12.5, data["Weight"])
	assert.Equal(t, int64(3), data["Packages"])
	assert.Equal(t, currencyValue{Amount: 99.9, CurrencyCode: "USD"}, data["Total"])
	assert.NotContains(t, data, "Reference")
	assert.NotContains(t, data, "Empty")
	assert.NotContains(t, data, "RawOnly")
	assert.Equal(t, []interface{}{map[string]interface{}{"Code": "A1"}}, data["Items"])
}

func TestModelFor(t *testing.T) {
	fs := newFakeService(t)
	client := newTestClient(t, fs)

	assert.Equal(t, "transport_01", client.ModelFor(models.DocumentTypeTransport))
	assert.Equal(t, "inovice_01", client.ModelFor(models.DocumentTypeInvoice))
	assert.Equal(t, "inovice_01", client.ModelFor(models.DocumentTypePacklist))
}

func TestExtract_FailedOperation(t *testing.T) {
	fs := newFakeService(t)
	fs.finalStatus = "failed"
	client := newTestClient(t, fs)

	_, _, err := client.Extract(context.Background(), []byte("%PDF-1.4"), models.DocumentTypeInvoice)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnalyzeFailed)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestExtract_ContextCancelledWhilePolling(t *testing.T) {
	fs := newFakeService(t)
	fs.runningFor = 1 << 30
	client := newTestClient(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := client.Extract(ctx, []byte("%PDF-1.4"), models.DocumentTypeInvoice)
	assert.Error(t, err)
}
