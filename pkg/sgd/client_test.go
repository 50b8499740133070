package sgd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/documentos64/despacho/D-42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient(srv.URL+"/", "secret", time.Second, logger)
}

func TestGetDespachoDocuments(t *testing.T) {
	srv := newServer(t, http.StatusOK, `[{"id": 7, "content": "JVBERi0="}, {"id": "abc", "content": ""}]`)
	client := newTestClient(srv)

	docs, err := client.GetDespachoDocuments(context.Background(), "D-42")
	require.NoError(t, err)
	assert.Equal(t, []models.SGDDocument{
		{ID: "7", Content: "JVBERi0="},
		{ID: "abc", Content: ""},
	}, docs)
}

func TestGetDespachoDocuments_NonListBody(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"message": "no documents"}`)
	client := newTestClient(srv)

	docs, err := client.GetDespachoDocuments(context.Background(), "D-42")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NotNil(t, docs)
}

func TestGetDespachoDocuments_ErrorStatus(t *testing.T) {
	srv := newServer(t, http.StatusBadGateway, `oops`)
	client := newTestClient(srv)

	_, err := client.GetDespachoDocuments(context.Background(), "D-42")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestGetDespachoDocuments_Unauthorized(t *testing.T) {
	srv := newServer(t, http.StatusOK, `[]`)
	logger, _ := test.NewNullLogger()
	client := NewClient(srv.URL, "wrong", time.Second, logger)

	_, err := client.GetDespachoDocuments(context.Background(), "D-42")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestGetDespachoDocuments_InvalidJSON(t *testing.T) {
	srv := newServer(t, http.StatusOK, `not json`)
	client := newTestClient(srv)

	_, err := client.GetDespachoDocuments(context.Background(), "D-42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnexpectedStatus)
}

func TestDecodeDocument(t *testing.T) {
	data, err := DecodeDocument("JVBERi0=")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-"), data)

	_, err = DecodeDocument("!!!")
	assert.Error(t, err)
}
