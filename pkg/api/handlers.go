package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/auth"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/httperr"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/pdf"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/queue"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/sgd"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/tasks"
)

const (
	serviceName = "document-processing-api"

	detailOnlyPDF       = "Solo se permiten archivos PDF"
	detailProcessingErr = "Error procesando documento"
)

// TokenResponse is returned by the token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// EnqueuedResponse is returned when a job has been queued
type EnqueuedResponse struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id,omitempty"`
	DespachoID string `json:"despacho_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httperr.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	httperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.opts.Auth.CreateAccessToken(auth.DefaultSubject, 0)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create access token")
		httperr.Write(w, http.StatusInternalServerError, "could not create token")
		return
	}

	httperr.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.opts.Auth.TTL() / time.Second),
	})
}

// handleUpload processes a multipart PDF upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httperr.Write(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httperr.Write(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		httperr.Write(w, http.StatusBadRequest, detailOnlyPDF)
		return
	}

	document, err := io.ReadAll(file)
	if err != nil {
		httperr.Write(w, http.StatusBadRequest, fmt.Sprintf("could not read file: %v", err))
		return
	}

	s.process(w, r, document)
}

// handleBase64 processes a base64 encoded PDF sent as JSON
func (s *Server) handleBase64(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDocumentRequest(w, r)
	if !ok {
		return
	}

	document, err := pdf.Base64ToPDF(req.DocumentBase64)
	if err != nil {
		httperr.Write(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", detailProcessingErr, err))
		return
	}

	s.process(w, r, document)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, document []byte) {
	result, err := s.opts.Processor.Process(r.Context(), document, uuid.NewString())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pdf.ErrInvalidPDF) {
			status = http.StatusBadRequest
		}
		s.metrics.ProcessingErrors.WithLabelValues(routeName(r), "process").Inc()
		s.requestLogger(r).WithError(err).Error("Document processing failed")
		httperr.Write(w, status, fmt.Sprintf("%s: %v", detailProcessingErr, err))
		return
	}

	httperr.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) decodeDocumentRequest(w http.ResponseWriter, r *http.Request) (*models.IndividualDocumentRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	var req models.IndividualDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.Write(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return nil, false
	}
	if err := s.validate.Struct(req); err != nil {
		httperr.Write(w, http.StatusUnprocessableEntity, "field required: document_base64")
		return nil, false
	}
	return &req, true
}

// handleEnqueueDocument queues a base64 document for the worker
func (s *Server) handleEnqueueDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDocumentRequest(w, r)
	if !ok {
		return
	}

	if _, err := pdf.Base64ToPDF(req.DocumentBase64); err != nil {
		httperr.Write(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", detailProcessingErr, err))
		return
	}

	documentID := uuid.NewString()
	taskID, err := s.opts.Queue.Enqueue(r.Context(), tasks.ProcessIndividualDocument, queue.PriorityNormal,
		tasks.IndividualDocumentData(req.DocumentBase64, documentID), queue.DefaultMaxRetries)
	if err != nil {
		s.enqueueFailed(w, r, err)
		return
	}
	s.metrics.QueuedJobs.WithLabelValues(tasks.ProcessIndividualDocument).Inc()
	s.requestLogger(r).WithFields(logrus.Fields{
		"task_id":     taskID,
		"document_id": documentID,
	}).Info("Document queued")

	w.Header().Set("Location", "/tasks/"+taskID)
	httperr.WriteJSON(w, http.StatusAccepted, EnqueuedResponse{
		TaskID:     taskID,
		Status:     models.TaskStatusPending,
		DocumentID: documentID,
	})
}

// handleDespacho processes every document of a despacho
func (s *Server) handleDespacho(w http.ResponseWriter, r *http.Request) {
	despachoID := mux.Vars(r)["id"]
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	result, err := s.opts.Processor.ProcessDespacho(r.Context(), despachoID, refresh)
	if err != nil {
		s.metrics.ProcessingErrors.WithLabelValues(routeName(r), "despacho").Inc()
		s.requestLogger(r).WithError(err).WithField("despacho_id", despachoID).Error("Despacho processing failed")

		if errors.Is(err, sgd.ErrUnexpectedStatus) {
			httperr.Write(w, http.StatusBadGateway, fmt.Sprintf("Error obteniendo documentos SGD: %v", err))
			return
		}
		httperr.Write(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", detailProcessingErr, err))
		return
	}

	httperr.WriteJSON(w, http.StatusOK, result)
}

// handleEnqueueDespacho queues a despacho for the worker
func (s *Server) handleEnqueueDespacho(w http.ResponseWriter, r *http.Request) {
	despachoID := mux.Vars(r)["id"]
	data := tasks.SGDDocumentsData(despachoID)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		data["refresh"] = true
	}

	taskID, err := s.opts.Queue.Enqueue(r.Context(), tasks.ProcessSGDDocuments, queue.PriorityNormal, data, queue.DefaultMaxRetries)
	if err != nil {
		s.enqueueFailed(w, r, err)
		return
	}
	s.metrics.QueuedJobs.WithLabelValues(tasks.ProcessSGDDocuments).Inc()
	s.requestLogger(r).WithFields(logrus.Fields{
		"task_id":     taskID,
		"despacho_id": despachoID,
	}).Info("Despacho queued")

	w.Header().Set("Location", "/tasks/"+taskID)
	httperr.WriteJSON(w, http.StatusAccepted, EnqueuedResponse{
		TaskID:     taskID,
		Status:     models.TaskStatusPending,
		DespachoID: despachoID,
	})
}

// requestLogger tags entries with the authenticated subject of r
func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	entry := logrus.NewEntry(s.logger)
	if subject, ok := auth.SubjectFromContext(r.Context()); ok {
		entry = entry.WithField("subject", subject)
	}
	return entry
}

func (s *Server) enqueueFailed(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.ProcessingErrors.WithLabelValues(routeName(r), "enqueue").Inc()
	s.requestLogger(r).WithError(err).Error("Failed to enqueue job")
	httperr.Write(w, http.StatusServiceUnavailable, "could not enqueue job")
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	despachoID := mux.Vars(r)["id"]

	removed, err := s.opts.Cache.InvalidateDespacho(r.Context(), despachoID)
	if err != nil {
		s.requestLogger(r).WithError(err).WithField("despacho_id", despachoID).Error("Failed to invalidate cache")
		httperr.Write(w, http.StatusInternalServerError, "could not invalidate cache")
		return
	}

	s.requestLogger(r).WithFields(logrus.Fields{
		"despacho_id": despachoID,
		"removed":     removed,
	}).Info("Despacho cache invalidated")

	httperr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"despacho_id": despachoID,
		"removed":     removed,
		"message":     "Cache invalidado",
	})
}

func (s *Server) handleCacheTTL(w http.ResponseWriter, r *http.Request) {
	despachoID := mux.Vars(r)["id"]

	ttl, err := s.opts.Cache.TTL(r.Context(), despachoID)
	if err != nil {
		// Cache failures never fail a request
		s.requestLogger(r).WithError(err).WithField("despacho_id", despachoID).Warn("Failed to read cache ttl")
		ttl = 0
	}

	httperr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"despacho_id": despachoID,
		"ttl":         int(ttl / time.Second),
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]

	status, err := s.opts.Queue.GetResult(r.Context(), taskID)
	if errors.Is(err, queue.ErrResultNotFound) {
		httperr.WriteJSON(w, http.StatusOK, models.TaskStatus{TaskID: taskID, Status: models.TaskStatusPending})
		return
	}
	if err != nil {
		s.requestLogger(r).WithError(err).WithField("task_id", taskID).Error("Failed to read task status")
		httperr.Write(w, http.StatusInternalServerError, "could not read task status")
		return
	}

	httperr.WriteJSON(w, http.StatusOK, status)
}
