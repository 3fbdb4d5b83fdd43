package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	log "github.com/Financial-Times/go-logger"
)

const maxRequestBodySize = 1 << 20

type httpHandler struct {
	controller controller
	secretKey  string
}

type classifyRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleClassify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, errorResponse{Message: "Request body is too large."})
			return
		}
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{Message: "Cannot read request body."})
		return
	}

	if h.secretKey != "" && !verifyToken(h.secretKey, body, r.Header.Get("Token")) {
		writeJSONResponse(w, http.StatusUnauthorized, errorResponse{Message: "Invalid or missing token."})
		return
	}

	var req classifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{Message: "Request body is not valid JSON."})
		return
	}

	result, err := h.controller.classify(r.Context(), req.Text)
	switch {
	case errors.Is(err, errEmptyText):
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	case err != nil:
		log.WithError(err).Errorf("Cannot classify message")
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse{Message: "Cannot classify message."})
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

func (h *httpHandler) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	buildHealthcheckJSONResponse(w, h.controller.buildHealthResult(r.Context()))
}

func (h *httpHandler) handleGoodToGo(w http.ResponseWriter, r *http.Request) {
	ok, msg := h.controller.goodToGo(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=US-ASCII")
	w.Header().Set("Cache-Control", "no-cache")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(msg)); err != nil {
			log.WithError(err).Error("Cannot write gtg response")
		}
		return
	}

	if _, err := w.Write([]byte("OK")); err != nil {
		log.WithError(err).Error("Cannot write gtg response")
	}
}

func buildHealthcheckJSONResponse(w http.ResponseWriter, healthResult fthealth.HealthResult) {
	writeJSONResponse(w, http.StatusOK, healthResult)
}

func writeJSONResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("Couldn't encode response body")
	}
}
