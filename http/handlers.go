package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"asdmodel/inference"
)

const APIKeyHeader = "x-api-key"

// Predictor is the scoring operation behind /predict.
type Predictor interface {
	Authorize(apiKey string) error
	Predict(ctx context.Context, raw map[string]any, apiKey string) (inference.Result, error)
}

type predictRequest struct {
	Features map[string]any `json:"features"`
}

type handlers struct {
	predictor Predictor
	logger    *zap.Logger
}

func RegisterHandlers(mux *http.ServeMux, predictor Predictor, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{predictor: predictor, logger: logger}
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get(APIKeyHeader)
	if err := h.predictor.Authorize(apiKey); err != nil {
		respondDetail(w, h.logger, http.StatusUnauthorized, "Unauthorized")
		return
	}

	req, err := decodePredictRequest(r)
	if err != nil {
		respondDetail(w, h.logger, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := h.predictor.Predict(r.Context(), req.Features, apiKey)
	switch {
	case err == nil:
		respondJSON(w, h.logger, http.StatusOK, result)
	case errors.Is(err, inference.ErrUnauthorized):
		respondDetail(w, h.logger, http.StatusUnauthorized, "Unauthorized")
	default:
		h.logger.Warn("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		respondDetail(w, h.logger, http.StatusInternalServerError, "Prediction failed: "+cause(err).Error())
	}
}

func decodePredictRequest(r *http.Request) (*predictRequest, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var req predictRequest
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Features == nil {
		return nil, errors.New("field required: features")
	}
	return &req, nil
}

// cause strips the PredictionError wrapper so the detail reads
// "Prediction failed: <cause>".
func cause(err error) error {
	var pe *inference.PredictionError
	if errors.As(err, &pe) && pe.Cause != nil {
		return pe.Cause
	}
	return err
}

func respondDetail(w http.ResponseWriter, logger *zap.Logger, status int, detail string) {
	respondJSON(w, logger, status, map[string]string{"detail": detail})
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode JSON", zap.Error(err))
	}
}
