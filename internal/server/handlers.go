package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/guard"
	"github.com/gatherhome/catalog-intel/internal/model"
)

type batchRequest struct {
	Items []model.ProductRecord `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// recordErrorResponse carries the error taxonomy for rejected or failed
// records: admission rejections and staged pipeline failures share it.
type recordErrorResponse struct {
	Stage     model.Stage     `json:"stage"`
	ErrorType model.ErrorType `json:"error_type"`
	Message   string          `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		zap.L().Error("stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	result, err := s.svc.PredictOne(r.Context(), rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeprecatedPredict(w http.ResponseWriter, r *http.Request) {
	zap.L().Warn("deprecated route used",
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
	)
	w.Header().Set("Deprecation", "true")
	s.handlePredict(w, r)
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	result, err := s.svc.PredictBatch(r.Context(), req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	candidates, err := s.svc.EnrichOne(r.Context(), rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": rec.ProductID,
		"candidates": candidates,
	})
}

func (s *Server) handleEnrichBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	result, err := s.svc.EnrichBatch(r.Context(), req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError maps service errors onto the status surface: rate rejections to
// 429 with a Retry-After hint, size rejections to 413, staged pipeline
// failures to 422. Anything unclassified is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var admission *guard.AdmissionError
	if errors.As(err, &admission) {
		body := recordErrorResponse{
			Stage:     model.StageAdmission,
			ErrorType: admission.Type,
			Message:   admission.Message,
		}
		switch admission.Type {
		case model.ErrRateLimited:
			retryAfter := int(math.Ceil(s.svc.RetryAfterHint().Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, body)
		case model.ErrBatchLimitExceeded, model.ErrTextLimitExceeded:
			writeJSON(w, http.StatusRequestEntityTooLarge, body)
		default:
			writeJSON(w, http.StatusBadRequest, body)
		}
		return
	}

	if staged, ok := model.AsStaged(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, recordErrorResponse{
			Stage:     staged.Stage,
			ErrorType: staged.Type,
			Message:   staged.Message,
		})
		return
	}

	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (model.ProductRecord, bool) {
	var rec model.ProductRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return model.ProductRecord{}, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}
