package serve

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Dicklesworthstone/accord/internal/constraint"
	"github.com/Dicklesworthstone/accord/internal/proposal"
	"github.com/Dicklesworthstone/accord/internal/scenario"
	"github.com/Dicklesworthstone/accord/internal/structuring"
)

// StructureRequest is the payload of POST /structure.
type StructureRequest struct {
	Participants []scenario.Participant `json:"participants"`
	Commitments  []string               `json:"commitments,omitempty"`
}

// ClassifyRequest is the payload of POST /classify.
type ClassifyRequest struct {
	Participant string              `json:"participant"`
	Constraints []constraint.RawTag `json:"constraints"`
	Proposal    proposal.Proposal   `json:"proposal"`
}

func (s *Server) registerAnalyzeRoutes(r chi.Router) {
	r.With(s.RequirePermission(PermAnalyze)).Post("/structure", s.handleStructure)
	r.With(s.RequirePermission(PermAnalyze)).Post("/classify", s.handleClassify)
}

func (s *Server) handleStructure(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	var req StructureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, reqID)
		return
	}
	if len(req.Participants) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "at least one participant is required", nil, reqID)
		return
	}

	res, dropped, err := s.runner.Structure(req.Participants, req.Commitments)
	if err != nil {
		if errors.Is(err, structuring.ErrInvariantViolation) {
			writeErrorResponse(w, http.StatusUnprocessableEntity, ErrCodeInvariant, err.Error(), map[string]interface{}{
				"structure": res,
			}, reqID)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to structure constraints", nil, reqID)
		return
	}
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"structure":   res,
		"quarantined": dropped,
	}, reqID)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	var req ClassifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, reqID)
		return
	}
	if req.Participant == "" || req.Proposal.Content == "" {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "participant and proposal.content are required", nil, reqID)
		return
	}

	view, resp, dropped := s.runner.Classify(req.Participant, req.Constraints, req.Proposal)
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"view":        view,
		"response":    resp,
		"quarantined": dropped,
	}, reqID)
}
