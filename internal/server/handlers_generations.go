package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jonathan/siteforge/internal/db"
	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/types"
)

type createGenerationRequest struct {
	AuditID    string                `json:"audit_id,omitempty" validate:"omitempty,uuid"`
	SiteID     string                `json:"site_id" validate:"required,max=63,hostname_rfc1123"`
	Profile    types.BusinessProfile `json:"profile"`
	Directives []types.DirectiveID   `json:"directives,omitempty" validate:"max=8"`
}

// handleCreateGeneration starts one attempt per requested directive. The
// referenced audit, when given, must have finished.
func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	if s.generations == nil {
		s.writeError(w, r, errGenerationDisabled)
		return
	}
	var req createGenerationRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	directives, err := s.directives.Resolve(req.Directives)
	if err != nil {
		s.writeError(w, r, &ErrValidation{Message: err.Error()})
		return
	}

	genReq := generation.Request{
		SiteID:     req.SiteID,
		Profile:    req.Profile,
		Directives: directives,
	}
	if req.AuditID != "" {
		auditID := uuid.MustParse(req.AuditID)
		job, err := s.audits.Get(r.Context(), auditID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				s.errorResponse(w, http.StatusNotFound, "audit not found")
				return
			}
			s.writeError(w, r, err)
			return
		}
		if !job.IsTerminal() {
			s.writeError(w, r, &ErrConflict{Message: "audit is still running"})
			return
		}
		genReq.Audit = job
	}

	result, err := s.generations.Start(r.Context(), genReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/generations/"+result.Job.ID.String())
	s.jsonResponse(w, http.StatusAccepted, result)
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	if s.generations == nil {
		s.writeError(w, r, errGenerationDisabled)
		return
	}
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := s.generations.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleDeploy publishes a ready attempt through the configured deployer.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if s.generations == nil {
		s.writeError(w, r, errGenerationDisabled)
		return
	}
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		s.writeError(w, r, &ErrValidation{Message: "version must be a positive integer"})
		return
	}

	attempt, err := s.generations.Deploy(r.Context(), id, version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, attempt)
}
