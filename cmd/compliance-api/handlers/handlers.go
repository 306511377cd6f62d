// Package handlers provides HTTP handlers for the compliance engine API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/extract"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/pipeline"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

// Runner runs the full pipeline.
type Runner interface {
	Run(ctx context.Context, text string, selector extract.ClauseSelector, opts pipeline.Options) (*pipeline.Result, error)
	Analyze(ctx context.Context, req domain.Requirement, override string) pipeline.ClauseResult
}

// ComplianceHandler serves extraction, ranking, comparison, lookup and analysis.
type ComplianceHandler struct {
	logger     *observability.Logger
	extractor  pipeline.Extractor
	ranker     pipeline.Ranker
	comparator pipeline.Comparator
	store      storage.Store
	runner     Runner
}

// NewComplianceHandler creates a new compliance handler.
func NewComplianceHandler(logger *observability.Logger, extractor pipeline.Extractor, ranker pipeline.Ranker, comparator pipeline.Comparator, store storage.Store, runner Runner) *ComplianceHandler {
	return &ComplianceHandler{
		logger:     observability.OrNop(logger).WithComponent("api"),
		extractor:  extractor,
		ranker:     ranker,
		comparator: comparator,
		store:      store,
		runner:     runner,
	}
}

// DocumentRequestDTO carries a tender document.
type DocumentRequestDTO struct {
	Text      string            `json:"text"`
	Clauses   []string          `json:"clauses,omitempty"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// RequirementDTO describes one requirement in rank and compare requests.
type RequirementDTO struct {
	ClauseID       string   `json:"clause_id,omitempty"`
	MeterType      string   `json:"meter_type,omitempty"`
	Specifications []string `json:"specifications"`
}

// CompareRequestDTO asks for a compliance report against one model.
type CompareRequestDTO struct {
	ModelNumber    string   `json:"model_number"`
	Specifications []string `json:"specifications"`
}

// ExtractResponseDTO lists the extracted requirements.
type ExtractResponseDTO struct {
	Requirements []domain.Requirement `json:"requirements"`
	Failures     []pipeline.Failure   `json:"failures,omitempty"`
}

// RankResponseDTO lists the ranked matches.
type RankResponseDTO struct {
	Matches   []domain.RankedMatch `json:"matches"`
	Selected  string               `json:"selected_model,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
}

func (r RequirementDTO) toRequirement() (domain.Requirement, bool) {
	var specs []string
	for _, s := range r.Specifications {
		if s = strings.TrimSpace(s); s != "" {
			specs = append(specs, s)
		}
	}
	if len(specs) == 0 {
		return domain.Requirement{}, false
	}
	meterType := r.MeterType
	if meterType == "" {
		meterType = extract.DefaultMeterType
	}
	clauseID := r.ClauseID
	if clauseID == "" {
		clauseID = "api"
	}
	return domain.Requirement{ClauseID: clauseID, MeterType: meterType, Specifications: specs}, true
}

// Extract handles POST /extract.
func (h *ComplianceHandler) Extract(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var req DocumentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	requirements, failures, err := h.extractor.Extract(ctx, req.Text, extract.ClauseSelector{Clauses: req.Clauses})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ExtractResponseDTO{Requirements: requirements}
	if resp.Requirements == nil {
		resp.Requirements = []domain.Requirement{}
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, pipeline.Failure{ClauseID: f.ClauseID, Error: f.Err.Error()})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Rank handles POST /rank.
func (h *ComplianceHandler) Rank(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var dto RequirementDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req, ok := dto.toRequirement()
	if !ok {
		h.writeError(w, http.StatusBadRequest, "specifications are required", "")
		return
	}

	matches, err := h.ranker.Rank(ctx, req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := RankResponseDTO{Matches: matches, RequestID: chimiddleware.GetReqID(ctx)}
	if len(matches) > 0 {
		resp.Selected = matches[0].ModelNumber
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Compare handles POST /compare. Reports with an error still return 200; the error is part
// of the report.
func (h *ComplianceHandler) Compare(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var req CompareRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.ModelNumber) == "" {
		h.writeError(w, http.StatusBadRequest, "model_number is required", "")
		return
	}

	spec, err := h.store.Find(ctx, req.ModelNumber)
	if err != nil && !errors.Is(err, domain.ErrSpecNotFound) {
		h.writeDomainError(w, err)
		return
	}

	report := h.comparator.Compare(ctx, req.Specifications, spec, req.ModelNumber)
	h.writeJSON(w, http.StatusOK, report)
}

// Meter handles GET /meters/{model}.
func (h *ComplianceHandler) Meter(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	model := chi.URLParam(r, "model")

	spec, err := h.store.Find(ctx, model)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, spec)
}

// Analyze handles POST /analyze. A body with text runs the full pipeline; a body with
// specifications runs a single requirement.
func (h *ComplianceHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	var req struct {
		DocumentRequestDTO
		Requirement *RequirementDTO `json:"requirement,omitempty"`
		Override    string          `json:"override,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Requirement != nil {
		single, ok := req.Requirement.toRequirement()
		if !ok {
			h.writeError(w, http.StatusBadRequest, "specifications are required", "")
			return
		}
		h.writeJSON(w, http.StatusOK, h.runner.Analyze(ctx, single, req.Override))
		return
	}

	h.logger.Info().
		Str("request_id", chimiddleware.GetReqID(ctx)).
		Int("bytes", len(req.Text)).
		Strs("clauses", req.Clauses).
		Msg("analysing document")

	result, err := h.runner.Run(ctx, req.Text, extract.ClauseSelector{Clauses: req.Clauses}, pipeline.Options{Overrides: req.Overrides})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// requestContext carries the chi request id as the run id.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if id := chimiddleware.GetReqID(ctx); id != "" && observability.RunIDFromContext(ctx) == "" {
		ctx = observability.ContextWithRunID(ctx, id)
	}
	return ctx
}

func (h *ComplianceHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyDocument):
		h.writeError(w, http.StatusBadRequest, "document is empty", "")
	case errors.Is(err, domain.ErrSpecNotFound):
		h.writeError(w, http.StatusNotFound, "specification not found", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.writeError(w, http.StatusGatewayTimeout, "request timed out", err.Error())
	case domain.ErrorTypeOf(err) == domain.ErrorTypeValidation:
		h.writeError(w, http.StatusBadRequest, "invalid request", err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "request failed", err.Error())
	}
}

func (h *ComplianceHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("encode response")
	}
}

func (h *ComplianceHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}
