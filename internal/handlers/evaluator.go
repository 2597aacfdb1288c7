package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/observability"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/pagination"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

var staffRoles = []workflow.Role{workflow.RoleREU, workflow.RoleSCDTeamLeader, workflow.RoleAdmin, workflow.RoleEvaluator}

// EvaluatorHandlers exposes the staff side: review queue, verdicts, unlocks and the audit trail.
type EvaluatorHandlers struct {
	authn       *auth.Authenticator
	evaluation  services.EvaluationService
	replayGuard func(http.Handler) http.Handler
}

// EvaluatorOption customises EvaluatorHandlers.
type EvaluatorOption func(*EvaluatorHandlers)

// WithEvaluatorReplayGuard wraps verdict, unlock and regional pass writes.
func WithEvaluatorReplayGuard(guard func(http.Handler) http.Handler) EvaluatorOption {
	return func(h *EvaluatorHandlers) {
		h.replayGuard = guard
	}
}

// NewEvaluatorHandlers constructs evaluator handlers.
func NewEvaluatorHandlers(authn *auth.Authenticator, evaluation services.EvaluationService, opts ...EvaluatorOption) *EvaluatorHandlers {
	h := &EvaluatorHandlers{authn: authn, evaluation: evaluation}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /evaluator endpoints.
func (h *EvaluatorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRoles(staffRoles...))
		r.Use(observability.IdentityCapture)
	}
	r.Get("/nominees", h.listQueue)
	r.Route("/nominees/{nomineeID}", func(rt chi.Router) {
		rt.Get("/", h.getNominee)
		rt.Get("/audit", h.listAuditTrail)

		writes := rt.With(passThroughIfNil(h.replayGuard))
		writes.Put("/documents/{slotID}/verdict", h.setDocumentVerdict)
		writes.Put("/stages/{stage}/verdict", h.setStageVerdict)
		writes.Put("/stages/{stage}/unlock", h.setStageUnlock)
		writes.Post("/stages/1/regional-pass", h.markRegionalPass)
	})
}

type queueResponse struct {
	Items         []nomineePayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

func (h *EvaluatorHandlers) listQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	params, err := pagination.Parse(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	statuses, err := parseStatuses(query.Get("status"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.evaluation.ListQueue(ctx, actor, services.NomineeFilter{
		Status:     statuses,
		Category:   domain.Category(strings.TrimSpace(query.Get("category"))),
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := queueResponse{Items: make([]nomineePayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, nominee := range page.Items {
		resp.Items = append(resp.Items, newNomineePayload(nominee))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

var knownStatuses = map[domain.NomineeStatus]struct{}{
	domain.NomineeStatusPending:     {},
	domain.NomineeStatusInProgress:  {},
	domain.NomineeStatusSubmitted:   {},
	domain.NomineeStatusUnderReview: {},
	domain.NomineeStatusCompleted:   {},
}

func parseStatuses(raw string) ([]domain.NomineeStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []domain.NomineeStatus
	for _, part := range strings.Split(raw, ",") {
		status := domain.NomineeStatus(strings.ToLower(strings.TrimSpace(part)))
		if status == "" {
			continue
		}
		if _, ok := knownStatuses[status]; !ok {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}

func (h *EvaluatorHandlers) getNominee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	view, err := h.evaluation.GetNominee(ctx, actor, chi.URLParam(r, "nomineeID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewPayload(view))
}

type documentVerdictRequest struct {
	Verdict string  `json:"verdict"`
	Remarks *string `json:"remarks"`
}

type updatedResponse struct {
	Updated bool `json:"updated"`
}

func (h *EvaluatorHandlers) setDocumentVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req documentVerdictRequest
	if !decodeJSONBody(w, r, maxJSONBodySize, &req) {
		return
	}
	updated, err := h.evaluation.SetDocumentVerdict(ctx, services.DocumentVerdictCommand{
		Actor:     actor,
		NomineeID: chi.URLParam(r, "nomineeID"),
		SlotID:    chi.URLParam(r, "slotID"),
		Verdict:   domain.Verdict(strings.ToLower(strings.TrimSpace(req.Verdict))),
		Remarks:   req.Remarks,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, updatedResponse{Updated: updated})
}

type stageVerdictRequest struct {
	Verdict string `json:"verdict"`
}

func parseStageVerdict(raw string) domain.StageVerdict {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pass":
		return domain.StageVerdictPass
	case "fail":
		return domain.StageVerdictFail
	default:
		return domain.StageVerdict(raw)
	}
}

func (h *EvaluatorHandlers) setStageVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	var req stageVerdictRequest
	if !decodeJSONBody(w, r, maxJSONBodySize, &req) {
		return
	}
	updated, err := h.evaluation.SetStageVerdict(ctx, services.StageVerdictCommand{
		Actor:     actor,
		NomineeID: chi.URLParam(r, "nomineeID"),
		Stage:     stage,
		Verdict:   parseStageVerdict(req.Verdict),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, updatedResponse{Updated: updated})
}

type stageUnlockRequest struct {
	Unlocked *bool `json:"unlocked"`
}

func (h *EvaluatorHandlers) setStageUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	var req stageUnlockRequest
	if !decodeJSONBody(w, r, maxJSONBodySize, &req) {
		return
	}
	if req.Unlocked == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unlocked is required", http.StatusBadRequest))
		return
	}
	if err := h.evaluation.SetStageUnlock(ctx, services.StageUnlockCommand{
		Actor:     actor,
		NomineeID: chi.URLParam(r, "nomineeID"),
		Stage:     stage,
		Unlocked:  *req.Unlocked,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, updatedResponse{Updated: true})
}

func (h *EvaluatorHandlers) markRegionalPass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.evaluation.MarkRegionalPass(ctx, actor, chi.URLParam(r, "nomineeID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, updatedResponse{Updated: true})
}

type auditTrailResponse struct {
	Items         []auditEntryPayload `json:"items"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}

func (h *EvaluatorHandlers) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.evaluation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("evaluation_service_unavailable", "evaluation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	params, err := pagination.Parse(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.evaluation.ListAuditTrail(ctx, actor, chi.URLParam(r, "nomineeID"), services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := auditTrailResponse{Items: make([]auditEntryPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, entry := range page.Items {
		resp.Items = append(resp.Items, newAuditEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
