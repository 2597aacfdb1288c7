package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/observability"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const maxCatalogRequestBody = 256 * 1024

// AdminRequirementHandlers exposes the requirement catalog editor.
type AdminRequirementHandlers struct {
	authn        *auth.Authenticator
	requirements services.RequirementService
}

// NewAdminRequirementHandlers constructs admin requirement handlers.
func NewAdminRequirementHandlers(authn *auth.Authenticator, requirements services.RequirementService) *AdminRequirementHandlers {
	return &AdminRequirementHandlers{authn: authn, requirements: requirements}
}

// Routes registers the /admin/requirements endpoints.
func (h *AdminRequirementHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRoles(workflow.RoleAdmin))
		r.Use(observability.IdentityCapture)
	}
	r.Get("/requirements/{category}", h.getCatalog)
	r.Put("/requirements/{category}", h.replaceCatalog)
}

type catalogResponse struct {
	Category string         `json:"category"`
	Source   string         `json:"source"`
	Notice   *noticePayload `json:"notice,omitempty"`
	Catalog  catalogPayload `json:"catalog"`
}

func newCatalogResponse(resolved services.ResolvedCatalog) catalogResponse {
	return catalogResponse{
		Category: string(resolved.Category),
		Source:   string(resolved.Source),
		Notice:   newNoticePayload(resolved.Notice),
		Catalog:  newCatalogPayload(resolved.Catalog),
	}
}

func (h *AdminRequirementHandlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requirements == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "requirement service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	resolved, err := h.requirements.Resolve(ctx, chi.URLParam(r, "category"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCatalogResponse(resolved))
}

func (h *AdminRequirementHandlers) replaceCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requirements == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "requirement service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req catalogPayload
	if !decodeJSONBody(w, r, maxCatalogRequestBody, &req) {
		return
	}
	resolved, err := h.requirements.Replace(ctx, services.ReplaceRequirementsCommand{
		Actor:    actor,
		Category: chi.URLParam(r, "category"),
		Catalog:  req.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCatalogResponse(resolved))
}
