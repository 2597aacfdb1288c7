package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/observability"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const (
	defaultMaxUploadBytes   = 25 << 20
	multipartOverheadBytes  = 1 << 20
	multipartMemoryBytes    = 8 << 20
	defaultUploadWaitWindow = 25 * time.Second
	uploadFormField         = "file"
)

// PortalHandlers exposes the nominee portal: view, upload dialog, uploads, consent and submission.
type PortalHandlers struct {
	authn             *auth.Authenticator
	portal            services.PortalService
	uploads           services.UploadOrchestrator
	activationLimiter attemptLimiter
	maxUploadBytes    int64
	waitWindow        time.Duration
	replayGuard       func(http.Handler) http.Handler
}

// PortalOption customises PortalHandlers.
type PortalOption func(*PortalHandlers)

// WithActivationRateLimit caps activation attempts per user within a window.
func WithActivationRateLimit(limit int, window time.Duration, clock func() time.Time) PortalOption {
	return func(h *PortalHandlers) {
		h.activationLimiter = newWindowLimiter(limit, window, clock)
	}
}

// WithMaxUploadBytes sets the largest file accepted by the upload endpoint.
func WithMaxUploadBytes(limit int64) PortalOption {
	return func(h *PortalHandlers) {
		if limit > 0 {
			h.maxUploadBytes = limit
		}
	}
}

// WithUploadWaitWindow bounds how long GET /uploads/{id}?wait=true blocks.
func WithUploadWaitWindow(window time.Duration) PortalOption {
	return func(h *PortalHandlers) {
		if window > 0 {
			h.waitWindow = window
		}
	}
}

// WithReplayGuard wraps activation and stage submission so a retried request replays the first
// outcome.
func WithReplayGuard(guard func(http.Handler) http.Handler) PortalOption {
	return func(h *PortalHandlers) {
		h.replayGuard = guard
	}
}

// NewPortalHandlers constructs the portal handlers.
func NewPortalHandlers(authn *auth.Authenticator, portal services.PortalService, uploads services.UploadOrchestrator, opts ...PortalOption) *PortalHandlers {
	h := &PortalHandlers{
		authn:          authn,
		portal:         portal,
		uploads:        uploads,
		maxUploadBytes: defaultMaxUploadBytes,
		waitWindow:     defaultUploadWaitWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /portal endpoints.
func (h *PortalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireRoles())
		r.Use(observability.IdentityCapture)
	}
	guarded := r.With(passThroughIfNil(h.replayGuard))
	guarded.Post("/activation", h.activate)
	r.Get("/nominees/{nomineeID}", h.getNominee)
	r.Post("/nominees/{nomineeID}/slots/{slotID}/open", h.openUpload)
	r.Post("/nominees/{nomineeID}/slots/{slotID}/uploads", h.startUpload)
	r.Post("/nominees/{nomineeID}/stages/{stage}/consent", h.openConsent)
	guarded.Post("/nominees/{nomineeID}/stages/{stage}/submit", h.submitStage)
	r.Get("/uploads/{uploadID}", h.getUpload)
	r.Delete("/uploads/{uploadID}", h.cancelUpload)
}

type activationRequest struct {
	RegistrationCode string `json:"registrationCode"`
}

type activationResponse struct {
	Nominee nomineePayload `json:"nominee"`
}

func (h *PortalHandlers) activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.portal == nil {
		httpx.WriteError(ctx, w, httpx.NewError("portal_service_unavailable", "portal service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if h.activationLimiter != nil {
		if allowed, retryAfter := h.activationLimiter.Allow(actor.UID); !allowed {
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many activation attempts", http.StatusTooManyRequests).WithRetryAfter(retryAfter))
			return
		}
	}

	var req activationRequest
	if !decodeJSONBody(w, r, maxJSONBodySize, &req) {
		return
	}
	nominee, err := h.portal.Activate(ctx, services.ActivateCommand{Actor: actor, RegistrationCode: req.RegistrationCode})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, activationResponse{Nominee: newNomineePayload(nominee)})
}

func (h *PortalHandlers) getNominee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.portal == nil {
		httpx.WriteError(ctx, w, httpx.NewError("portal_service_unavailable", "portal service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	view, err := h.portal.Load(ctx, actor, chi.URLParam(r, "nomineeID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewPayload(view))
}

func (h *PortalHandlers) openUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.portal == nil {
		httpx.WriteError(ctx, w, httpx.NewError("portal_service_unavailable", "portal service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	dialog, err := h.portal.OpenUpload(ctx, services.OpenUploadCommand{
		Actor:     actor,
		NomineeID: chi.URLParam(r, "nomineeID"),
		SlotID:    chi.URLParam(r, "slotID"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newUploadDialogPayload(dialog))
}

func (h *PortalHandlers) startUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFileTooLarge(w, h.maxUploadBytes)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form with a file field is required", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file field is required", http.StatusBadRequest))
		return
	}
	defer file.Close()
	body, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file could not be read", http.StatusBadRequest))
		return
	}

	attempt, err := h.uploads.Start(ctx, services.StartUploadCommand{
		Actor:       actor,
		NomineeID:   chi.URLParam(r, "nomineeID"),
		SlotID:      chi.URLParam(r, "slotID"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        body,
		Remarks:     r.FormValue("remarks"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusAccepted
	if attempt.Phase == services.UploadPhaseIdle {
		status = http.StatusConflict
	}
	writeJSONResponse(w, status, newUploadAttemptPayload(attempt))
}

func writeFileTooLarge(w http.ResponseWriter, limit int64) {
	writeJSONResponse(w, http.StatusRequestEntityTooLarge, map[string]any{
		"phase": string(services.UploadPhaseIdle),
		"notice": noticePayload{
			Level:   string(workflow.NoticeWarning),
			Code:    workflow.NoticeFileTooLarge,
			Message: "The file exceeds the " + strconv.FormatInt(limit>>20, 10) + " MB upload limit.",
		},
	})
}

func (h *PortalHandlers) getUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	uploadID := chi.URLParam(r, "uploadID")

	var (
		attempt services.UploadAttempt
		err     error
	)
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		waitCtx, cancel := context.WithTimeout(ctx, h.waitWindow)
		attempt, err = h.uploads.Wait(waitCtx, actor, uploadID)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = nil
		}
	} else {
		attempt, err = h.uploads.Get(ctx, actor, uploadID)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newUploadAttemptPayload(attempt))
}

func (h *PortalHandlers) cancelUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	attempt, err := h.uploads.Cancel(ctx, actor, chi.URLParam(r, "uploadID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newUploadAttemptPayload(attempt))
}

type consentResponse struct {
	Stage             int            `json:"stage"`
	DataPrivacy       bool           `json:"dataPrivacy"`
	AuthorityToSubmit bool           `json:"authorityToSubmit"`
	Ready             bool           `json:"ready"`
	Progress          int            `json:"progress"`
	MinProgress       int            `json:"minProgress"`
	Notice            *noticePayload `json:"notice,omitempty"`
}

func (h *PortalHandlers) openConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.portal == nil {
		httpx.WriteError(ctx, w, httpx.NewError("portal_service_unavailable", "portal service unavailable", http.StatusServiceUnavailable))
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
	checkpoint, err := h.portal.OpenConsent(ctx, actor, chi.URLParam(r, "nomineeID"), stage)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, consentResponse{
		Stage:             int(checkpoint.Gate.Stage),
		DataPrivacy:       checkpoint.Gate.Consent.DataPrivacy,
		AuthorityToSubmit: checkpoint.Gate.Consent.AuthorityToSubmit,
		Ready:             checkpoint.Gate.Ready(),
		Progress:          checkpoint.Progress,
		MinProgress:       checkpoint.MinProgress,
		Notice:            newNoticePayload(checkpoint.Notice),
	})
}

type submitRequest struct {
	DataPrivacy       bool `json:"dataPrivacy"`
	AuthorityToSubmit bool `json:"authorityToSubmit"`
}

type submitResponse struct {
	Submitted   bool           `json:"submitted"`
	SubmittedAt string         `json:"submittedAt,omitempty"`
	Progress    int            `json:"progress,omitempty"`
	Notice      *noticePayload `json:"notice,omitempty"`
}

func (h *PortalHandlers) submitStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.portal == nil {
		httpx.WriteError(ctx, w, httpx.NewError("portal_service_unavailable", "portal service unavailable", http.StatusServiceUnavailable))
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
	var req submitRequest
	if !decodeJSONBody(w, r, maxJSONBodySize, &req) {
		return
	}
	result, err := h.portal.SubmitStage(ctx, services.SubmitStageCommand{
		Actor:     actor,
		NomineeID: strings.TrimSpace(chi.URLParam(r, "nomineeID")),
		Stage:     stage,
		Consent:   workflow.Consent{DataPrivacy: req.DataPrivacy, AuthorityToSubmit: req.AuthorityToSubmit},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := submitResponse{Submitted: result.Submitted, Notice: newNoticePayload(result.Notice)}
	if !result.Submitted {
		writeJSONResponse(w, http.StatusConflict, payload)
		return
	}
	if result.Submission != nil {
		payload.SubmittedAt = formatTime(result.Submission.SubmittedAt)
		payload.Progress = result.Submission.Progress
	}
	writeJSONResponse(w, http.StatusOK, payload)
}
