package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
)

const maxJSONBodySize = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a size-limited JSON body into dst. It writes the error response itself and
// reports false when the body is unusable.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

// requireActor converts the authenticated identity into a service actor.
func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return services.Actor{
		UID:       strings.TrimSpace(identity.UID),
		Role:      identity.Role,
		NomineeID: strings.TrimSpace(identity.NomineeID),
	}, true
}

func stageParam(w http.ResponseWriter, r *http.Request) (domain.Stage, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "stage"))
	value, err := strconv.Atoi(raw)
	if err != nil || !domain.Stage(value).Valid() {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_stage", fmt.Sprintf("stage %q is not 1, 2 or 3", raw), http.StatusBadRequest))
		return 0, false
	}
	return domain.Stage(value), true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func passThroughIfNil(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type serviceErrorClass struct {
	targets []error
	code    string
	status  int
}

var serviceErrorClasses = []serviceErrorClass{
	{
		targets: []error{services.ErrPortalInvalidInput, services.ErrUploadInvalidInput, services.ErrEvaluationInvalidInput, services.ErrRequirementInvalidInput, services.ErrAuditInvalidInput},
		code:    "invalid_request",
		status:  http.StatusBadRequest,
	},
	{
		targets: []error{services.ErrPortalForbidden, services.ErrUploadForbidden, services.ErrEvaluationForbidden, services.ErrRequirementForbidden},
		code:    "forbidden",
		status:  http.StatusForbidden,
	},
	{
		targets: []error{services.ErrPortalNotFound, services.ErrUploadNotFound, services.ErrEvaluationNotFound},
		code:    "not_found",
		status:  http.StatusNotFound,
	},
	{
		targets: []error{services.ErrPortalConflict},
		code:    "conflict",
		status:  http.StatusConflict,
	},
	{
		targets: []error{services.ErrPortalUnavailable, services.ErrUploadUnavailable, services.ErrEvaluationUnavailable, services.ErrRequirementUnavailable},
		code:    "service_unavailable",
		status:  http.StatusServiceUnavailable,
	},
}

// writeServiceError maps service sentinels onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request did not complete in time", http.StatusServiceUnavailable))
		return
	}
	for _, class := range serviceErrorClasses {
		for _, target := range class.targets {
			if errors.Is(err, target) {
				message := err.Error()
				if class.status == http.StatusForbidden {
					message = "insufficient permissions for this action"
				}
				httpx.WriteError(ctx, w, httpx.NewError(class.code, message, class.status))
				return
			}
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}
