package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

type stubEvaluationService struct {
	listFunc         func(context.Context, services.Actor, services.NomineeFilter) (domain.CursorPage[services.Nominee], error)
	getFunc          func(context.Context, services.Actor, string) (services.PortalView, error)
	docVerdictFunc   func(context.Context, services.DocumentVerdictCommand) (bool, error)
	stageVerdictFunc func(context.Context, services.StageVerdictCommand) (bool, error)
	unlockFunc       func(context.Context, services.StageUnlockCommand) error
	regionalFunc     func(context.Context, services.Actor, string) error
	auditFunc        func(context.Context, services.Actor, string, services.Pagination) (domain.CursorPage[services.AuditLogEntry], error)
}

func (s *stubEvaluationService) ListQueue(ctx context.Context, actor services.Actor, filter services.NomineeFilter) (domain.CursorPage[services.Nominee], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Nominee]{}, nil
	}
	return s.listFunc(ctx, actor, filter)
}

func (s *stubEvaluationService) GetNominee(ctx context.Context, actor services.Actor, nomineeID string) (services.PortalView, error) {
	if s.getFunc == nil {
		return services.PortalView{}, services.ErrEvaluationNotFound
	}
	return s.getFunc(ctx, actor, nomineeID)
}

func (s *stubEvaluationService) SetDocumentVerdict(ctx context.Context, cmd services.DocumentVerdictCommand) (bool, error) {
	if s.docVerdictFunc == nil {
		return false, services.ErrEvaluationNotFound
	}
	return s.docVerdictFunc(ctx, cmd)
}

func (s *stubEvaluationService) SetStageVerdict(ctx context.Context, cmd services.StageVerdictCommand) (bool, error) {
	if s.stageVerdictFunc == nil {
		return false, services.ErrEvaluationNotFound
	}
	return s.stageVerdictFunc(ctx, cmd)
}

func (s *stubEvaluationService) SetStageUnlock(ctx context.Context, cmd services.StageUnlockCommand) error {
	if s.unlockFunc == nil {
		return services.ErrEvaluationNotFound
	}
	return s.unlockFunc(ctx, cmd)
}

func (s *stubEvaluationService) MarkRegionalPass(ctx context.Context, actor services.Actor, nomineeID string) error {
	if s.regionalFunc == nil {
		return services.ErrEvaluationNotFound
	}
	return s.regionalFunc(ctx, actor, nomineeID)
}

func (s *stubEvaluationService) ListAuditTrail(ctx context.Context, actor services.Actor, nomineeID string, page services.Pagination) (domain.CursorPage[services.AuditLogEntry], error) {
	if s.auditFunc == nil {
		return domain.CursorPage[services.AuditLogEntry]{}, nil
	}
	return s.auditFunc(ctx, actor, nomineeID, page)
}

var _ services.EvaluationService = (*stubEvaluationService)(nil)

func withStaff(req *http.Request, role workflow.Role) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "staff-1", Role: role}))
}

func TestEvaluatorHandlersListQueue(t *testing.T) {
	var captured services.NomineeFilter
	service := &stubEvaluationService{
		listFunc: func(_ context.Context, actor services.Actor, filter services.NomineeFilter) (domain.CursorPage[services.Nominee], error) {
			captured = filter
			if actor.Role != workflow.RoleREU {
				t.Fatalf("unexpected role %s", actor.Role)
			}
			return domain.CursorPage[services.Nominee]{
				Items:         []services.Nominee{{ID: "nom-1", Category: domain.CategoryMicro, Status: domain.NomineeStatusSubmitted}},
				NextPageToken: "next",
			}, nil
		},
	}
	handler := NewEvaluatorHandlers(nil, service)
	router := NewRouter(WithEvaluatorRoutes(handler.Routes))

	req := withStaff(httptest.NewRequest(http.MethodGet, "/api/v1/evaluator/nominees?status=submitted,%20Under_Review&category=micro&pageSize=10", nil), workflow.RoleREU)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[1] != domain.NomineeStatusUnderReview {
		t.Fatalf("unexpected statuses %v", captured.Status)
	}
	if captured.Category != "micro" || captured.Pagination.PageSize != 10 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var payload queueResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 1 || payload.NextPageToken != "next" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestEvaluatorHandlersListQueueRejectsUnknownStatus(t *testing.T) {
	handler := NewEvaluatorHandlers(nil, &stubEvaluationService{})
	router := NewRouter(WithEvaluatorRoutes(handler.Routes))

	req := withStaff(httptest.NewRequest(http.MethodGet, "/api/v1/evaluator/nominees?status=archived", nil), workflow.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestEvaluatorHandlersDocumentVerdict(t *testing.T) {
	var captured services.DocumentVerdictCommand
	service := &stubEvaluationService{
		docVerdictFunc: func(_ context.Context, cmd services.DocumentVerdictCommand) (bool, error) {
			captured = cmd
			return cmd.SlotID == "r1-0", nil
		},
	}
	handler := NewEvaluatorHandlers(nil, service)
	router := NewRouter(WithEvaluatorRoutes(handler.Routes))

	req := withStaff(httptest.NewRequest(http.MethodPut, "/api/v1/evaluator/nominees/nom-1/documents/r1-0/verdict", strings.NewReader(`{"verdict":" FAIL ","remarks":"Unsigned"}`)), workflow.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Verdict != domain.VerdictFail {
		t.Fatalf("expected verdict fail, got %q", captured.Verdict)
	}
	if captured.Remarks == nil || *captured.Remarks != "Unsigned" {
		t.Fatalf("expected remarks forwarded, got %v", captured.Remarks)
	}
	if captured.NomineeID != "nom-1" || captured.Actor.UID != "staff-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var payload updatedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Updated {
		t.Fatalf("expected updated true")
	}

	req = withStaff(httptest.NewRequest(http.MethodPut, "/api/v1/evaluator/nominees/nom-1/documents/r1-5/verdict", strings.NewReader(`{"verdict":"pass"}`)), workflow.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"updated":false`) {
		t.Fatalf("expected updated false for empty slot, got %d %s", rr.Code, rr.Body.String())
	}
	if captured.Remarks != nil {
		t.Fatalf("expected omitted remarks to stay nil")
	}
}

func TestEvaluatorHandlersStageVerdictAndUnlock(t *testing.T) {
	var verdictCmd services.StageVerdictCommand
	var unlockCmd services.StageUnlockCommand
	service := &stubEvaluationService{
		stageVerdictFunc: func(_ context.Context, cmd services.StageVerdictCommand) (bool, error) {
			verdictCmd = cmd
			return true, nil
		},
		unlockFunc: func(_ context.Context, cmd services.StageUnlockCommand) error {
			unlockCmd = cmd
			if cmd.Actor.Role == workflow.RoleREU {
				return services.ErrEvaluationForbidden
			}
			return nil
		},
	}
	handler := NewEvaluatorHandlers(nil, service)
	router := NewRouter(WithEvaluatorRoutes(handler.Routes))

	req := withStaff(httptest.NewRequest(http.MethodPut, "/api/v1/evaluator/nominees/nom-1/stages/3/verdict", strings.NewReader(`{"verdict":"pass"}`)), workflow.RoleEvaluator)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if verdictCmd.Stage != domain.Stage3 || verdictCmd.Verdict != domain.StageVerdictPass {
		t.Fatalf("unexpected stage verdict command %+v", verdictCmd)
	}

	req = withStaff(httptest.NewRequest(http.MethodPut, "/api/v1/evaluator/nominees/nom-1/stages/2/unlock", strings.NewReader(`{}`)), workflow.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 when unlocked is missing, got %d", rr.Code)
	}

	req = withStaff(httptest.NewRequest(http.MethodPut, "/api/v1/evaluator/nominees/nom-1/stages/2/unlock", strings.NewReader(`{"unlocked":true}`)), workflow.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if unlockCmd.Stage != domain.Stage2 || !unlockCmd.Unlocked {
		t.Fatalf("unexpected unlock command %+v", unlockCmd)
	}

	req = withStaff(httptest.NewRequest(http.MethodPut, "/api/v1/evaluator/nominees/nom-1/stages/2/unlock", strings.NewReader(`{"unlocked":false}`)), workflow.RoleREU)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestEvaluatorHandlersRegionalPassAndAudit(t *testing.T) {
	created := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	marked := ""
	var page services.Pagination
	service := &stubEvaluationService{
		regionalFunc: func(_ context.Context, actor services.Actor, nomineeID string) error {
			marked = nomineeID
			return nil
		},
		auditFunc: func(_ context.Context, _ services.Actor, nomineeID string, p services.Pagination) (domain.CursorPage[services.AuditLogEntry], error) {
			page = p
			return domain.CursorPage[services.AuditLogEntry]{Items: []services.AuditLogEntry{{
				ID:        "aud-1",
				Actor:     "staff-1",
				ActorRole: "admin",
				Action:    "stage.unlock",
				Severity:  "info",
				CreatedAt: created,
			}}}, nil
		},
	}
	handler := NewEvaluatorHandlers(nil, service)
	router := NewRouter(WithEvaluatorRoutes(handler.Routes))

	req := withStaff(httptest.NewRequest(http.MethodPost, "/api/v1/evaluator/nominees/nom-7/stages/1/regional-pass", nil), workflow.RoleREU)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || marked != "nom-7" {
		t.Fatalf("expected regional pass recorded, got %d %q", rr.Code, marked)
	}

	req = withStaff(httptest.NewRequest(http.MethodGet, "/api/v1/evaluator/nominees/nom-7/audit?pageSize=5", nil), workflow.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if page.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", page.PageSize)
	}
	var payload auditTrailResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Action != "stage.unlock" || payload.Items[0].CreatedAt != formatTime(created) {
		t.Fatalf("unexpected audit payload %+v", payload)
	}
}
