package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

type readyzBody struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status    string `json:"status"`
		LatencyMS int64  `json:"latencyMs"`
	} `json:"checks"`
	Details []string `json:"details"`
}

func TestHealthzReportsBuild(t *testing.T) {
	deployed := time.Date(2025, time.April, 14, 6, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "3.1.0", CommitSHA: "a1b2c3", Environment: "prod", StartedAt: deployed}),
		WithHealthClock(func() time.Time { return deployed.Add(2 * time.Hour) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		"status":      domain.HealthStatusOK,
		"version":     "3.1.0",
		"commitSha":   "a1b2c3",
		"environment": "prod",
		"uptime":      "2h0m0s",
	}
	for key, value := range want {
		if body[key] != value {
			t.Errorf("%s: expected %q, got %v", key, value, body[key])
		}
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when no probes are wired, got %d", rr.Code)
	}
}

func TestReadyzStatusMapping(t *testing.T) {
	checkedAt := time.Date(2025, time.April, 14, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		report      services.SystemHealthReport
		wantCode    int
		wantDetails []string
	}{
		{
			name: "all ok",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore":       {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: checkedAt},
					"documentStorage": {Status: domain.HealthStatusOK, CheckedAt: checkedAt},
				},
			},
			wantCode: http.StatusOK,
		},
		{
			name: "optional probe degraded",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore":      {Status: domain.HealthStatusOK},
					"workflowEvents": {Status: domain.HealthStatusDegraded, Error: "topic portal-workflow-events not found"},
				},
			},
			wantCode:    http.StatusOK,
			wantDetails: []string{"workflowEvents: topic portal-workflow-events not found"},
		},
		{
			name: "critical probe failed",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"documentStorage": {Status: domain.HealthStatusError, Error: "bucket not found"},
					"firestore":       {Status: domain.HealthStatusError, Detail: "deadline exceeded"},
				},
			},
			wantCode:    http.StatusServiceUnavailable,
			wantDetails: []string{"documentStorage: bucket not found", "firestore: deadline exceeded"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report}),
				WithHealthClock(func() time.Time { return checkedAt }),
			)
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			var body readyzBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.report.Status {
				t.Fatalf("expected status %s, got %s", tc.report.Status, body.Status)
			}
			if len(body.Checks) != len(tc.report.Checks) {
				t.Fatalf("expected %d checks, got %d", len(tc.report.Checks), len(body.Checks))
			}
			if len(body.Details) != len(tc.wantDetails) {
				t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
			}
			for i := range tc.wantDetails {
				if body.Details[i] != tc.wantDetails[i] {
					t.Fatalf("detail %d: expected %q, got %q", i, tc.wantDetails[i], body.Details[i])
				}
			}
		})
	}
}

func TestReadyzServiceError(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("firestore dial timeout")}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body readyzBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != domain.HealthStatusError || len(body.Details) != 1 || body.Details[0] != "firestore dial timeout" {
		t.Fatalf("unexpected body %+v", body)
	}
}
