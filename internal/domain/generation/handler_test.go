package generation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/middleware"
	"github.com/nanobanana/nanobanana-api/internal/pkg/apimart"
	"github.com/nanobanana/nanobanana-api/internal/pkg/jwt"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, f *fixture, userID uuid.UUID) (http.Handler, string) {
	t.Helper()
	jwtSvc := jwt.NewService("generation-handler-secret", time.Hour)
	token, err := jwtSvc.GenerateAccessToken(userID, "user@example.com")
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	r := chi.NewRouter()
	r.Mount("/api/v1/generations", generation.NewHandler(f.svc).Routes(middleware.Auth(jwtSvc)))
	return r, token
}

func perform(t *testing.T, h http.Handler, token, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func TestHandlerSubmitAndCheck(t *testing.T) {
	f := newFixture()
	userID := f.seedUser(t, 50)
	h, token := newTestRouter(t, f, userID)

	rec, body := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt":     "a lighthouse at dusk",
		"resolution": "2K",
		"count":      2,
		"size":       "4:3",
	})
	if rec.Code != http.StatusOK || !body.Success {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var submitted generation.SubmitResponse
	if err := json.Unmarshal(body.Data, &submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if submitted.Cost != 10 || submitted.NewBalance != 40 || submitted.TaskID != "task-1" || submitted.JobID == nil {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}
	if submitted.Message != "Deducted 10 credits, current balance 40 credits" {
		t.Fatalf("unexpected message: %q", submitted.Message)
	}

	f.generator.statusFn = remoteStatus("failed", nil, "")
	rec, body = perform(t, h, token, http.MethodPost, "/api/v1/generations/check", map[string]interface{}{
		"task_id": submitted.TaskID,
		"job_id":  *submitted.JobID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var checked generation.CheckResponse
	if err := json.Unmarshal(body.Data, &checked); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if checked.Status != "failed" || !checked.CreditsRefunded || checked.NewBalance == nil || *checked.NewBalance != 50 {
		t.Fatalf("unexpected check response: %+v", checked)
	}
	if checked.Message != "Generation failed, 10 credits refunded, current balance 50 credits" {
		t.Fatalf("unexpected message: %q", checked.Message)
	}

	rec, _ = perform(t, h, token, http.MethodGet, "/api/v1/generations/"+*submitted.JobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own job, got %d", rec.Code)
	}

	rec, body = perform(t, h, token, http.MethodGet, "/api/v1/generations?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for list, got %d", rec.Code)
	}
	var jobs []generation.JobResponse
	if err := json.Unmarshal(body.Data, &jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != "failed" {
		t.Fatalf("unexpected list: %+v", jobs)
	}
}

func TestHandlerSubmitDefaultsCountFromN(t *testing.T) {
	f := newFixture()
	userID := f.seedUser(t, 50)
	h, token := newTestRouter(t, f, userID)

	rec, _ := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt": "p", "resolution": "4K", "n": 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.balance(t, userID); got != 20 {
		t.Fatalf("expected 3 x 4K = 30 charged, balance 20, got %d", got)
	}
}

func TestHandlerSubmitResolutionComesFromCostTable(t *testing.T) {
	f := newFixtureWith(generation.Config{Costs: generation.CostTable{"2K": 5, "8K": 40}})
	userID := f.seedUser(t, 100)
	h, token := newTestRouter(t, f, userID)

	rec, _ := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt": "p", "resolution": "8K", "count": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected priced resolution to be accepted, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.balance(t, userID); got != 60 {
		t.Fatalf("expected 40 charged, balance 60, got %d", got)
	}

	rec, body := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt": "p", "resolution": "4K", "count": 1,
	})
	if rec.Code != http.StatusUnprocessableEntity || body.Error == nil {
		t.Fatalf("expected 422 for unpriced resolution, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := body.Error.Details["resolution"]; got != "Invalid resolution. Must be: 2K, 8K" {
		t.Fatalf("unexpected resolution message: %v", got)
	}
}

func TestHandlerSubmitForwardsSizeUnchanged(t *testing.T) {
	f := newFixture()
	userID := f.seedUser(t, 50)
	h, token := newTestRouter(t, f, userID)

	rec, _ := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt": "p", "resolution": "1K", "size": "1024x1024",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.generator.submits) != 1 || f.generator.submits[0].Size != "1024x1024" {
		t.Fatalf("size not forwarded: %+v", f.generator.submits)
	}
}

func TestHandlerSubmitErrors(t *testing.T) {
	cases := []struct {
		name       string
		balance    int64
		body       map[string]interface{}
		submitErr  error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "count out of range",
			balance:    50,
			body:       map[string]interface{}{"prompt": "p", "resolution": "1K", "count": 5},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "unknown resolution",
			balance:    50,
			body:       map[string]interface{}{"prompt": "p", "resolution": "3K", "count": 1},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "insufficient credits",
			balance:    3,
			body:       map[string]interface{}{"prompt": "p", "resolution": "1K", "count": 1},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "INSUFFICIENT_CREDITS",
		},
		{
			name:       "upstream rejected",
			balance:    50,
			body:       map[string]interface{}{"prompt": "p", "resolution": "1K", "count": 1},
			submitErr:  &apimart.HTTPError{StatusCode: 400, Body: "bad prompt"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_REJECTED",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			userID := f.seedUser(t, tc.balance)
			if tc.submitErr != nil {
				f.generator.submitFn = func(context.Context, apimart.GenerateRequest) (string, error) {
					return "", tc.submitErr
				}
			}
			h, token := newTestRouter(t, f, userID)

			rec, body := perform(t, h, token, http.MethodPost, "/api/v1/generations", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if body.Error == nil || body.Error.Code != tc.wantCode {
				t.Fatalf("expected code %s, got %+v", tc.wantCode, body.Error)
			}
			if got := f.balance(t, userID); got != tc.balance {
				t.Fatalf("expected balance %d after failure, got %d", tc.balance, got)
			}
		})
	}
}

func TestHandlerInsufficientCreditsDetails(t *testing.T) {
	f := newFixture()
	userID := f.seedUser(t, 4)
	h, token := newTestRouter(t, f, userID)

	_, body := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt": "p", "resolution": "4K", "count": 1,
	})
	if body.Error == nil {
		t.Fatal("expected error body")
	}
	// JSON numbers decode as float64
	if body.Error.Details["required"] != float64(10) || body.Error.Details["balance"] != float64(4) {
		t.Fatalf("unexpected details: %+v", body.Error.Details)
	}
}

func TestHandlerUpstreamFailureReportsRefund(t *testing.T) {
	f := newFixture()
	userID := f.seedUser(t, 50)
	f.generator.submitFn = func(context.Context, apimart.GenerateRequest) (string, error) {
		return "", apimart.ErrUnavailable
	}
	h, token := newTestRouter(t, f, userID)

	_, body := perform(t, h, token, http.MethodPost, "/api/v1/generations", map[string]interface{}{
		"prompt": "p", "resolution": "4K", "count": 2,
	})
	if body.Error == nil || body.Error.Code != "UPSTREAM_UNAVAILABLE" {
		t.Fatalf("unexpected error: %+v", body.Error)
	}
	if body.Error.Details["credits_refunded"] != float64(20) || body.Error.Details["new_balance"] != float64(50) {
		t.Fatalf("unexpected details: %+v", body.Error.Details)
	}
}

func TestHandlerJobOfAnotherUserIsNotFound(t *testing.T) {
	f := newFixture()
	owner := f.seedUser(t, 50)
	sub := submitOne(t, f, owner)

	h, token := newTestRouter(t, f, uuid.New())
	rec, _ := perform(t, h, token, http.MethodGet, "/api/v1/generations/"+sub.JobID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerRequiresAuth(t *testing.T) {
	f := newFixture()
	h, _ := newTestRouter(t, f, uuid.New())

	rec, _ := perform(t, h, "", http.MethodPost, "/api/v1/generations", map[string]interface{}{"prompt": "p"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
