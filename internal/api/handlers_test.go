package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iheykal/maandhise-sub000/internal/app"
	"github.com/iheykal/maandhise-sub000/internal/clock"
	"github.com/iheykal/maandhise-sub000/internal/domain"
	"github.com/iheykal/maandhise-sub000/internal/store"
)

const testSecret = "test-jwt-secret"

var handlerTestNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

// apiRepoStub embeds the repository interface so each test only implements
// the methods its route reaches.
type apiRepoStub struct {
	store.Repository

	membership *domain.Membership
	record     *domain.PaymentRecord
	applyErr   error

	approveResult *store.ApproveReferralResult
	approveErr    error

	earnings *domain.MarketerEarningsSummary

	createdReferral *domain.PendingReferral
}

func (s *apiRepoStub) ApplyPayment(ctx context.Context, membershipID uuid.UUID, params store.ApplyPaymentParams) (*domain.Membership, *domain.PaymentRecord, error) {
	if s.applyErr != nil {
		return nil, nil, s.applyErr
	}
	return s.membership, s.record, nil
}

func (s *apiRepoStub) ApproveReferralAtomic(ctx context.Context, referralID uuid.UUID, params store.ApproveReferralParams) (*store.ApproveReferralResult, error) {
	if s.approveErr != nil {
		return nil, s.approveErr
	}
	return s.approveResult, nil
}

func (s *apiRepoStub) GetMarketerEarnings(ctx context.Context, marketerID string) (*domain.MarketerEarningsSummary, error) {
	return s.earnings, nil
}

func (s *apiRepoStub) CreatePendingReferral(ctx context.Context, referral *domain.PendingReferral) error {
	s.createdReferral = referral
	return nil
}

func newTestRouter(repo store.Repository) http.Handler {
	svc := app.NewService(repo, nil, clock.Fixed(handlerTestNow), app.RuleConfig{
		MonthlyFeeCents:   100,
		CommissionRateBps: 4000,
		GracePeriod:       30 * 24 * time.Hour,
		FlexibleMinMonths: 1,
		FlexibleMaxMonths: 120,
	})
	return Routes(NewHandlers(svc), testSecret)
}

func signToken(t *testing.T, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Code
}

func TestRoutes_RejectsUnauthenticatedRequests(t *testing.T) {
	router := newTestRouter(&apiRepoStub{})

	rec := doRequest(t, router, http.MethodGet, "/referrals", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoutes_RejectsInvalidToken(t *testing.T) {
	router := newTestRouter(&apiRepoStub{})

	rec := doRequest(t, router, http.MethodGet, "/referrals", "not-a-jwt", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoutes_MarketerCannotReachAdminRoutes(t *testing.T) {
	router := newTestRouter(&apiRepoStub{})
	token := signToken(t, "marketer-1", RoleMarketer)

	rec := doRequest(t, router, http.MethodGet, "/referrals", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestApplyFlexiblePaymentHandler_Success(t *testing.T) {
	membershipID := uuid.New()
	validUntil := handlerTestNow.AddDate(0, 6, 0)
	repo := &apiRepoStub{
		membership: &domain.Membership{
			ID:         membershipID,
			MonthlyFee: 100,
			ValidUntil: validUntil,
		},
		record: &domain.PaymentRecord{
			ID:              uuid.New(),
			MembershipID:    membershipID,
			Amount:          600,
			Method:          domain.MethodMobileMoney,
			MonthsGranted:   6,
			ValidUntilAfter: validUntil,
		},
	}
	router := newTestRouter(repo)
	token := signToken(t, "admin-1", RoleAdmin)

	rec := doRequest(t, router, http.MethodPost,
		"/memberships/"+membershipID.String()+"/payments/flexible",
		token, `{"amount": 600, "method": "mobile_money"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		MonthsGranted int                  `json:"months_granted"`
		PaymentStatus domain.PaymentStatus `json:"payment_status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.MonthsGranted != 6 {
		t.Fatalf("expected 6 months granted, got %d", resp.MonthsGranted)
	}
	if resp.PaymentStatus != domain.StatusCurrent {
		t.Fatalf("expected current status after payment, got %q", resp.PaymentStatus)
	}
}

func TestApplyPaymentHandler_ErrorCodes(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		applyErr   error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "zero amount",
			body:       `{"amount": 0, "method": "cash"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "InvalidAmount",
		},
		{
			name:       "unknown method",
			body:       `{"amount": 100, "method": "crypto"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "InvalidAmount",
		},
		{
			name:       "amount outside band",
			body:       `{"amount": 50, "method": "cash"}`,
			applyErr:   domain.ErrAmountOutOfRange,
			wantStatus: http.StatusBadRequest,
			wantCode:   "AmountOutOfRange",
		},
		{
			name:       "unknown membership",
			body:       `{"amount": 100, "method": "cash"}`,
			applyErr:   domain.ErrMembershipNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "NotFound",
		},
		{
			name:       "concurrent modification",
			body:       `{"amount": 100, "method": "cash"}`,
			applyErr:   domain.ErrConcurrentModification,
			wantStatus: http.StatusConflict,
			wantCode:   "ConcurrentModification",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&apiRepoStub{applyErr: tt.applyErr})
			token := signToken(t, "admin-1", RoleAdmin)

			rec := doRequest(t, router, http.MethodPost,
				"/memberships/"+uuid.NewString()+"/payments/flexible", token, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if code := decodeErrorCode(t, rec); code != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, code)
			}
		})
	}
}

func TestApproveReferralHandler_AlreadyReviewedConflict(t *testing.T) {
	router := newTestRouter(&apiRepoStub{approveErr: domain.ErrAlreadyReviewed})
	token := signToken(t, "admin-1", RoleAdmin)

	rec := doRequest(t, router, http.MethodPost,
		"/referrals/"+uuid.NewString()+"/approve", token, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "AlreadyReviewed" {
		t.Fatalf("expected AlreadyReviewed code, got %q", code)
	}
}

func TestSubmitReferralHandler_RecordsSubmitterFromToken(t *testing.T) {
	repo := &apiRepoStub{}
	router := newTestRouter(repo)
	token := signToken(t, "marketer-7", RoleMarketer)

	rec := doRequest(t, router, http.MethodPost, "/referrals", token,
		`{"candidate": {"full_name": "Hodan Warsame", "phone": "+252613333333"}, "amount": 600}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.createdReferral == nil {
		t.Fatal("expected a referral to be created")
	}
	if repo.createdReferral.SubmittedBy != "marketer-7" {
		t.Fatalf("expected submitter from token subject, got %q", repo.createdReferral.SubmittedBy)
	}
}

func TestMarketerEarningsHandler_ScopesMarketersToThemselves(t *testing.T) {
	repo := &apiRepoStub{
		earnings: &domain.MarketerEarningsSummary{
			MarketerID:            "marketer-7",
			TotalEarnings:         240,
			ApprovedCustomerCount: 1,
		},
	}
	router := newTestRouter(repo)

	t.Run("marketer reads own earnings", func(t *testing.T) {
		token := signToken(t, "marketer-7", RoleMarketer)
		rec := doRequest(t, router, http.MethodGet, "/marketers/marketer-7/earnings", token, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var summary domain.MarketerEarningsSummary
		if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
			t.Fatalf("failed to decode summary: %v", err)
		}
		if summary.TotalEarnings != 240 {
			t.Fatalf("expected 240 cents, got %d", summary.TotalEarnings)
		}
	})

	t.Run("marketer cannot read another marketer", func(t *testing.T) {
		token := signToken(t, "marketer-8", RoleMarketer)
		rec := doRequest(t, router, http.MethodGet, "/marketers/marketer-7/earnings", token, "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("admin reads any marketer", func(t *testing.T) {
		token := signToken(t, "admin-1", RoleAdmin)
		rec := doRequest(t, router, http.MethodGet, "/marketers/marketer-7/earnings", token, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}
