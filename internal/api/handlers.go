/**
 * @description
 * This file contains the HTTP handlers for the membership service's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods
 * on the application service, and write the HTTP response. The engine's
 * sentinel errors are mapped to stable error codes here so an operator can
 * tell whether to retry, correct input, or escalate; the engine itself never
 * assumes HTTP/JSON.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iheykal/maandhise-sub000/internal/app"
	"github.com/iheykal/maandhise-sub000/internal/domain"
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

// Stable error codes surfaced to the boundary's consumers.
const (
	codeInvalidAmount          = "InvalidAmount"
	codeAmountOutOfRange       = "AmountOutOfRange"
	codeNotFound               = "NotFound"
	codeAlreadyReviewed        = "AlreadyReviewed"
	codeConcurrentModification = "ConcurrentModification"
	codeDuplicateCredit        = "DuplicateCredit"
	codePersistenceFailure     = "PersistenceFailure"
	codeInvalidRequest         = "InvalidRequest"
	codeRateLimited            = "RateLimited"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
		}
	}
}

func (h *Handlers) writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeEngineError maps an engine error to its boundary representation.
// Unrecognized errors are reported as persistence failures: nothing was
// partially applied and the caller may retry.
func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidPaymentMethod):
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidAmount, err.Error())
	case errors.Is(err, domain.ErrAmountOutOfRange):
		h.writeErrorCode(w, http.StatusBadRequest, codeAmountOutOfRange, err.Error())
	case errors.Is(err, domain.ErrMembershipNotFound), errors.Is(err, domain.ErrReferralNotFound):
		h.writeErrorCode(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyReviewed):
		h.writeErrorCode(w, http.StatusConflict, codeAlreadyReviewed, err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		h.writeErrorCode(w, http.StatusConflict, codeConcurrentModification, err.Error())
	case errors.Is(err, domain.ErrDuplicateCredit):
		h.writeErrorCode(w, http.StatusConflict, codeDuplicateCredit, err.Error())
	case errors.Is(err, app.ErrMissingCandidateDetails):
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeErrorCode(w, http.StatusTooManyRequests, codeRateLimited, err.Error())
	default:
		log.Printf("level=error component=api msg=\"engine operation failed\" err=%v", err)
		h.writeErrorCode(w, http.StatusInternalServerError, codePersistenceFailure, "operation failed; no partial effects were applied")
	}
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// applyPaymentRequest is the DTO for payment application requests.
type applyPaymentRequest struct {
	Amount        int64   `json:"amount"` // in cents
	Method        string  `json:"method"`
	TransactionID *string `json:"transaction_id,omitempty"`
}

// applyPaymentResponse mirrors what the admin UI needs after a payment.
type applyPaymentResponse struct {
	MembershipID  uuid.UUID             `json:"membership_id"`
	PaymentID     uuid.UUID             `json:"payment_id"`
	MonthsGranted int                   `json:"months_granted"`
	ValidUntil    string                `json:"valid_until"`
	PaymentStatus domain.PaymentStatus  `json:"payment_status"`
	Record        *domain.PaymentRecord `json:"record"`
}

// ApplyFlexiblePaymentHandler handles flexible payments: the amount directly
// determines the number of months granted.
func (h *Handlers) ApplyFlexiblePaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.handleApplyPayment(w, r, h.service.ApplyFlexiblePayment)
}

// ApplyStandardPaymentHandler handles standard single-month payments.
func (h *Handlers) ApplyStandardPaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.handleApplyPayment(w, r, h.service.ApplyStandardPayment)
}

type applyFunc func(ctx context.Context, membershipID uuid.UUID, amountCents int64, method domain.PaymentMethod, transactionID *string) (*domain.Membership, *domain.PaymentRecord, error)

func (h *Handlers) handleApplyPayment(w http.ResponseWriter, r *http.Request, apply applyFunc) {
	membershipID, err := parseIDParam(r, "membershipID")
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid membership id")
		return
	}

	var req applyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	membership, record, err := apply(r.Context(), membershipID, req.Amount, domain.PaymentMethod(req.Method), req.TransactionID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, applyPaymentResponse{
		MembershipID:  membership.ID,
		PaymentID:     record.ID,
		MonthsGranted: record.MonthsGranted,
		ValidUntil:    membership.ValidUntil.UTC().Format(time.RFC3339),
		PaymentStatus: h.service.Classify(membership),
		Record:        record,
	})
}

// MembershipStatusHandler returns the derived payment state of a membership.
func (h *Handlers) MembershipStatusHandler(w http.ResponseWriter, r *http.Request) {
	membershipID, err := parseIDParam(r, "membershipID")
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid membership id")
		return
	}

	view, err := h.service.MembershipStatus(r.Context(), membershipID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// PaymentHistoryHandler returns a membership's payment records in order.
func (h *Handlers) PaymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	membershipID, err := parseIDParam(r, "membershipID")
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid membership id")
		return
	}

	records, err := h.service.PaymentHistory(r.Context(), membershipID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []domain.PaymentRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"payments": records})
}

// submitReferralRequest is the DTO for marketer referral submissions.
type submitReferralRequest struct {
	Candidate domain.Candidate `json:"candidate"`
	Amount    int64            `json:"amount"` // in cents
}

// SubmitReferralHandler records a marketer's candidate for admin review.
func (h *Handlers) SubmitReferralHandler(w http.ResponseWriter, r *http.Request) {
	marketerID, ok := GetCallerID(r.Context())
	if !ok {
		h.writeErrorCode(w, http.StatusUnauthorized, codeInvalidRequest, "caller identity missing")
		return
	}

	var req submitReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}

	referral, err := h.service.SubmitReferral(r.Context(), req.Candidate, req.Amount, marketerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"referral_id": referral.ID,
		"status":      referral.Status,
	})
}

// ApproveReferralHandler settles a pending referral atomically.
func (h *Handlers) ApproveReferralHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := GetCallerID(r.Context())
	if !ok {
		h.writeErrorCode(w, http.StatusUnauthorized, codeInvalidRequest, "caller identity missing")
		return
	}

	referralID, err := parseIDParam(r, "referralID")
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid referral id")
		return
	}

	result, err := h.service.ApproveReferral(r.Context(), referralID, reviewerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// rejectReferralRequest is the DTO for referral rejections.
type rejectReferralRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// RejectReferralHandler closes a pending referral with no side effects.
func (h *Handlers) RejectReferralHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := GetCallerID(r.Context())
	if !ok {
		h.writeErrorCode(w, http.StatusUnauthorized, codeInvalidRequest, "caller identity missing")
		return
	}

	referralID, err := parseIDParam(r, "referralID")
	if err != nil {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid referral id")
		return
	}

	var req rejectReferralRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
			return
		}
	}

	referral, err := h.service.RejectReferral(r.Context(), referralID, reviewerID, req.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"referral_id": referral.ID,
		"status":      referral.Status,
	})
}

// ListReferralsHandler returns the review queue for admins.
func (h *Handlers) ListReferralsHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.ReferralStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ReferralPending
	}
	switch status {
	case domain.ReferralPending, domain.ReferralApproved, domain.ReferralRejected:
	default:
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid status filter")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	referrals, err := h.service.ListReferrals(r.Context(), status, limit, offset)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if referrals == nil {
		referrals = []domain.PendingReferral{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"referrals": referrals})
}

// MarketerEarningsHandler returns the committed earnings summary for a
// marketer. Admins may read any marketer; marketers only their own.
func (h *Handlers) MarketerEarningsHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetCallerID(r.Context())
	if !ok {
		h.writeErrorCode(w, http.StatusUnauthorized, codeInvalidRequest, "caller identity missing")
		return
	}

	marketerID := chi.URLParam(r, "marketerID")
	if marketerID == "" {
		h.writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "invalid marketer id")
		return
	}
	if role, _ := r.Context().Value(callerRoleKey).(string); role != RoleAdmin && callerID != marketerID {
		h.writeErrorCode(w, http.StatusForbidden, codeInvalidRequest, "cannot read another marketer's earnings")
		return
	}

	summary, err := h.service.MarketerEarnings(r.Context(), marketerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}
