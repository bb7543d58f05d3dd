/**
 * @description
 * This file defines the engine's error taxonomy as sentinel errors. Both the
 * application services and the store implementations return these values so
 * the HTTP boundary can map them with errors.Is regardless of which layer
 * detected the condition.
 *
 * Taxonomy:
 * - Validation: ErrInvalidAmount, ErrAmountOutOfRange — rejected before any
 *   store access; the caller corrects the input and retries.
 * - State: ErrMembershipNotFound, ErrReferralNotFound, ErrAlreadyReviewed —
 *   the operation no longer makes sense; re-query current state.
 * - Concurrency: ErrConcurrentModification, ErrDuplicateCredit — a detected
 *   race; nothing was applied and the whole operation may be retried.
 * - Infrastructure: ErrPersistenceFailure — store unavailable or the
 *   transaction aborted; no partial effects are left behind.
 */

package domain

import "errors"

var (
	ErrInvalidAmount          = errors.New("amount must be a positive value")
	ErrAmountOutOfRange       = errors.New("amount is outside the allowed range")
	ErrInvalidPaymentMethod   = errors.New("unsupported payment method")
	ErrMembershipNotFound     = errors.New("membership not found")
	ErrReferralNotFound       = errors.New("referral not found")
	ErrAlreadyReviewed        = errors.New("referral has already been reviewed")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrDuplicateCredit        = errors.New("commission already credited for this referral")
	ErrPersistenceFailure     = errors.New("persistence failure")
)
