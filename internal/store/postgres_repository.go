/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL queries for memberships, payment
 * records, pending referrals, and commission credits.
 *
 * The two financial mutations (ApplyPayment, ApproveReferralAtomic) run as
 * single database transactions with the affected rows locked FOR UPDATE, so
 * a crash or a concurrent caller can never observe partial effects. The
 * commission_credits table carries a UNIQUE constraint on referral_id, which
 * backs the at-most-one-credit-per-referral guarantee independently of the
 * transactional flow.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models and error taxonomy.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iheykal/maandhise-sub000/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const membershipColumns = `id, subject_id, full_name, phone, monthly_fee, valid_until, next_payment_due, cancelled, created_at, updated_at`

func scanMembership(row pgx.Row) (*domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(
		&m.ID,
		&m.SubjectID,
		&m.FullName,
		&m.Phone,
		&m.MonthlyFee,
		&m.ValidUntil,
		&m.NextPaymentDue,
		&m.Cancelled,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMembershipByID retrieves a membership by its ID.
func (r *PostgresRepository) FindMembershipByID(ctx context.Context, membershipID uuid.UUID) (*domain.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1`
	m, err := scanMembership(r.db.QueryRow(ctx, query, membershipID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return m, nil
}

// ApplyPayment applies a payment to a membership inside one transaction. The
// membership row is locked, the months math is evaluated against the locked
// row's fee and expiry, and the payment record insert plus membership update
// commit together or not at all.
func (r *PostgresRepository) ApplyPayment(ctx context.Context, membershipID uuid.UUID, params ApplyPaymentParams) (*domain.Membership, *domain.PaymentRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	membership, record, err := applyPaymentTx(ctx, tx, membershipID, params)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapCommitError(err)
	}
	return membership, record, nil
}

// applyPaymentTx performs the payment application steps against an open
// transaction. It is shared by ApplyPayment and ApproveReferralAtomic so the
// direct payment path and the referral settlement path can never diverge.
func applyPaymentTx(ctx context.Context, tx pgx.Tx, membershipID uuid.UUID, params ApplyPaymentParams) (*domain.Membership, *domain.PaymentRecord, error) {
	// 1. Lock the membership row so concurrent payments serialize.
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1 FOR UPDATE`
	membership, err := scanMembership(tx.QueryRow(ctx, query, membershipID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrMembershipNotFound
		}
		return nil, nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	// 2. Evaluate the months math against the locked row.
	var months int
	switch params.Mode {
	case ModeStandard:
		months = 1
	case ModeFlexible:
		months = domain.MonthsGranted(params.Amount, membership.MonthlyFee)
		if months < params.MinMonths || months > params.MaxMonths {
			return nil, nil, domain.ErrAmountOutOfRange
		}
	default:
		return nil, nil, fmt.Errorf("unknown payment mode %q", params.Mode)
	}

	newValidUntil := domain.ExtendValidUntil(params.Now, membership.ValidUntil, months)
	nextDue := newValidUntil
	if params.Mode == ModeStandard {
		nextDue = domain.NextDueAfterStandard(newValidUntil)
	}

	// 3. Move the validity window forward.
	updateQuery := `
		UPDATE memberships
		SET valid_until = $2, next_payment_due = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery, membership.ID, newValidUntil, nextDue, params.Now); err != nil {
		return nil, nil, fmt.Errorf("failed to update membership validity: %w", err)
	}

	// 4. Append the immutable payment record with the post-payment snapshot.
	record := &domain.PaymentRecord{
		ID:              uuid.New(),
		MembershipID:    membership.ID,
		PaidAt:          params.Now,
		Amount:          params.Amount,
		Method:          params.Method,
		TransactionID:   params.TransactionID,
		MonthsGranted:   months,
		ValidUntilAfter: newValidUntil,
	}
	insertQuery := `
		INSERT INTO payment_records (id, membership_id, paid_at, amount, method, transaction_id, months_granted, valid_until_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, insertQuery,
		record.ID,
		record.MembershipID,
		record.PaidAt,
		record.Amount,
		record.Method,
		record.TransactionID,
		record.MonthsGranted,
		record.ValidUntilAfter,
	); err != nil {
		return nil, nil, fmt.Errorf("failed to insert payment record: %w", err)
	}

	membership.ValidUntil = newValidUntil
	membership.NextPaymentDue = nextDue
	membership.UpdatedAt = params.Now
	return membership, record, nil
}

// ListPaymentsByMembershipID returns the payment history in insertion order.
func (r *PostgresRepository) ListPaymentsByMembershipID(ctx context.Context, membershipID uuid.UUID) ([]domain.PaymentRecord, error) {
	query := `
		SELECT id, membership_id, paid_at, amount, method, transaction_id, months_granted, valid_until_after
		FROM payment_records
		WHERE membership_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.db.Query(ctx, query, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PaymentRecord
	for rows.Next() {
		var rec domain.PaymentRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.MembershipID,
			&rec.PaidAt,
			&rec.Amount,
			&rec.Method,
			&rec.TransactionID,
			&rec.MonthsGranted,
			&rec.ValidUntilAfter,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindMembershipsDueBetween returns non-cancelled memberships whose next
// payment marker falls inside the window. Used by the reminder job.
func (r *PostgresRepository) FindMembershipsDueBetween(ctx context.Context, from, until time.Time) ([]domain.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE cancelled = FALSE AND next_payment_due >= $1 AND next_payment_due <= $2
		ORDER BY next_payment_due ASC
	`
	rows, err := r.db.Query(ctx, query, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}
	return memberships, rows.Err()
}

const referralColumns = `id, full_name, phone, id_number, location, photo_ref, amount, submitted_by, status, reviewed_by, reviewed_at, rejection_reason, membership_id, created_at, updated_at`

func scanReferral(row pgx.Row) (*domain.PendingReferral, error) {
	var ref domain.PendingReferral
	err := row.Scan(
		&ref.ID,
		&ref.Candidate.FullName,
		&ref.Candidate.Phone,
		&ref.Candidate.IDNumber,
		&ref.Candidate.Location,
		&ref.Candidate.PhotoRef,
		&ref.Amount,
		&ref.SubmittedBy,
		&ref.Status,
		&ref.ReviewedBy,
		&ref.ReviewedAt,
		&ref.RejectionReason,
		&ref.MembershipID,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// CreatePendingReferral persists a newly submitted referral.
func (r *PostgresRepository) CreatePendingReferral(ctx context.Context, referral *domain.PendingReferral) error {
	query := `
		INSERT INTO pending_referrals (id, full_name, phone, id_number, location, photo_ref, amount, submitted_by, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`
	_, err := r.db.Exec(ctx, query,
		referral.ID,
		referral.Candidate.FullName,
		referral.Candidate.Phone,
		referral.Candidate.IDNumber,
		referral.Candidate.Location,
		referral.Candidate.PhotoRef,
		referral.Amount,
		referral.SubmittedBy,
		referral.Status,
		referral.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending referral: %w", err)
	}
	return nil
}

// FindReferralByID retrieves a referral by its ID.
func (r *PostgresRepository) FindReferralByID(ctx context.Context, referralID uuid.UUID) (*domain.PendingReferral, error) {
	query := `SELECT ` + referralColumns + ` FROM pending_referrals WHERE id = $1`
	ref, err := scanReferral(r.db.QueryRow(ctx, query, referralID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReferralNotFound
		}
		return nil, err
	}
	return ref, nil
}

// ListReferralsByStatus returns referrals in a given review state, newest first.
func (r *PostgresRepository) ListReferralsByStatus(ctx context.Context, status domain.ReferralStatus, limit, offset int) ([]domain.PendingReferral, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + referralColumns + `
		FROM pending_referrals
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var referrals []domain.PendingReferral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *ref)
	}
	return referrals, rows.Err()
}

// ApproveReferralAtomic promotes a pending referral into an active membership
// plus a commission credit as one transaction.
func (r *PostgresRepository) ApproveReferralAtomic(ctx context.Context, referralID uuid.UUID, params ApproveReferralParams) (*ApproveReferralResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the referral row and re-check that it is still pending. A
	//    concurrent approval that committed first is observed here as a
	//    terminal status, never as a second settlement.
	query := `SELECT ` + referralColumns + ` FROM pending_referrals WHERE id = $1 FOR UPDATE`
	referral, err := scanReferral(tx.QueryRow(ctx, query, referralID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to lock referral: %w", err)
	}
	if referral.Status != domain.ReferralPending {
		return nil, domain.ErrAlreadyReviewed
	}

	// 2. Resolve or create the candidate's membership by phone.
	membershipID, err := resolveMembershipTx(ctx, tx, referral.Candidate, params)
	if err != nil {
		return nil, err
	}

	// 3. Apply the referral amount as a flexible payment through the shared
	//    payment path.
	membership, payment, err := applyPaymentTx(ctx, tx, membershipID, ApplyPaymentParams{
		Now:       params.Now,
		Amount:    referral.Amount,
		Method:    domain.MethodMobileMoney,
		Mode:      ModeFlexible,
		MinMonths: params.MinMonths,
		MaxMonths: params.MaxMonths,
	})
	if err != nil {
		return nil, err
	}

	// 4. Credit the marketer exactly once. The UNIQUE(referral_id)
	//    constraint rejects a duplicate even if the status guard were ever
	//    bypassed.
	credit := &domain.CommissionCredit{
		ID:         uuid.New(),
		MarketerID: referral.SubmittedBy,
		ReferralID: referral.ID,
		Amount:     domain.CommissionFor(referral.Amount, params.CommissionRateBps),
		CreditedAt: params.Now,
	}
	if err := insertCommissionCreditTx(ctx, tx, credit); err != nil {
		return nil, err
	}

	// 5. Mark the referral approved.
	updateQuery := `
		UPDATE pending_referrals
		SET status = $2, reviewed_by = $3, reviewed_at = $4, membership_id = $5, updated_at = $4
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery, referral.ID, domain.ReferralApproved, params.ReviewerID, params.Now, membership.ID); err != nil {
		return nil, fmt.Errorf("failed to mark referral approved: %w", err)
	}

	// 6. Commit all four effects as one unit.
	if err := tx.Commit(ctx); err != nil {
		return nil, mapCommitError(err)
	}

	referral.Status = domain.ReferralApproved
	referral.ReviewedBy = &params.ReviewerID
	reviewedAt := params.Now
	referral.ReviewedAt = &reviewedAt
	referral.MembershipID = &membership.ID
	referral.UpdatedAt = params.Now

	return &ApproveReferralResult{
		Referral:   referral,
		Membership: membership,
		Payment:    payment,
		Credit:     credit,
	}, nil
}

// resolveMembershipTx finds the candidate's membership by phone or creates a
// fresh one whose validity starts now. The new row is part of the enclosing
// transaction and disappears if settlement later fails.
func resolveMembershipTx(ctx context.Context, tx pgx.Tx, candidate domain.Candidate, params ApproveReferralParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM memberships WHERE phone = $1`, candidate.Phone).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to resolve candidate membership: %w", err)
	}

	id = uuid.New()
	insertQuery := `
		INSERT INTO memberships (id, subject_id, full_name, phone, monthly_fee, valid_until, next_payment_due, cancelled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, FALSE, $7, $7)
	`
	// The candidate has no platform identity yet; the phone number doubles as
	// the external subject id until onboarding links a real one.
	if _, err := tx.Exec(ctx, insertQuery, id, candidate.Phone, candidate.FullName, candidate.Phone, params.MonthlyFeeCents, params.Now, params.Now); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create candidate membership: %w", err)
	}
	return id, nil
}

// RejectReferral marks a pending referral rejected. The status predicate in
// the UPDATE makes the transition race-safe: a referral that is no longer
// pending matches zero rows.
func (r *PostgresRepository) RejectReferral(ctx context.Context, referralID uuid.UUID, reviewerID string, reason *string, reviewedAt time.Time) (*domain.PendingReferral, error) {
	query := `
		UPDATE pending_referrals
		SET status = $2, reviewed_by = $3, reviewed_at = $4, rejection_reason = $5, updated_at = $4
		WHERE id = $1 AND status = $6
		RETURNING ` + referralColumns + `
	`
	ref, err := scanReferral(r.db.QueryRow(ctx, query, referralID, domain.ReferralRejected, reviewerID, reviewedAt, reason, domain.ReferralPending))
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to reject referral: %w", err)
	}

	// Zero rows matched: distinguish a missing referral from one already
	// reviewed.
	existing, findErr := r.FindReferralByID(ctx, referralID)
	if findErr != nil {
		return nil, findErr
	}
	if existing.Status != domain.ReferralPending {
		return nil, domain.ErrAlreadyReviewed
	}
	return nil, domain.ErrConcurrentModification
}

// CreateCommissionCredit appends a credit outside of referral settlement.
// Exposed for administrative corrections; the same duplicate guard applies.
func (r *PostgresRepository) CreateCommissionCredit(ctx context.Context, credit *domain.CommissionCredit) error {
	return insertCommissionCreditTx(ctx, r.db, credit)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertCommissionCreditTx(ctx context.Context, db execer, credit *domain.CommissionCredit) error {
	query := `
		INSERT INTO commission_credits (id, marketer_id, referral_id, amount, credited_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.Exec(ctx, query, credit.ID, credit.MarketerID, credit.ReferralID, credit.Amount, credit.CreditedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateCredit
		}
		return fmt.Errorf("failed to insert commission credit: %w", err)
	}
	return nil
}

// GetMarketerEarnings aggregates committed credits and approved referrals
// for one marketer. Only committed rows are visible, never in-flight ones.
func (r *PostgresRepository) GetMarketerEarnings(ctx context.Context, marketerID string) (*domain.MarketerEarningsSummary, error) {
	summary := &domain.MarketerEarningsSummary{MarketerID: marketerID}
	query := `
		SELECT
			COALESCE((SELECT SUM(amount) FROM commission_credits WHERE marketer_id = $1), 0),
			(SELECT COUNT(*) FROM pending_referrals WHERE submitted_by = $1 AND status = $2)
	`
	err := r.db.QueryRow(ctx, query, marketerID, domain.ReferralApproved).Scan(&summary.TotalEarnings, &summary.ApprovedCustomerCount)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// mapCommitError converts serialization and deadlock aborts into the
// engine's concurrency error so callers know a full retry is safe.
func mapCommitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return domain.ErrConcurrentModification
		}
	}
	return fmt.Errorf("failed to commit transaction: %w", err)
}
