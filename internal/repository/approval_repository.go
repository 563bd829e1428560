package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/errors"
)

// ApprovalRepository is the ledger of per-level approval decisions. The
// unique (request_id, level) constraint plus the status='pending' guard on
// Decide give the first-decision-wins semantics the engine relies on.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, request_id, approver_id, level, role, status,
	notes, approved_at, created_at, updated_at
`

// OpenLevel inserts the pending approval row for a level. Violating the
// (request_id, level) uniqueness surfaces as an error rather than a second row.
func (r *ApprovalRepository) OpenLevel(ctx context.Context, tx pgx.Tx, requestID string, level int, role string) (*Approval, error) {
	query := `
		INSERT INTO approvals (request_id, level, role, status)
		VALUES ($1, $2, $3, 'pending'::approval_status)
		RETURNING ` + approvalColumns

	ap, err := scanApproval(tx.QueryRow(ctx, query, requestID, level, role))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open approval level")
	}
	return ap, nil
}

// GetByRequestLevel returns the approval row at (requestID, level).
func (r *ApprovalRepository) GetByRequestLevel(ctx context.Context, requestID string, level int) (*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE request_id = $1 AND level = $2`

	ap, err := scanApproval(r.db.QueryRow(ctx, query, requestID, level))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", requestID)
	}
	return ap, err
}

// GetByRequestLevelTx reads the approval row at (requestID, level) inside an
// open transaction, so it observes any decision committed while the caller
// waited on the request row lock.
func (r *ApprovalRepository) GetByRequestLevelTx(ctx context.Context, tx pgx.Tx, requestID string, level int) (*Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE request_id = $1 AND level = $2`

	ap, err := scanApproval(tx.QueryRow(ctx, query, requestID, level))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", requestID)
	}
	return ap, err
}

// ListByRequest returns all approval rows for a request ordered by level.
func (r *ApprovalRepository) ListByRequest(ctx context.Context, requestID string) ([]*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE request_id = $1
		ORDER BY level ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, ap)
	}
	return approvals, rows.Err()
}

// Decide records a decision with a compare-and-swap on status: only a row
// still pending is updated. Zero rows affected means another decision already
// landed, reported as StaleLevel.
func (r *ApprovalRepository) Decide(ctx context.Context, tx pgx.Tx, id, status, approverID string, notes *string, decidedAt time.Time) error {
	query := `
		UPDATE approvals
		SET status      = $2::approval_status,
		    approver_id = $3,
		    notes       = $4,
		    approved_at = $5,
		    updated_at  = NOW()
		WHERE id = $1
		  AND status = 'pending'::approval_status
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, status, approverID, notes, decidedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeStaleLevel, "approval is no longer pending")
	}
	return err
}

// Assign records the pre-assigned approver for a pending level. Best-effort:
// an already-decided row is left alone.
func (r *ApprovalRepository) Assign(ctx context.Context, id, approverID string) error {
	query := `
		UPDATE approvals
		SET approver_id = $2,
		    updated_at  = NOW()
		WHERE id = $1
		  AND status = 'pending'::approval_status
	`

	_, err := r.db.Exec(ctx, query, id, approverID)
	return err
}

// ListPendingAtCurrentLevel returns every pending approval sitting at its
// request's current level, oldest first. This is the SLA monitor's scan set.
func (r *ApprovalRepository) ListPendingAtCurrentLevel(ctx context.Context) ([]*PendingApproval, error) {
	query := `
		SELECT a.id, a.request_id, a.approver_id, a.level, a.role, a.status,
		       a.notes, a.approved_at, a.created_at, a.updated_at,
		       r.request_number, r.requester_id, r.amount, r.current_level, r.submitted_at
		FROM approvals a
		JOIN requests r ON r.id = a.request_id
		WHERE a.status = 'pending'
		  AND r.status = 'submitted'
		  AND a.level = r.current_level
		ORDER BY a.created_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending approvals")
	}
	defer rows.Close()

	return scanPendingRows(rows)
}

// ListPendingForApprover returns the inbox for one approver: pending rows
// assigned to them, plus unassigned rows at levels requiring a role they hold.
func (r *ApprovalRepository) ListPendingForApprover(ctx context.Context, approverID string, roles []string) ([]*PendingApproval, error) {
	query := `
		SELECT a.id, a.request_id, a.approver_id, a.level, a.role, a.status,
		       a.notes, a.approved_at, a.created_at, a.updated_at,
		       r.request_number, r.requester_id, r.amount, r.current_level, r.submitted_at
		FROM approvals a
		JOIN requests r ON r.id = a.request_id
		WHERE a.status = 'pending'
		  AND r.status = 'submitted'
		  AND a.level = r.current_level
		  AND (a.approver_id = $1 OR (a.approver_id IS NULL AND a.role = ANY($2)))
		ORDER BY a.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approverID, roles)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	return scanPendingRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row approvalScanner) (*Approval, error) {
	ap := &Approval{}
	err := row.Scan(
		&ap.ID,
		&ap.RequestID,
		&ap.ApproverID,
		&ap.Level,
		&ap.Role,
		&ap.Status,
		&ap.Notes,
		&ap.ApprovedAt,
		&ap.CreatedAt,
		&ap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ap, nil
}

func scanPendingRows(rows pgx.Rows) ([]*PendingApproval, error) {
	var pending []*PendingApproval
	for rows.Next() {
		p := &PendingApproval{}
		err := rows.Scan(
			&p.ID,
			&p.RequestID,
			&p.ApproverID,
			&p.Level,
			&p.Role,
			&p.Status,
			&p.Notes,
			&p.ApprovedAt,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.RequestNumber,
			&p.RequesterID,
			&p.Amount,
			&p.CurrentLevel,
			&p.SubmittedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending approval")
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
