package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/errors"
)

// RequestRepository handles request rows. Mutations that depend on
// current_level run against a transaction holding the row lock acquired via
// GetForUpdate, so two callers can never double-advance a level.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, request_number, requester_id, department_id,
	amount, description, status, current_level, chain,
	submitted_at, completed_at, created_at, updated_at
`

// Create inserts a draft request.
func (r *RequestRepository) Create(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO requests
		    (request_number, requester_id, department_id, amount, description, status)
		VALUES ($1, $2, $3, $4, $5, 'draft'::request_status)
		RETURNING id, status, current_level, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.RequestNumber,
		req.RequesterID,
		req.DepartmentID,
		req.Amount,
		req.Description,
	).Scan(&req.ID, &req.Status, &req.CurrentLevel, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	return req, err
}

// GetForUpdate retrieves a request inside tx with its row locked until the
// transaction ends. Every mutating engine operation goes through this.
func (r *RequestRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	return req, err
}

// List returns requests filtered by optional status and requester, newest first.
func (r *RequestRepository) List(ctx context.Context, status, requesterID *string, limit int) ([]*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE ($1::request_status IS NULL OR status = $1::request_status)
		  AND ($2::text IS NULL OR requester_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, status, requesterID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requests")
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// MarkSubmitted stamps the chain, submitted_at and level 1 on submission.
func (r *RequestRepository) MarkSubmitted(ctx context.Context, tx pgx.Tx, id string, chain []RequiredLevel, submittedAt time.Time) error {
	chainJSON, err := json.Marshal(chain)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval chain")
	}

	query := `
		UPDATE requests
		SET status        = 'submitted'::request_status,
		    current_level = 1,
		    chain         = $2,
		    submitted_at  = $3,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err = tx.QueryRow(ctx, query, id, chainJSON, submittedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("request", id)
	}
	return err
}

// AdvanceLevel moves current_level forward after a non-final approval.
func (r *RequestRepository) AdvanceLevel(ctx context.Context, tx pgx.Tx, id string, nextLevel int) error {
	query := `
		UPDATE requests
		SET current_level = $2,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, nextLevel).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("request", id)
	}
	return err
}

// UpdateStatus sets the request status and optionally stamps completed_at.
func (r *RequestRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id, status string, completedAt *time.Time) error {
	query := `
		UPDATE requests
		SET status       = $2::request_status,
		    completed_at = COALESCE($3, completed_at),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, status, completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("request", id)
	}
	return err
}

// DeleteDraft removes a draft request. Drafts have no approvals yet, so the
// cascade is a no-op; non-draft requests are never deleted.
func (r *RequestRepository) DeleteDraft(ctx context.Context, id string) error {
	query := `DELETE FROM requests WHERE id = $1 AND status = 'draft'::request_status`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete request")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeConflict, "request is not a draft or does not exist")
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*Request, error) {
	req := &Request{}
	var chainJSON []byte

	err := row.Scan(
		&req.ID,
		&req.RequestNumber,
		&req.RequesterID,
		&req.DepartmentID,
		&req.Amount,
		&req.Description,
		&req.Status,
		&req.CurrentLevel,
		&chainJSON,
		&req.SubmittedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if chainJSON != nil {
		if err := json.Unmarshal(chainJSON, &req.Chain); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval chain")
		}
	}
	return req, nil
}
