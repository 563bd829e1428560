package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/errors"
)

// AuditRepository appends and reads immutable audit log entries for requests.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. Append is the only mutation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO request_audit_log
		    (request_id, approval_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.RequestID,
		entry.ApprovalID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByRequestID returns the audit trail for a request, oldest first.
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, request_id, approval_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM request_audit_log
		WHERE request_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.ApprovalID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
