package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/errors"
)

// SettingsRepository reads and writes configuration snapshots. Rows are never
// updated in place: Reload inserts a new row and Latest returns the newest
// one, so a snapshot handed to an operation stays immutable.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

const settingsColumns = `
	id, approval_threshold, manager_threshold,
	sla_supervisor, sla_manager, sla_finance, sla_admin,
	workday_start_min, workday_end_min, workday_mask, created_at
`

// Latest returns the active settings snapshot.
func (r *SettingsRepository) Latest(ctx context.Context) (*Settings, error) {
	query := `
		SELECT ` + settingsColumns + `
		FROM settings
		ORDER BY id DESC
		LIMIT 1
	`

	st, err := scanSettings(r.db.QueryRow(ctx, query))
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeInternal, "no settings row exists; run migrations")
	}
	return st, err
}

// Reload inserts a new snapshot that takes effect for operations started
// after this call. In-flight requests keep the chain stamped at submission.
func (r *SettingsRepository) Reload(ctx context.Context, st *Settings) error {
	query := `
		INSERT INTO settings
		    (approval_threshold, manager_threshold,
		     sla_supervisor, sla_manager, sla_finance, sla_admin,
		     workday_start_min, workday_end_min, workday_mask)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		st.ApprovalThreshold,
		st.ManagerThreshold,
		st.SLASupervisor,
		st.SLAManager,
		st.SLAFinance,
		st.SLAAdmin,
		st.WorkdayStartMin,
		st.WorkdayEndMin,
		st.WorkdayMask,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert settings snapshot")
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type settingsScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row settingsScanner) (*Settings, error) {
	st := &Settings{}
	err := row.Scan(
		&st.ID,
		&st.ApprovalThreshold,
		&st.ManagerThreshold,
		&st.SLASupervisor,
		&st.SLAManager,
		&st.SLAFinance,
		&st.SLAAdmin,
		&st.WorkdayStartMin,
		&st.WorkdayEndMin,
		&st.WorkdayMask,
		&st.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}
