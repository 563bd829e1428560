package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/errors"
	"github.com/finflow-io/be-spend-approvals/internal/logger"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

// DirectoryInterface resolves role membership from the user directory service.
type DirectoryInterface interface {
	// HasRole reports whether the user holds the given role.
	HasRole(ctx context.Context, userID, role string) (bool, error)
	// UsersWithRole returns user IDs that hold the given role.
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	// UserRoles returns the roles a specific user holds.
	UserRoles(ctx context.Context, userID string) ([]string, error)
}

// Decision values accepted by Decide.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ApprovalService owns the request lifecycle: submission, per-level
// decisions and completion. Every mutation locks the request row first, so
// concurrent callers on the same request serialize and a level can never be
// advanced twice.
type ApprovalService struct {
	db           *database.DB
	requestRepo  *repository.RequestRepository
	approvalRepo *repository.ApprovalRepository
	settingsRepo *repository.SettingsRepository
	auditRepo    *repository.AuditRepository
	directory    DirectoryInterface
	dispatcher   *Dispatcher
	log          *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	db *database.DB,
	requestRepo *repository.RequestRepository,
	approvalRepo *repository.ApprovalRepository,
	settingsRepo *repository.SettingsRepository,
	auditRepo *repository.AuditRepository,
	directory DirectoryInterface,
	dispatcher *Dispatcher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		db:           db,
		requestRepo:  requestRepo,
		approvalRepo: approvalRepo,
		settingsRepo: settingsRepo,
		auditRepo:    auditRepo,
		directory:    directory,
		dispatcher:   dispatcher,
		log:          log,
	}
}

// ── Draft creation ────────────────────────────────────────────────────────────

// CreateRequestInput carries the fields a requester supplies for a new draft.
type CreateRequestInput struct {
	RequesterID  string
	DepartmentID *string
	Amount       int64
	Description  string
}

// CreateRequest validates input and inserts a draft request.
func (s *ApprovalService) CreateRequest(ctx context.Context, in *CreateRequestInput) (*repository.Request, error) {
	if in.RequesterID == "" {
		return nil, errors.InvalidInput("requester_id", "requester is required")
	}
	if in.Amount <= 0 {
		return nil, errors.InvalidAmount(in.Amount)
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, errors.InvalidInput("description", "description is required")
	}

	req := &repository.Request{
		RequestNumber: newRequestNumber(time.Now()),
		RequesterID:   in.RequesterID,
		DepartmentID:  in.DepartmentID,
		Amount:        in.Amount,
		Description:   in.Description,
	}
	if err := s.requestRepo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("request_number", req.RequestNumber).
		Int64("amount", req.Amount).
		Msg("Request created")

	return req, nil
}

// ── Submission ────────────────────────────────────────────────────────────────

// Submit moves a draft to submitted: resolves the approval chain from the
// current settings snapshot, stamps it on the request and opens the level-1
// pending approval, all in one transaction.
func (s *ApprovalService) Submit(ctx context.Context, requestID, actorID string) (*repository.Request, error) {
	settings, err := s.settingsRepo.Latest(ctx)
	if err != nil {
		return nil, err
	}

	var req *repository.Request
	var opened *repository.Approval

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err = s.requestRepo.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := validateSubmit(req); err != nil {
			return err
		}

		department := ""
		if req.DepartmentID != nil {
			department = *req.DepartmentID
		}
		chain, err := ResolveChain(req.Amount, department, settings)
		if err != nil {
			return err
		}
		if len(chain) == 0 {
			return errors.EmptyChain()
		}

		now := time.Now()
		if err := s.requestRepo.MarkSubmitted(ctx, tx, requestID, chain, now); err != nil {
			return err
		}

		opened, err = s.approvalRepo.OpenLevel(ctx, tx, requestID, 1, chain[0].Role)
		if err != nil {
			return err
		}

		req.Status = repository.RequestStatusSubmitted
		req.CurrentLevel = 1
		req.Chain = chain
		req.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	assignee := s.assignApprover(ctx, opened)

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:    requestID,
		ApprovalID:   &opened.ID,
		Action:       "submitted",
		PerformedBy:  actorID,
		StatusBefore: strPtr(repository.RequestStatusDraft),
		StatusAfter:  strPtr(repository.RequestStatusSubmitted),
		Metadata: map[string]interface{}{
			"chain_length":   len(req.Chain),
			"request_number": req.RequestNumber,
		},
	})

	s.dispatcher.LevelOpened(ctx, req, opened, assignee)

	s.log.Info().
		Str("request_id", requestID).
		Str("request_number", req.RequestNumber).
		Int("chain_length", len(req.Chain)).
		Msg("Request submitted")

	return req, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecideInput carries one approval decision.
type DecideInput struct {
	RequestID  string
	Level      int
	ApproverID string
	Decision   string // approve | reject
	Notes      *string
}

// DecisionOutcome reports where the request ended up after a decision.
type DecisionOutcome struct {
	RequestStatus string
	CurrentLevel  int
	Final         bool
}

// Decide records an approve or reject at a level and advances or terminates
// the request. Decisions on the same (request, level) serialize: the row
// lock plus the pending-only update guarantee the first decision wins and a
// racing second caller observes StaleLevel. StaleLevel is never worth
// retrying; the level has genuinely been decided.
func (s *ApprovalService) Decide(ctx context.Context, in *DecideInput) (*DecisionOutcome, error) {
	if in.Decision != DecisionApprove && in.Decision != DecisionReject {
		return nil, errors.InvalidInput("decision", "must be approve or reject")
	}
	if in.ApproverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver is required")
	}

	// Role check before taking the row lock: the directory call is a network
	// round trip and must not extend lock hold time.
	ap, err := s.approvalRepo.GetByRequestLevel(ctx, in.RequestID, in.Level)
	if err != nil {
		return nil, err
	}
	hasRole, err := s.directory.HasRole(ctx, in.ApproverID, ap.Role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check approver role")
	}
	if !hasRole {
		return nil, errors.Unauthorized(fmt.Sprintf("approver does not hold role %q", ap.Role))
	}

	var req *repository.Request
	var openedNext *repository.Approval
	outcome := &DecisionOutcome{}

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err = s.requestRepo.GetForUpdate(ctx, tx, in.RequestID)
		if err != nil {
			return err
		}
		// Re-read the level under the lock: the pre-lock row may have been
		// decided by a racing caller whose decision also terminated the request.
		cur, err := s.approvalRepo.GetByRequestLevelTx(ctx, tx, in.RequestID, in.Level)
		if err != nil {
			return err
		}
		if err := validateDecision(req, cur, in.ApproverID); err != nil {
			return err
		}

		now := time.Now()
		status := repository.ApprovalStatusApproved
		if in.Decision == DecisionReject {
			status = repository.ApprovalStatusRejected
		}
		if err := s.approvalRepo.Decide(ctx, tx, cur.ID, status, in.ApproverID, in.Notes, now); err != nil {
			return err
		}

		if in.Decision == DecisionReject {
			// Rejection at any level terminates the chain; no further rows.
			if err := s.requestRepo.UpdateStatus(ctx, tx, in.RequestID, repository.RequestStatusRejected, &now); err != nil {
				return err
			}
			outcome.RequestStatus = repository.RequestStatusRejected
			outcome.CurrentLevel = req.CurrentLevel
			outcome.Final = true
			return nil
		}

		next, final := nextLevel(req.Chain, in.Level)
		if final {
			if err := s.requestRepo.UpdateStatus(ctx, tx, in.RequestID, repository.RequestStatusApproved, nil); err != nil {
				return err
			}
			outcome.RequestStatus = repository.RequestStatusApproved
			outcome.CurrentLevel = req.CurrentLevel
			outcome.Final = true
			return nil
		}

		if err := s.requestRepo.AdvanceLevel(ctx, tx, in.RequestID, next); err != nil {
			return err
		}
		openedNext, err = s.approvalRepo.OpenLevel(ctx, tx, in.RequestID, next, req.ChainRole(next))
		if err != nil {
			return err
		}
		outcome.RequestStatus = repository.RequestStatusSubmitted
		outcome.CurrentLevel = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, req, ap, in, outcome, openedNext)
	return outcome, nil
}

// afterDecision handles the non-transactional tail of a decision: approver
// assignment for the next level, audit and notifications. All best-effort.
func (s *ApprovalService) afterDecision(
	ctx context.Context,
	req *repository.Request,
	ap *repository.Approval,
	in *DecideInput,
	outcome *DecisionOutcome,
	openedNext *repository.Approval,
) {
	action := "approved"
	if in.Decision == DecisionReject {
		action = "rejected"
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:    req.ID,
		ApprovalID:   &ap.ID,
		Action:       action,
		PerformedBy:  in.ApproverID,
		StatusBefore: strPtr(repository.RequestStatusSubmitted),
		StatusAfter:  strPtr(outcome.RequestStatus),
		Metadata: map[string]interface{}{
			"level":          in.Level,
			"request_number": req.RequestNumber,
		},
	})

	switch {
	case outcome.RequestStatus == repository.RequestStatusRejected:
		s.dispatcher.RequestResolved(ctx, req, repository.RequestStatusRejected, in.ApproverID)
	case outcome.RequestStatus == repository.RequestStatusApproved:
		s.dispatcher.RequestResolved(ctx, req, repository.RequestStatusApproved, in.ApproverID)
	case openedNext != nil:
		assignee := s.assignApprover(ctx, openedNext)
		req.CurrentLevel = outcome.CurrentLevel
		s.dispatcher.LevelOpened(ctx, req, openedNext, assignee)
	}

	s.log.Info().
		Str("request_id", req.ID).
		Int("level", in.Level).
		Str("decision", in.Decision).
		Str("status", outcome.RequestStatus).
		Msg("Decision recorded")
}

// ── Completion ────────────────────────────────────────────────────────────────

// Complete closes out an approved request once the external disbursement
// step has run. Only approved requests complete; anything else is an
// InvalidTransition.
func (s *ApprovalService) Complete(ctx context.Context, requestID, actorID string) (*repository.Request, error) {
	var req *repository.Request

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = s.requestRepo.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := validateComplete(req); err != nil {
			return err
		}

		now := time.Now()
		if err := s.requestRepo.UpdateStatus(ctx, tx, requestID, repository.RequestStatusCompleted, &now); err != nil {
			return err
		}
		req.Status = repository.RequestStatusCompleted
		req.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:    requestID,
		Action:       "completed",
		PerformedBy:  actorID,
		StatusBefore: strPtr(repository.RequestStatusApproved),
		StatusAfter:  strPtr(repository.RequestStatusCompleted),
	})
	s.dispatcher.RequestResolved(ctx, req, repository.RequestStatusCompleted, actorID)

	return req, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetRequest returns a request with its approval rows.
func (s *ApprovalService) GetRequest(ctx context.Context, requestID string) (*repository.Request, []*repository.Approval, error) {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	approvals, err := s.approvalRepo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, approvals, nil
}

// ListRequests returns requests filtered by optional status and requester.
func (s *ApprovalService) ListRequests(ctx context.Context, status, requesterID *string, limit int) ([]*repository.Request, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.requestRepo.List(ctx, status, requesterID, limit)
}

// PendingApprovals returns the approver's inbox: levels assigned to them
// plus unassigned levels matching a role they hold.
func (s *ApprovalService) PendingApprovals(ctx context.Context, approverID string) ([]*repository.PendingApproval, error) {
	roles, err := s.directory.UserRoles(ctx, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve approver roles")
	}
	if roles == nil {
		roles = []string{}
	}
	return s.approvalRepo.ListPendingForApprover(ctx, approverID, roles)
}

// AuditTrail returns the full audit trail for a request.
func (s *ApprovalService) AuditTrail(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	return s.auditRepo.GetByRequestID(ctx, requestID)
}

// DeleteDraft discards a draft request with no side effects.
func (s *ApprovalService) DeleteDraft(ctx context.Context, requestID string) error {
	return s.requestRepo.DeleteDraft(ctx, requestID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// assignApprover pre-assigns the first directory user holding the level's
// role. Best-effort: on lookup failure or an empty role the level stays
// unassigned and any holder of the role may decide.
func (s *ApprovalService) assignApprover(ctx context.Context, ap *repository.Approval) string {
	users, err := s.directory.UsersWithRole(ctx, ap.Role)
	if err != nil {
		s.log.Warn().Err(err).Str("role", ap.Role).Msg("Could not fetch users for role; level will be unassigned")
		return ""
	}
	if len(users) == 0 {
		return ""
	}
	if err := s.approvalRepo.Assign(ctx, ap.ID, users[0]); err != nil {
		s.log.Warn().Err(err).Str("approval_id", ap.ID).Msg("Failed to assign approver")
		return ""
	}
	ap.ApproverID = &users[0]
	return users[0]
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("request_id", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// newRequestNumber builds a human-readable unique request number,
// e.g. REQ-202608-1A2B3C4D.
func newRequestNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("REQ-%s-%s", now.Format("200601"), suffix)
}

func strPtr(s string) *string { return &s }
