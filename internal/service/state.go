package service

import (
	"github.com/finflow-io/be-spend-approvals/internal/errors"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

// Pure lifecycle checks. Kept free of storage so the transition rules can be
// tested exhaustively without a database; callers run them while holding the
// request row lock.

// validateSubmit checks that a request may move from draft to submitted.
func validateSubmit(req *repository.Request) error {
	if req.Status != repository.RequestStatusDraft {
		return errors.InvalidTransition(req.Status, repository.RequestStatusSubmitted)
	}
	return nil
}

// validateDecision checks every precondition of a decision at a level except
// role membership, which requires the directory. ap is the approval row at
// that level, re-read under the request row lock: a level someone already
// decided is StaleLevel even when the winning decision also terminated the
// request, so the no-longer-pending check runs before the status check.
func validateDecision(req *repository.Request, ap *repository.Approval, approverID string) error {
	if ap.Status != repository.ApprovalStatusPending {
		return errors.StaleLevel(req.ID, ap.Level)
	}
	if req.Status != repository.RequestStatusSubmitted {
		return errors.InvalidTransition(req.Status, "decided")
	}
	if ap.Level != req.CurrentLevel {
		return errors.StaleLevel(req.ID, ap.Level)
	}
	if approverID == req.RequesterID {
		return errors.SelfApproval()
	}
	return nil
}

// validateComplete checks that a request may be closed out by the external
// disbursement step. Only approved requests complete.
func validateComplete(req *repository.Request) error {
	if req.Status != repository.RequestStatusApproved {
		return errors.InvalidTransition(req.Status, repository.RequestStatusCompleted)
	}
	return nil
}

// nextLevel returns the level after the given one, or final=true when the
// given level is the last in the chain.
func nextLevel(chain []repository.RequiredLevel, level int) (next int, final bool) {
	if level >= len(chain) {
		return 0, true
	}
	return level + 1, false
}
