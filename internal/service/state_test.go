package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finflow-io/be-spend-approvals/internal/errors"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

func fullChain() []repository.RequiredLevel {
	return []repository.RequiredLevel{
		{Level: 1, Role: repository.RoleSupervisor},
		{Level: 2, Role: repository.RoleManager},
		{Level: 3, Role: repository.RoleFinance},
		{Level: 4, Role: repository.RoleAdmin},
	}
}

func TestValidateSubmit(t *testing.T) {
	tests := []struct {
		status  string
		wantErr errors.Code
	}{
		{repository.RequestStatusDraft, ""},
		{repository.RequestStatusSubmitted, errors.ErrCodeInvalidTransition},
		{repository.RequestStatusApproved, errors.ErrCodeInvalidTransition},
		{repository.RequestStatusRejected, errors.ErrCodeInvalidTransition},
		{repository.RequestStatusCompleted, errors.ErrCodeInvalidTransition},
	}

	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			err := validateSubmit(&repository.Request{Status: tc.status})
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tc.wantErr, errors.CodeOf(err))
			}
		})
	}
}

func TestValidateDecision(t *testing.T) {
	base := func() *repository.Request {
		return &repository.Request{
			ID:           "req-1",
			RequesterID:  "alice",
			Status:       repository.RequestStatusSubmitted,
			CurrentLevel: 2,
			Chain:        fullChain(),
		}
	}
	pendingAt := func(level int) *repository.Approval {
		return &repository.Approval{RequestID: "req-1", Level: level, Status: repository.ApprovalStatusPending}
	}
	decidedAt := func(level int, status string) *repository.Approval {
		return &repository.Approval{RequestID: "req-1", Level: level, Status: status}
	}

	tests := []struct {
		name     string
		mutate   func(*repository.Request)
		ap       *repository.Approval
		approver string
		wantErr  errors.Code
	}{
		{
			name:     "decision at current pending level is valid",
			mutate:   func(*repository.Request) {},
			ap:       pendingAt(2),
			approver: "bob",
		},
		{
			name:     "decision on completed request",
			mutate:   func(r *repository.Request) { r.Status = repository.RequestStatusCompleted },
			ap:       pendingAt(2),
			approver: "bob",
			wantErr:  errors.ErrCodeInvalidTransition,
		},
		{
			name:     "decision on draft request",
			mutate:   func(r *repository.Request) { r.Status = repository.RequestStatusDraft },
			ap:       pendingAt(1),
			approver: "bob",
			wantErr:  errors.ErrCodeInvalidTransition,
		},
		{
			name:     "decision at an already-approved earlier level is stale",
			mutate:   func(*repository.Request) {},
			ap:       decidedAt(1, repository.ApprovalStatusApproved),
			approver: "bob",
			wantErr:  errors.ErrCodeStaleLevel,
		},
		{
			name:     "decision at a future level is stale",
			mutate:   func(*repository.Request) {},
			ap:       pendingAt(3),
			approver: "bob",
			wantErr:  errors.ErrCodeStaleLevel,
		},
		{
			name: "racing loser after a rejection that terminated the request",
			mutate: func(r *repository.Request) {
				r.Status = repository.RequestStatusRejected
			},
			ap:       decidedAt(2, repository.ApprovalStatusRejected),
			approver: "bob",
			wantErr:  errors.ErrCodeStaleLevel,
		},
		{
			name: "racing loser after a final-level approval",
			mutate: func(r *repository.Request) {
				r.Status = repository.RequestStatusApproved
				r.CurrentLevel = 4
			},
			ap:       decidedAt(4, repository.ApprovalStatusApproved),
			approver: "bob",
			wantErr:  errors.ErrCodeStaleLevel,
		},
		{
			name:     "requester cannot approve their own request",
			mutate:   func(*repository.Request) {},
			ap:       pendingAt(2),
			approver: "alice",
			wantErr:  errors.ErrCodeSelfApproval,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(req)
			err := validateDecision(req, tc.ap, tc.approver)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tc.wantErr, errors.CodeOf(err))
			}
		})
	}
}

func TestValidateComplete(t *testing.T) {
	assert.NoError(t, validateComplete(&repository.Request{Status: repository.RequestStatusApproved}))

	for _, status := range []string{
		repository.RequestStatusDraft,
		repository.RequestStatusSubmitted,
		repository.RequestStatusRejected,
		repository.RequestStatusCompleted,
	} {
		err := validateComplete(&repository.Request{Status: status})
		assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err), "status %s", status)
	}
}

func TestNextLevel(t *testing.T) {
	chain := fullChain()

	next, final := nextLevel(chain, 1)
	assert.False(t, final)
	assert.Equal(t, 2, next)

	next, final = nextLevel(chain, 3)
	assert.False(t, final)
	assert.Equal(t, 4, next)

	_, final = nextLevel(chain, 4)
	assert.True(t, final)

	_, final = nextLevel([]repository.RequiredLevel{{Level: 1, Role: repository.RoleSupervisor}}, 1)
	assert.True(t, final, "single-level chain ends at level 1")
}
