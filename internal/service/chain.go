package service

import (
	"github.com/finflow-io/be-spend-approvals/internal/errors"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

// ResolveChain computes the ordered approval levels a request of the given
// amount must traverse under a settings snapshot. Pure and deterministic:
// identical inputs always yield the identical chain, which is what makes
// resubmission idempotent and the resolver trivially testable.
//
// Level 1 is always the supervisor. Amounts above the optional manager tier
// add the manager; amounts above the approval threshold take the full
// manager → finance → admin tail. The role ordering is fixed and never
// reordered or skipped.
//
// departmentID is accepted so a per-department policy can be introduced
// without changing the contract; the base configuration routes on amount only.
func ResolveChain(amount int64, departmentID string, st *repository.Settings) ([]repository.RequiredLevel, error) {
	if amount <= 0 {
		return nil, errors.InvalidAmount(amount)
	}

	roles := []string{repository.RoleSupervisor}

	if st.ManagerThreshold > 0 && amount > st.ManagerThreshold && amount <= st.ApprovalThreshold {
		roles = append(roles, repository.RoleManager)
	}
	if amount > st.ApprovalThreshold {
		roles = append(roles, repository.RoleManager, repository.RoleFinance, repository.RoleAdmin)
	}

	chain := make([]repository.RequiredLevel, len(roles))
	for i, role := range roles {
		chain[i] = repository.RequiredLevel{Level: i + 1, Role: role}
	}
	return chain, nil
}
