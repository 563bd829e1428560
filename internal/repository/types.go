package repository

import "time"

// ── Roles ────────────────────────────────────────────────────────────────────

const (
	RoleStaff      = "staff"
	RoleSupervisor = "supervisor"
	RoleManager    = "manager"
	RoleFinance    = "finance"
	RoleAdmin      = "admin"
)

// ── Request lifecycle ────────────────────────────────────────────────────────

const (
	RequestStatusDraft     = "draft"
	RequestStatusSubmitted = "submitted"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusCompleted = "completed"
)

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// RequiredLevel is one entry in a request's approval chain, stamped at
// submission and stored as JSONB on the request row.
type RequiredLevel struct {
	Level int    `json:"level"`
	Role  string `json:"role"`
}

// Request is a monetary approval request. Amount is in minor currency units
// (two implied decimals). Chain is set when the request is submitted and
// never rewritten afterwards.
type Request struct {
	ID            string
	RequestNumber string
	RequesterID   string
	DepartmentID  *string
	Amount        int64
	Description   string
	Status        string // draft | submitted | approved | rejected | completed
	CurrentLevel  int
	Chain         []RequiredLevel
	SubmittedAt   *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChainRole returns the role required at the given 1-based level, or "" when
// the level is outside the chain.
func (r *Request) ChainRole(level int) string {
	for _, rl := range r.Chain {
		if rl.Level == level {
			return rl.Role
		}
	}
	return ""
}

// Approval is one decision slot in a request's chain. At most one row exists
// per (request, level); CreatedAt is the pending-since instant the SLA
// monitor measures from.
type Approval struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"request_id"`
	ApproverID *string    `json:"approver_id"`
	Level      int        `json:"level"`
	Role       string     `json:"role"`
	Status     string     `json:"status"` // pending | approved | rejected
	Notes      *string    `json:"notes"`
	ApprovedAt *time.Time `json:"approved_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PendingApproval joins a pending approval with the request fields the SLA
// monitor and approver inbox need.
type PendingApproval struct {
	Approval
	RequestNumber string
	RequesterID   string
	Amount        int64
	CurrentLevel  int
	SubmittedAt   *time.Time
}

// ── Settings ─────────────────────────────────────────────────────────────────

// Settings is one immutable configuration snapshot. Reload inserts a new row;
// the engine always reads the latest row once per operation. Thresholds are
// in minor currency units, SLAs in minutes, workday bounds in minutes from
// midnight, WorkdayMask a bitmask indexed by time.Weekday.
type Settings struct {
	ID                int64     `json:"id"`
	ApprovalThreshold int64     `json:"approval_threshold"`
	ManagerThreshold  int64     `json:"manager_threshold"` // optional lower tier; 0 = unset
	SLASupervisor     int       `json:"sla_supervisor"`
	SLAManager        int       `json:"sla_manager"`
	SLAFinance        int       `json:"sla_finance"`
	SLAAdmin          int       `json:"sla_admin"` // 0 = fall back to SLAManager
	WorkdayStartMin   int       `json:"workday_start_min"`
	WorkdayEndMin     int       `json:"workday_end_min"`
	WorkdayMask       int       `json:"workday_mask"`
	CreatedAt         time.Time `json:"created_at"`
}

// DefaultWorkdayMask covers Monday through Friday.
const DefaultWorkdayMask = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday |
	1<<time.Thursday | 1<<time.Friday

// SLAForRole returns the SLA minutes configured for a role. Admin falls back
// to the manager SLA when no explicit value is configured; unknown roles get
// the manager SLA as well.
func (s *Settings) SLAForRole(role string) int {
	switch role {
	case RoleSupervisor:
		return s.SLASupervisor
	case RoleManager:
		return s.SLAManager
	case RoleFinance:
		return s.SLAFinance
	case RoleAdmin:
		if s.SLAAdmin > 0 {
			return s.SLAAdmin
		}
		return s.SLAManager
	}
	return s.SLAManager
}

// IsWorkday reports whether t falls on a configured working day.
func (s *Settings) IsWorkday(t time.Time) bool {
	mask := s.WorkdayMask
	if mask == 0 {
		mask = DefaultWorkdayMask
	}
	return mask&(1<<t.Weekday()) != 0
}

// ── Notifications & audit ────────────────────────────────────────────────────

// Notification is a persisted message for one user. Read-state tracking is
// owned by the delivery side; the engine only creates rows.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is one immutable record of an action taken on a request.
type AuditEntry struct {
	ID           string                 `json:"id"`
	RequestID    string                 `json:"request_id"`
	ApprovalID   *string                `json:"approval_id"`
	Action       string                 `json:"action"` // submitted | approved | rejected | completed | sla_breach
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before"`
	StatusAfter  *string                `json:"status_after"`
	Metadata     map[string]interface{} `json:"metadata"`
}
