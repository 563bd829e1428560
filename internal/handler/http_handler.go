package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/finflow-io/be-spend-approvals/internal/errors"
	"github.com/finflow-io/be-spend-approvals/internal/logger"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
	"github.com/finflow-io/be-spend-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service          *service.ApprovalService
	notificationRepo *repository.NotificationRepository
	settingsRepo     *repository.SettingsRepository
	log              *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	svc *service.ApprovalService,
	notificationRepo *repository.NotificationRepository,
	settingsRepo *repository.SettingsRepository,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		service:          svc,
		notificationRepo: notificationRepo,
		settingsRepo:     settingsRepo,
		log:              log,
	}
}

// actorID returns the acting user. Callers identify themselves with the
// X-User-ID header set by the gateway.
// TODO: derive the actor from the gateway JWT once the identity service
// exposes token introspection.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// CreateRequest handles draft creation.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DepartmentID *string `json:"department_id"`
		Amount       int64   `json:"amount"`
		Description  string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.service.CreateRequest(r.Context(), &service.CreateRequestInput{
		RequesterID:  actorID(r),
		DepartmentID: body.DepartmentID,
		Amount:       body.Amount,
		Description:  body.Description,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, requestResponse(req, nil))
}

// GetRequest returns one request with its approval rows.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, approvals, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestResponse(req, approvals))
}

// ListRequests returns requests filtered by optional status and requester.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var status, requester *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}
	if v := r.URL.Query().Get("requester_id"); v != "" {
		requester = &v
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	requests, err := h.service.ListRequests(r.Context(), status, requester, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(requests))
	for _, req := range requests {
		out = append(out, requestResponse(req, nil))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"requests": out, "count": len(out)})
}

// SubmitRequest moves a draft into the approval chain.
func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.service.Submit(r.Context(), body.ID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestResponse(req, nil))
}

// DecideRequest records an approve or reject at a level.
func (h *HTTPHandler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID       string  `json:"id"`
		Level    int     `json:"level"`
		Decision string  `json:"decision"`
		Notes    *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.Decide(r.Context(), &service.DecideInput{
		RequestID:  body.ID,
		Level:      body.Level,
		ApproverID: actorID(r),
		Decision:   body.Decision,
		Notes:      body.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        outcome.RequestStatus,
		"current_level": outcome.CurrentLevel,
		"final":         outcome.Final,
	})
}

// CompleteRequest closes out an approved request after disbursement.
func (h *HTTPHandler) CompleteRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req, err := h.service.Complete(r.Context(), body.ID, actorID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestResponse(req, nil))
}

// DeleteRequest discards a draft.
func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PendingApprovals returns the caller's approval inbox.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	approver := actorID(r)
	if approver == "" {
		http.Error(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	pending, err := h.service.PendingApprovals(r.Context(), approver)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(pending))
	for _, p := range pending {
		out = append(out, map[string]interface{}{
			"approval_id":    p.ID,
			"request_id":     p.RequestID,
			"request_number": p.RequestNumber,
			"requester_id":   p.RequesterID,
			"amount":         p.Amount,
			"level":          p.Level,
			"role":           p.Role,
			"pending_since":  p.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"pending": out, "count": len(out)})
}

// AuditTrail returns the audit log for a request.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ListNotifications returns the caller's notifications.
func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := actorID(r)
	if userID == "" {
		http.Error(w, "X-User-ID header is required", http.StatusBadRequest)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	notifications, err := h.notificationRepo.ListByUser(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

// MarkNotificationRead flags one of the caller's notifications as read.
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.notificationRepo.MarkRead(r.Context(), body.ID, actorID(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the active settings snapshot.
func (h *HTTPHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.Latest(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings inserts a new settings snapshot. Chains already stamped on
// in-flight requests are unaffected.
func (h *HTTPHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var st repository.Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if st.ApprovalThreshold <= 0 {
		http.Error(w, "approval_threshold must be positive", http.StatusBadRequest)
		return
	}
	if st.WorkdayStartMin < 0 || st.WorkdayEndMin <= st.WorkdayStartMin || st.WorkdayEndMin > 24*60 {
		http.Error(w, "invalid workday window", http.StatusBadRequest)
		return
	}

	if err := h.settingsRepo.Reload(r.Context(), &st); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, st)
}

// ── response helpers ─────────────────────────────────────────────────────────

func requestResponse(req *repository.Request, approvals []*repository.Approval) map[string]interface{} {
	resp := map[string]interface{}{
		"id":             req.ID,
		"request_number": req.RequestNumber,
		"requester_id":   req.RequesterID,
		"department_id":  req.DepartmentID,
		"amount":         req.Amount,
		"description":    req.Description,
		"status":         req.Status,
		"current_level":  req.CurrentLevel,
		"chain":          req.Chain,
		"submitted_at":   req.SubmittedAt,
		"completed_at":   req.CompletedAt,
		"created_at":     req.CreatedAt,
	}
	if approvals != nil {
		resp["approvals"] = approvals
	}
	return resp
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps error codes to HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeUnauthorized, errors.ErrCodeSelfApproval:
		status = http.StatusForbidden
	case errors.ErrCodeStaleLevel, errors.ErrCodeInvalidTransition, errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeInvalidAmount, errors.ErrCodeEmptyChain, errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
