package repository

import (
	"context"

	"github.com/finflow-io/be-spend-approvals/internal/database"
	"github.com/finflow-io/be-spend-approvals/internal/errors"
)

// NotificationRepository persists notification rows produced by the
// dispatcher. The delivery side owns the is_read lifecycle; MarkRead exists
// for the read-tracking endpoint.
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts one notification.
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (user_id, title, message)
		VALUES ($1, $2, $3)
		RETURNING id, is_read, created_at
	`

	err := r.db.QueryRow(ctx, query, n.UserID, n.Title, n.Message).
		Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create notification")
	}
	return nil
}

// ListByUser returns a user's notifications, newest first, optionally only unread.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `
		SELECT id, user_id, title, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
	`
	if unreadOnly {
		query += " AND is_read = FALSE"
	}
	query += " ORDER BY created_at DESC LIMIT $2"

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list notifications")
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan notification")
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flags one notification as read for its owner.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE
		WHERE id = $1 AND user_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification", id)
	}
	return nil
}
