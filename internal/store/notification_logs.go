package store

import (
	"context"

	"github.com/teresa-solution/guest-access-service/internal/model"
)

// InsertNotificationLog appends an audit entry. Entries are never updated.
func (s *Store) InsertNotificationLog(ctx context.Context, e model.NotificationLogEntry) error {
	query := `INSERT INTO reservation_notification_logs
                  (id, reservation_id, notification_type, channel, success, sent_to, message,
                   payment_link, check_in_link, error_message, sent_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.ReservationID, string(e.NotificationType), string(e.Channel), e.Success,
		nullIfEmpty(e.SentTo), nullIfEmpty(e.Message), nullIfEmpty(e.PaymentLink),
		nullIfEmpty(e.CheckInLink), nullIfEmpty(e.ErrorMessage), e.SentAt,
	)
	return err
}

// ListNotificationLogs returns a reservation's entries, newest first.
func (s *Store) ListNotificationLogs(ctx context.Context, reservationID int64) ([]model.NotificationLogEntry, error) {
	query := `SELECT id, reservation_id, notification_type, channel, success,
                     COALESCE(sent_to, ''), COALESCE(message, ''), COALESCE(payment_link, ''),
                     COALESCE(check_in_link, ''), COALESCE(error_message, ''), sent_at
              FROM reservation_notification_logs
              WHERE reservation_id = $1
              ORDER BY sent_at DESC, id`
	rows, err := s.pool.Query(ctx, query, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.NotificationLogEntry
	for rows.Next() {
		var e model.NotificationLogEntry
		if err := rows.Scan(
			&e.ID, &e.ReservationID, &e.NotificationType, &e.Channel, &e.Success,
			&e.SentTo, &e.Message, &e.PaymentLink, &e.CheckInLink, &e.ErrorMessage, &e.SentAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
