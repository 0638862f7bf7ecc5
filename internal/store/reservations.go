package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

const reservationColumns = `r.id, r.organization_id, r.branch_id, r.guest_name,
       COALESCE(r.guest_phone, ''), COALESCE(r.guest_email, ''), COALESCE(r.guest_nationality, ''),
       r.check_in_date, r.check_out_date,
       COALESCE(r.room_number, ''), COALESCE(r.room_description, ''),
       r.amount, r.currency, r.status, r.payment_status,
       COALESCE(r.payment_link, ''), COALESCE(r.door_pin, ''), COALESCE(r.door_lock_id, ''),
       COALESCE(r.door_app_name, ''), r.door_pin_revoked_at,
       COALESCE(r.sent_message, ''), r.sent_message_at, r.invitation_sent_at,
       r.created_at, r.updated_at`

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	r := &model.Reservation{}
	err := row.Scan(
		&r.ID, &r.OrganizationID, &r.BranchID, &r.GuestName,
		&r.GuestPhone, &r.GuestEmail, &r.GuestNationality,
		&r.CheckInDate, &r.CheckOutDate,
		&r.RoomNumber, &r.RoomDescription,
		&r.Amount, &r.Currency, &r.Status, &r.PaymentStatus,
		&r.PaymentLink, &r.DoorPin, &r.DoorLockID,
		&r.DoorAppName, &r.DoorPinRevokedAt,
		&r.SentMessage, &r.SentMessageAt, &r.InvitationSentAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

// GetReservation loads a reservation by id.
func (s *Store) GetReservation(ctx context.Context, id int64) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations r WHERE r.id = $1`
	r, err := scanReservation(s.pool.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("reservation %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateReservation writes the set fields of u. An empty update is a no-op.
func (s *Store) UpdateReservation(ctx context.Context, id int64, u model.ReservationUpdate) error {
	query, args := buildReservationUpdate(id, u)
	if query == "" {
		return nil
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if !affected(tag) {
		return fmt.Errorf("reservation %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

func buildReservationUpdate(id int64, u model.ReservationUpdate) (string, []any) {
	var sets []string
	args := []any{id}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.PaymentStatus != nil {
		add("payment_status", string(*u.PaymentStatus))
	}
	if u.PaymentLink != nil {
		add("payment_link", nullIfEmpty(*u.PaymentLink))
	}
	if u.DoorPin != nil {
		add("door_pin", nullIfEmpty(*u.DoorPin))
	}
	if u.DoorLockID != nil {
		add("door_lock_id", nullIfEmpty(*u.DoorLockID))
	}
	if u.DoorAppName != nil {
		add("door_app_name", nullIfEmpty(*u.DoorAppName))
	}
	if u.DoorPinRevokedAt != nil {
		add("door_pin_revoked_at", *u.DoorPinRevokedAt)
	} else if u.ClearDoorPinRevokedAt {
		sets = append(sets, "door_pin_revoked_at = NULL")
	}
	if u.SentMessage != nil {
		add("sent_message", nullIfEmpty(*u.SentMessage))
	}
	if u.SentMessageAt != nil {
		add("sent_message_at", *u.SentMessageAt)
	}
	if u.InvitationSentAt != nil {
		add("invitation_sent_at", *u.InvitationSentAt)
	}
	if len(sets) == 0 {
		return "", nil
	}
	sets = append(sets, "updated_at = now()")
	return `UPDATE reservations SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`, args
}

// ListInvitationCandidates returns uninvited, non-cancelled reservations of the tenant
// in auto-invitation branches checking in within [from, to).
func (s *Store) ListInvitationCandidates(ctx context.Context, orgID int64, from, to time.Time) ([]model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
              FROM reservations r
              JOIN branches b ON b.id = r.branch_id
              WHERE r.organization_id = $1
                AND b.auto_send_reservation_invitation
                AND r.check_in_date >= $2 AND r.check_in_date < $3
                AND r.invitation_sent_at IS NULL
                AND r.status <> 'cancelled'
              ORDER BY r.check_in_date, r.id`
	return s.listReservations(ctx, query, orgID, from, to)
}

// ListUnrevokedPins returns reservations holding a live passcode whose check-out is
// before the given instant.
func (s *Store) ListUnrevokedPins(ctx context.Context, checkOutBefore time.Time) ([]model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
              FROM reservations r
              WHERE r.door_pin IS NOT NULL AND r.door_pin <> ''
                AND r.door_lock_id IS NOT NULL AND r.door_lock_id <> ''
                AND r.door_pin_revoked_at IS NULL
                AND r.check_out_date < $1
              ORDER BY r.check_out_date, r.id`
	return s.listReservations(ctx, query, checkOutBefore)
}

func (s *Store) listReservations(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
