package model

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	StatusConfirmed        ReservationStatus = "confirmed"
	StatusNotificationSent ReservationStatus = "notification_sent"
	StatusCheckedIn        ReservationStatus = "checked_in"
	StatusCheckedOut       ReservationStatus = "checked_out"
	StatusCancelled        ReservationStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentRefunded      PaymentStatus = "refunded"
)

// Reservation represents the reservations table. Integration fields are written only by
// the notification and provider services.
type Reservation struct {
	ID               int64             `json:"id"`
	OrganizationID   int64             `json:"organization_id"`
	BranchID         *int64            `json:"branch_id,omitempty"`
	GuestName        string            `json:"guest_name"`
	GuestPhone       string            `json:"guest_phone,omitempty"`
	GuestEmail       string            `json:"guest_email,omitempty"`
	GuestNationality string            `json:"guest_nationality,omitempty"`
	CheckInDate      time.Time         `json:"check_in_date"`
	CheckOutDate     time.Time         `json:"check_out_date"`
	RoomNumber       string            `json:"room_number,omitempty"`
	RoomDescription  string            `json:"room_description,omitempty"`
	Amount           float64           `json:"amount"`
	Currency         string            `json:"currency"`
	Status           ReservationStatus `json:"status"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	PaymentLink      string            `json:"payment_link,omitempty"`
	DoorPin          string            `json:"door_pin,omitempty"`
	DoorLockID       string            `json:"door_lock_id,omitempty"`
	DoorAppName      string            `json:"door_app_name,omitempty"`
	DoorPinRevokedAt *time.Time        `json:"door_pin_revoked_at,omitempty"`
	SentMessage      string            `json:"sent_message,omitempty"`
	SentMessageAt    *time.Time        `json:"sent_message_at,omitempty"`
	InvitationSentAt *time.Time        `json:"invitation_sent_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// HasContact reports whether the guest can be reached on any channel.
func (r *Reservation) HasContact() bool {
	return r.GuestPhone != "" || r.GuestEmail != ""
}

// ReservationUpdate is a partial update; nil fields are left untouched.
type ReservationUpdate struct {
	Status           *ReservationStatus
	PaymentStatus    *PaymentStatus
	PaymentLink      *string
	DoorPin          *string
	DoorLockID       *string
	DoorAppName      *string
	DoorPinRevokedAt *time.Time
	SentMessage      *string
	SentMessageAt    *time.Time
	InvitationSentAt *time.Time

	// ClearDoorPinRevokedAt resets DoorPinRevokedAt to NULL; ignored when DoorPinRevokedAt is set.
	ClearDoorPinRevokedAt bool
}

// Apply copies the set fields onto r.
func (u ReservationUpdate) Apply(r *Reservation) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.PaymentStatus != nil {
		r.PaymentStatus = *u.PaymentStatus
	}
	if u.PaymentLink != nil {
		r.PaymentLink = *u.PaymentLink
	}
	if u.DoorPin != nil {
		r.DoorPin = *u.DoorPin
	}
	if u.DoorLockID != nil {
		r.DoorLockID = *u.DoorLockID
	}
	if u.DoorAppName != nil {
		r.DoorAppName = *u.DoorAppName
	}
	if u.DoorPinRevokedAt != nil {
		r.DoorPinRevokedAt = u.DoorPinRevokedAt
	} else if u.ClearDoorPinRevokedAt {
		r.DoorPinRevokedAt = nil
	}
	if u.SentMessage != nil {
		r.SentMessage = *u.SentMessage
	}
	if u.SentMessageAt != nil {
		r.SentMessageAt = u.SentMessageAt
	}
	if u.InvitationSentAt != nil {
		r.InvitationSentAt = u.InvitationSentAt
	}
}

type NotificationType string

const (
	NotificationInvitation          NotificationType = "invitation"
	NotificationPin                 NotificationType = "pin"
	NotificationCheckInConfirmation NotificationType = "checkin_confirmation"
)

type NotificationChannel string

const (
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelEmail    NotificationChannel = "email"
	ChannelBoth     NotificationChannel = "both"
)

// NotificationLogEntry represents the reservation_notification_logs table. Entries are
// append-only.
type NotificationLogEntry struct {
	ID               uuid.UUID           `json:"id"`
	ReservationID    int64               `json:"reservation_id"`
	NotificationType NotificationType    `json:"notification_type"`
	Channel          NotificationChannel `json:"channel"`
	Success          bool                `json:"success"`
	SentTo           string              `json:"sent_to,omitempty"`
	Message          string              `json:"message,omitempty"`
	PaymentLink      string              `json:"payment_link,omitempty"`
	CheckInLink      string              `json:"check_in_link,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	SentAt           time.Time           `json:"sent_at"`
}
