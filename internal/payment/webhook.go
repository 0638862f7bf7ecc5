package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

// ErrInvalidWebhook marks payloads that can never be processed.
var ErrInvalidWebhook = errors.New("invalid payment webhook")

const (
	EventPaid          = "payment.paid"
	EventCompleted     = "payment.completed"
	EventPartiallyPaid = "payment.partially_paid"
	EventRefunded      = "payment.refunded"
	EventFailed        = "payment.failed"
	EventCancelled     = "payment.cancelled"
)

// WebhookEvent is the inbound payment notification.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Metadata  map[string]any `json:"metadata"`
		Reference string         `json:"reference"`
	} `json:"data"`
}

// ReservationID extracts the reservation id from metadata, falling back to the reference.
func (e *WebhookEvent) ReservationID() (int64, bool) {
	switch v := e.Data.Metadata["reservation_id"].(type) {
	case float64:
		if v > 0 {
			return int64(v), true
		}
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	return ReservationIDFromReference(e.Data.Reference)
}

// PinIssuer issues a door passcode for a paid reservation and notifies the guest.
type PinIssuer interface {
	IssuePinAfterPayment(ctx context.Context, reservationID int64, withWhatsApp bool) error
}

// LogRecorder appends a notification log entry. Implementations never fail the caller.
type LogRecorder interface {
	Record(ctx context.Context, entry model.NotificationLogEntry)
}

// WebhookHandler applies payment events to reservations.
type WebhookHandler struct {
	reservations ReservationStore
	pins         PinIssuer
	logs         LogRecorder
	whatsApp     bool
	now          func() time.Time
	logger       zerolog.Logger
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithWhatsAppAfterPayment enables WhatsApp delivery of pins issued from webhooks.
func WithWhatsAppAfterPayment(enabled bool) WebhookOption {
	return func(h *WebhookHandler) { h.whatsApp = enabled }
}

func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(h *WebhookHandler) { h.now = now }
}

// NewWebhookHandler creates a handler that applies payment events to reservations.
func NewWebhookHandler(reservations ReservationStore, pins PinIssuer, logs LogRecorder, logger zerolog.Logger, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		reservations: reservations,
		pins:         pins,
		logs:         logs,
		now:          time.Now,
		logger:       logger.With().Str("component", "payment_webhook").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandlePayload decodes and handles a raw webhook body.
func (h *WebhookHandler) HandlePayload(ctx context.Context, payload []byte) error {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	return h.Handle(ctx, &ev)
}

// Handle applies one event. Unknown reservations are logged and acknowledged.
func (h *WebhookHandler) Handle(ctx context.Context, ev *WebhookEvent) error {
	if ev.Event == "" {
		return fmt.Errorf("%w: missing event", ErrInvalidWebhook)
	}
	id, ok := ev.ReservationID()
	if !ok {
		h.logger.Warn().Str("event", ev.Event).Msg("Webhook carries no reservation id")
		return fmt.Errorf("%w: no reservation id", ErrInvalidWebhook)
	}

	r, err := h.reservations.GetReservation(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		h.logger.Warn().Int64("reservation_id", id).Msg("Webhook for unknown reservation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reservation %d: %w", id, err)
	}

	log := h.logger.With().Int64("reservation_id", id).Str("event", ev.Event).Logger()
	log.Info().Msg("Processing payment webhook")

	switch ev.Event {
	case EventPaid, EventCompleted:
		return h.handlePaid(ctx, r, log)
	case EventPartiallyPaid:
		return h.setPaymentStatus(ctx, r, model.PaymentPartiallyPaid)
	case EventRefunded:
		return h.setPaymentStatus(ctx, r, model.PaymentRefunded)
	case EventFailed, EventCancelled:
		return nil
	default:
		log.Info().Msg("Ignoring unknown payment event")
		return nil
	}
}

func (h *WebhookHandler) setPaymentStatus(ctx context.Context, r *model.Reservation, status model.PaymentStatus) error {
	u := model.ReservationUpdate{PaymentStatus: &status}
	if err := h.reservations.UpdateReservation(ctx, r.ID, u); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	u.Apply(r)
	return nil
}

// handlePaid applies a paid event. Redeliveries for an already paid reservation only
// retry the automatic check-in; the pin is not issued again.
func (h *WebhookHandler) handlePaid(ctx context.Context, r *model.Reservation, log zerolog.Logger) error {
	alreadyPaid := r.PaymentStatus == model.PaymentPaid
	if !alreadyPaid {
		if err := h.setPaymentStatus(ctx, r, model.PaymentPaid); err != nil {
			return err
		}
	}

	now := h.now()
	if r.Status != model.StatusCheckedIn && r.Status != model.StatusCheckedOut &&
		r.Status != model.StatusCancelled && !now.Before(r.CheckInDate) {
		status := model.StatusCheckedIn
		err := h.reservations.UpdateReservation(ctx, r.ID, model.ReservationUpdate{Status: &status})
		entry := h.entry(r, model.NotificationCheckInConfirmation, model.ChannelBoth)
		if err != nil {
			log.Error().Err(err).Msg("Automatic check-in failed")
			entry.ErrorMessage = "automatic check-in failed: " + err.Error()
		} else {
			r.Status = status
			entry.Success = true
			entry.Message = "check-in completed automatically after payment"
		}
		h.logs.Record(ctx, entry)
	}

	if alreadyPaid {
		log.Info().Msg("Reservation already paid, skipping pin issuance")
		return nil
	}

	if !r.HasContact() {
		entry := h.entry(r, model.NotificationPin, model.ChannelBoth)
		entry.ErrorMessage = "no contact info: guest has neither phone nor email"
		h.logs.Record(ctx, entry)
		log.Warn().Msg("Paid reservation has no contact info, pin not issued")
		return nil
	}

	// Pin failures are logged by the issuer; the payment itself is already applied.
	if err := h.pins.IssuePinAfterPayment(ctx, r.ID, h.whatsApp); err != nil {
		log.Error().Err(err).Msg("Pin issuance after payment failed")
	}
	return nil
}

func (h *WebhookHandler) entry(r *model.Reservation, typ model.NotificationType, ch model.NotificationChannel) model.NotificationLogEntry {
	return model.NotificationLogEntry{
		ID:               uuid.New(),
		ReservationID:    r.ID,
		NotificationType: typ,
		Channel:          ch,
		SentAt:           h.now(),
	}
}

// ServeHTTP accepts webhooks posted directly by the provider.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	err = h.HandlePayload(req.Context(), body)
	switch {
	case errors.Is(err, ErrInvalidWebhook):
		w.WriteHeader(http.StatusBadRequest)
	case err != nil:
		h.logger.Error().Err(err).Msg("Webhook processing failed")
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}
