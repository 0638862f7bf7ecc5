package payment

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/model"
)

// ReservationStore is the reservation access the payment flows need.
type ReservationStore interface {
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	UpdateReservation(ctx context.Context, id int64, u model.ReservationUpdate) error
}

// Service owns a reservation's payment link.
type Service struct {
	factory      *Factory
	reservations ReservationStore
	logger       zerolog.Logger
}

// NewService creates the payment link service.
func NewService(factory *Factory, reservations ReservationStore, logger zerolog.Logger) *Service {
	return &Service{
		factory:      factory,
		reservations: reservations,
		logger:       logger.With().Str("component", "payment_service").Logger(),
	}
}

// EnsurePaymentLink returns the reservation's stored link, creating and persisting one
// only when none exists. The reservation is updated in place.
func (s *Service) EnsurePaymentLink(ctx context.Context, r *model.Reservation) (string, error) {
	if r.PaymentLink != "" {
		return r.PaymentLink, nil
	}

	client, err := s.factory.ForReservation(ctx, r)
	if err != nil {
		return "", err
	}
	link, err := client.CreatePaymentLink(ctx, r, r.Amount, r.Currency, "")
	if err != nil {
		return "", err
	}

	// The link already exists at the provider, so a failed write is logged and the link is
	// still handed back for delivery.
	u := model.ReservationUpdate{PaymentLink: &link.URL}
	if err := s.reservations.UpdateReservation(ctx, r.ID, u); err != nil {
		s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("Failed to persist payment link")
	}
	u.Apply(r)
	return link.URL, nil
}

// Status reports the provider status of a link id.
func (s *Service) Status(ctx context.Context, r *model.Reservation, linkID string) (*LinkStatus, error) {
	client, err := s.factory.ForReservation(ctx, r)
	if err != nil {
		return nil, err
	}
	return client.GetStatus(ctx, linkID)
}
