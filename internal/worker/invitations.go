package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
	"github.com/teresa-solution/guest-access-service/internal/notification"
)

// InvitationStore selects the reservations due for an automatic invitation.
type InvitationStore interface {
	// ListAutoInvitationOrganizations returns tenants with at least one branch that has
	// automatic invitations enabled.
	ListAutoInvitationOrganizations(ctx context.Context) ([]model.Organization, error)
	// ListInvitationCandidates returns the tenant's reservations in auto-invitation
	// branches checking in within [from, to) whose invitation was not sent yet.
	ListInvitationCandidates(ctx context.Context, orgID int64, from, to time.Time) ([]model.Reservation, error)
}

// Inviter sends a reservation invitation.
type Inviter interface {
	SendReservationInvitation(ctx context.Context, reservationID int64) (*notification.Result, error)
}

// InvitationSweep sends check-in invitations one day ahead, once per tenant and local
// day, when the tenant's local clock reaches the invitation hour.
type InvitationSweep struct {
	store    InvitationStore
	inviter  Inviter
	hour     int
	fallback *time.Location
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	lastRun map[int64]string
}

// NewInvitationSweep creates the auto-invitation sweep running at the local hour.
func NewInvitationSweep(store InvitationStore, inviter Inviter, hour int, fallback *time.Location, logger zerolog.Logger) *InvitationSweep {
	return &InvitationSweep{
		store:    store,
		inviter:  inviter,
		hour:     hour,
		fallback: fallback,
		now:      time.Now,
		logger:   logger.With().Str("component", "invitation_sweep").Logger(),
		lastRun:  make(map[int64]string),
	}
}

func (s *InvitationSweep) WithClock(now func() time.Time) *InvitationSweep {
	s.now = now
	return s
}

func (s *InvitationSweep) Name() string { return "auto_invitation" }

// Run checks every tenant once. A failing tenant or reservation never stops the others.
func (s *InvitationSweep) Run(ctx context.Context) error {
	orgs, err := s.store.ListAutoInvitationOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("list auto-invitation organizations: %w", err)
	}

	now := s.now()
	for _, org := range orgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		loc := LocationFor(org.Country, s.fallback)
		local := now.In(loc)
		if local.Hour() != s.hour || !s.claim(org.ID, local.Format(time.DateOnly)) {
			continue
		}

		s.logger.Info().Int64("organization_id", org.ID).Str("timezone", loc.String()).Msg("Invitation hour reached, sending invitations for tomorrow")
		if err := s.sendForTomorrow(ctx, org.ID, local); err != nil {
			s.logger.Error().Err(err).Int64("organization_id", org.ID).Msg("Invitation sweep failed for organization")
		}
	}
	return nil
}

func (s *InvitationSweep) claim(orgID int64, day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun[orgID] == day {
		return false
	}
	s.lastRun[orgID] = day
	return true
}

func (s *InvitationSweep) sendForTomorrow(ctx context.Context, orgID int64, local time.Time) error {
	from := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, local.Location())
	to := from.AddDate(0, 0, 1)

	candidates, err := s.store.ListInvitationCandidates(ctx, orgID, from, to)
	if err != nil {
		return fmt.Errorf("list invitation candidates: %w", err)
	}

	var sent, skipped, failed int
	for i := range candidates {
		r := &candidates[i]
		if !r.HasContact() {
			s.logger.Warn().Int64("reservation_id", r.ID).Msg("Reservation has no contact data, skipping invitation")
			skipped++
			continue
		}

		res, err := s.inviter.SendReservationInvitation(ctx, r.ID)
		switch {
		case errors.Is(err, errs.ErrConfigurationMissing):
			failed++
			monitoring.Alert("auto invitation cannot be delivered", map[string]string{
				"organization_id": strconv.FormatInt(orgID, 10),
				"reservation_id":  strconv.FormatInt(r.ID, 10),
				"error":           err.Error(),
			})
		case err != nil:
			failed++
			s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("Automatic invitation failed")
		case res != nil && res.Skipped:
			skipped++
		default:
			sent++
		}
	}

	s.logger.Info().
		Int64("organization_id", orgID).
		Int("candidates", len(candidates)).
		Int("sent", sent).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("Invitation sweep finished")
	return nil
}
