package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/doorlock"
	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
)

// CleanupStore selects and marks reservations whose door passcode is still live.
type CleanupStore interface {
	ListUnrevokedPins(ctx context.Context, checkOutBefore time.Time) ([]model.Reservation, error)
	GetOrganization(ctx context.Context, id int64) (*model.Organization, error)
	UpdateReservation(ctx context.Context, id int64, u model.ReservationUpdate) error
}

// Revoker deletes a reservation's passcode from its lock. It reports false when the
// lock no longer holds the pin.
type Revoker interface {
	RevokePin(ctx context.Context, r *model.Reservation) (bool, error)
}

type factoryRevoker struct{ f *doorlock.Factory }

func (v factoryRevoker) RevokePin(ctx context.Context, r *model.Reservation) (bool, error) {
	client, err := v.f.ForReservation(ctx, r)
	if err != nil {
		return false, err
	}
	return client.DeletePasscodeByPin(ctx, r.DoorLockID, r.DoorPin)
}

// DoorLockRevoker revokes pins through the reservation's resolved lock account.
func DoorLockRevoker(f *doorlock.Factory) Revoker { return factoryRevoker{f: f} }

// CleanupSweep deletes guest passcodes once the check-out day has reached the local
// check-out hour. The pin stays on the reservation for display; DoorPinRevokedAt marks it
// as no longer valid.
type CleanupSweep struct {
	store        CleanupStore
	revoker      Revoker
	checkoutHour int
	fallback     *time.Location
	now          func() time.Time
	logger       zerolog.Logger
}

// NewCleanupSweep creates the passcode cleanup sweep.
func NewCleanupSweep(store CleanupStore, revoker Revoker, checkoutHour int, fallback *time.Location, logger zerolog.Logger) *CleanupSweep {
	return &CleanupSweep{
		store:        store,
		revoker:      revoker,
		checkoutHour: checkoutHour,
		fallback:     fallback,
		now:          time.Now,
		logger:       logger.With().Str("component", "passcode_cleanup").Logger(),
	}
}

func (s *CleanupSweep) WithClock(now func() time.Time) *CleanupSweep {
	s.now = now
	return s
}

func (s *CleanupSweep) Name() string { return "passcode_cleanup" }

// CleanupStats counts one sweep's outcomes.
type CleanupStats struct {
	Deleted int
	Skipped int
	Failed  int
}

// Run performs one sweep and logs its counts.
func (s *CleanupSweep) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep processes every reservation with a live pin and reports the counts.
func (s *CleanupSweep) Sweep(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	now := s.now()

	// A local check-out day can start up to a day before its UTC timestamp.
	candidates, err := s.store.ListUnrevokedPins(ctx, now.Add(48*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("list reservations with passcodes: %w", err)
	}
	if len(candidates) == 0 {
		return stats, nil
	}

	zones := make(map[int64]*time.Location)
	for i := range candidates {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		r := &candidates[i]
		if r.DoorPin == "" || r.DoorLockID == "" {
			stats.Skipped++
			continue
		}

		loc, ok := zones[r.OrganizationID]
		if !ok {
			loc = s.fallback
			if org, err := s.store.GetOrganization(ctx, r.OrganizationID); err == nil {
				loc = LocationFor(org.Country, s.fallback)
			} else {
				s.logger.Warn().Err(err).Int64("organization_id", r.OrganizationID).Msg("Failed to load organization, using default time zone")
			}
			zones[r.OrganizationID] = loc
		}
		if now.Before(RevocationDue(r.CheckOutDate, s.checkoutHour, loc)) {
			stats.Skipped++
			continue
		}

		switch deleted, err := s.revoker.RevokePin(ctx, r); {
		case err != nil:
			stats.Failed++
			s.logFailure(r, err)
		case !deleted:
			stats.Skipped++
			s.logger.Warn().Int64("reservation_id", r.ID).Msg("Passcode not found on lock or already deleted")
			s.markRevoked(ctx, r, now)
		default:
			stats.Deleted++
			s.logger.Info().Int64("reservation_id", r.ID).Str("lock_id", r.DoorLockID).Msg("Passcode deleted after check-out")
			s.markRevoked(ctx, r, now)
		}
	}

	if stats.Deleted > 0 || stats.Skipped > 0 || stats.Failed > 0 {
		s.logger.Info().
			Int("deleted", stats.Deleted).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Msg("Passcode cleanup finished")
	}
	return stats, nil
}

// RevocationDue is the instant a passcode expires: the check-out date, read in the
// tenant's zone, at the check-out hour.
func RevocationDue(checkOut time.Time, hour int, loc *time.Location) time.Time {
	local := checkOut.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
}

func (s *CleanupSweep) markRevoked(ctx context.Context, r *model.Reservation, now time.Time) {
	if err := s.store.UpdateReservation(ctx, r.ID, model.ReservationUpdate{DoorPinRevokedAt: &now}); err != nil {
		s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("Failed to mark passcode as revoked")
	}
}

func (s *CleanupSweep) logFailure(r *model.Reservation, err error) {
	if errors.Is(err, errs.ErrConfigurationMissing) {
		monitoring.Alert("passcode cleanup cannot reach the lock account", map[string]string{
			"organization_id": strconv.FormatInt(r.OrganizationID, 10),
			"reservation_id":  strconv.FormatInt(r.ID, 10),
			"error":           err.Error(),
		})
		return
	}
	s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("Failed to delete passcode")
}
