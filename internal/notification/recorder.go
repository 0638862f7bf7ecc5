package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
)

// LogStore persists and lists notification log entries.
type LogStore interface {
	InsertNotificationLog(ctx context.Context, entry model.NotificationLogEntry) error
	ListNotificationLogs(ctx context.Context, reservationID int64) ([]model.NotificationLogEntry, error)
}

// Publisher fans log entries out to other consumers.
type Publisher interface {
	PublishNotificationLog(ctx context.Context, entry model.NotificationLogEntry) error
}

// Recorder appends audit entries. It never returns an error: a failed write is reported
// to the operational log only.
type Recorder struct {
	store     LogStore
	publisher Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRecorder creates a recorder. publisher may be nil.
func NewRecorder(store LogStore, publisher Publisher, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With().Str("component", "notification_log").Logger(),
	}
}

// Record persists entry and publishes it. Failures are logged and never returned.
func (r *Recorder) Record(ctx context.Context, entry model.NotificationLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = r.now()
	}
	monitoring.ObserveNotification(string(entry.NotificationType), string(entry.Channel), entry.Success)

	if err := r.store.InsertNotificationLog(ctx, entry); err != nil {
		r.logger.Error().Err(err).
			Int64("reservation_id", entry.ReservationID).
			Str("type", string(entry.NotificationType)).
			Str("channel", string(entry.Channel)).
			Bool("success", entry.Success).
			Msg("Failed to write notification log entry")
	}

	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishNotificationLog(ctx, entry); err != nil {
		r.logger.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("Failed to publish notification log entry")
	}
}
