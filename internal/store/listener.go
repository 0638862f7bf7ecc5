package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// SettingsListener receives settings-change notifications from other processes.
type SettingsListener struct {
	listener *pq.Listener
	logger   zerolog.Logger
}

// NewSettingsListener opens a dedicated connection listening on SettingsChannel.
func NewSettingsListener(dsn string, logger zerolog.Logger) (*SettingsListener, error) {
	logger = logger.With().Str("component", "settings_listener").Logger()
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("Settings listener connection event")
		}
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := l.Listen(SettingsChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen on %s: %w", SettingsChannel, err)
	}
	return &SettingsListener{listener: l, logger: logger}, nil
}

// Run delivers payloads to onChange until ctx is done. After a reconnect notifications
// may have been missed, so onReconnect is called to drop everything cached.
func (l *SettingsListener) Run(ctx context.Context, onChange func(payload []byte), onReconnect func()) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				l.logger.Info().Msg("Settings listener reconnected, flushing caches")
				if onReconnect != nil {
					onReconnect()
				}
				continue
			}
			onChange([]byte(n.Extra))
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn().Err(err).Msg("Settings listener ping failed")
			}
		}
	}
}

func (l *SettingsListener) Close() error {
	return l.listener.Close()
}
