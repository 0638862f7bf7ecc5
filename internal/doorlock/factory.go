package doorlock

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

// SettingsResolver yields decrypted door-lock settings with branch fallback.
type SettingsResolver interface {
	DoorSystem(ctx context.Context, scope settings.Scope) (*model.DoorSystemSettings, settings.Source, error)
}

// TokenSaver persists a freshly obtained access token.
type TokenSaver interface {
	SaveDoorAccessToken(ctx context.Context, scope settings.Scope, source settings.Source, token string, expiresAt *time.Time) error
}

// Factory resolves settings once and returns an immutable Client.
type Factory struct {
	resolver   SettingsResolver
	saver      TokenSaver
	tokens     *TokenCache
	httpClient *http.Client
	now        func() time.Time
	location   *time.Location
	logger     zerolog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

func WithHTTPClient(c *http.Client) Option { return func(f *Factory) { f.httpClient = c } }

func WithClock(now func() time.Time) Option { return func(f *Factory) { f.now = now } }

// WithLocation sets the zone used for "today" when clamping passcode windows.
func WithLocation(loc *time.Location) Option { return func(f *Factory) { f.location = loc } }

func WithLogger(l zerolog.Logger) Option { return func(f *Factory) { f.logger = l } }

// NewFactory creates a client factory. Tokens exchanged by its clients are shared
// through tokens and persisted with saver.
func NewFactory(resolver SettingsResolver, saver TokenSaver, tokens *TokenCache, opts ...Option) *Factory {
	f := &Factory{
		resolver:   resolver,
		saver:      saver,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		location:   time.Local,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tokens == nil {
		f.tokens = NewTokenCache(time.Hour)
	}
	return f
}

// ForScope builds a client for a branch (with organization fallback) or a tenant.
func (f *Factory) ForScope(ctx context.Context, scope settings.Scope) (*Client, error) {
	cfg, source, err := f.resolver.DoorSystem(ctx, scope)
	if err != nil {
		return nil, err
	}

	oauthURL, apiURL := endpoints(cfg.APIURL)
	c := &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		username:     cfg.Username,
		password:     cfg.Password,
		oauthURL:     oauthURL,
		apiURL:       apiURL,
		lockIDs:      append([]string(nil), cfg.LockIDs...),
		appName:      cfg.AppName,
		fingerprint:  fingerprint(cfg.ClientID, cfg.ClientSecret, cfg.Username, cfg.Password, oauthURL),
		scope:        scope,
		source:       source,
		httpClient:   f.httpClient,
		tokens:       f.tokens,
		saver:        f.saver,
		now:          f.now,
		location:     f.location,
		logger:       f.logger.With().Str("component", "doorlock").Int64("organization_id", scope.OrganizationID).Logger(),
	}
	// An undecryptable stored token is ignored, never sent.
	if cfg.AccessToken != "" && !crypto.IsEncrypted(cfg.AccessToken) {
		c.storedToken = Token{Value: cfg.AccessToken, ExpiresAt: cfg.TokenExpiresAt}
	}
	return c, nil
}

// ForReservation builds a client for the reservation's branch and tenant.
func (f *Factory) ForReservation(ctx context.Context, r *model.Reservation) (*Client, error) {
	return f.ForScope(ctx, settings.ScopeOf(r))
}

// InvalidateOnChange drops cached tokens when door-lock credentials change. Token-only
// writes are ignored since they come from the clients themselves.
func (f *Factory) InvalidateOnChange(ch settings.Change) {
	if ch.TokenOnly {
		return
	}
	if ch.Kind == "" || ch.Kind == model.ProviderDoorSystem {
		f.tokens.Clear()
	}
}

func endpoints(apiURL string) (oauth, api string) {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	apiURL = strings.TrimRight(apiURL, "/")
	if strings.Contains(apiURL, euOpenHost) {
		return euOAuthURL, euAPIURL
	}
	return apiURL, apiURL
}
