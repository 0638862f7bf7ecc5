package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

// Store is the read side the resolver needs.
type Store interface {
	GetOrganization(ctx context.Context, id int64) (*model.Organization, error)
	GetBranch(ctx context.Context, id int64) (*model.Branch, error)
}

// Scope identifies the tenant, and optionally the branch, a lookup applies to.
type Scope struct {
	OrganizationID int64
	BranchID       *int64
}

// ScopeOf returns the lookup scope of a reservation.
func ScopeOf(r *model.Reservation) Scope {
	return Scope{OrganizationID: r.OrganizationID, BranchID: r.BranchID}
}

// Source is the tier a resolved section came from.
type Source string

const (
	SourceBranch       Source = "branch"
	SourceOrganization Source = "organization"
)

// Resolved is a decrypted, usable provider configuration.
type Resolved struct {
	Section model.Section
	Source  Source
	Scope   Scope
}

// Resolver produces decrypted provider settings with branch to organization fallback.
type Resolver struct {
	store  Store
	codec  *Codec
	cache  *Cache
	logger zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables the in-process decrypted settings cache.
func WithCache(c *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver creates a resolver reading settings from store and decrypting them with codec.
func NewResolver(store Store, codec *Codec, logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		codec:  codec,
		logger: logger.With().Str("component", "settings_resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the decrypted settings for kind. A branch section wins when it is
// present, decodable and holds every mandatory field in decrypted form. Otherwise the
// organization section is used. When neither tier is usable a
// *errs.ConfigurationMissingError is returned.
func (r *Resolver) Resolve(ctx context.Context, kind model.ProviderKind, scope Scope) (*Resolved, error) {
	if r.cache != nil {
		if res, ok := r.cache.Get(kind, scope); ok {
			return res, nil
		}
	}

	res, err := r.resolve(ctx, kind, scope)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(kind, scope, res)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, kind model.ProviderKind, scope Scope) (*Resolved, error) {
	var missing []string

	if scope.BranchID != nil {
		branch, err := r.store.GetBranch(ctx, *scope.BranchID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("load branch %d: %w", *scope.BranchID, err)
		}
		var sec model.Section
		if branch != nil {
			sec, err = DecodeBranchSection(kind, branch.RawSection(kind))
		}
		switch {
		case branch == nil:
			r.logger.Warn().Int64("branch_id", *scope.BranchID).Str("provider", string(kind)).
				Msg("Branch not found, falling back to organization")
		case err != nil:
			r.logger.Warn().Err(err).Int64("branch_id", branch.ID).Str("provider", string(kind)).
				Msg("Unreadable branch settings, falling back to organization")
		case sec != nil:
			r.codec.DecryptSection(sec)
			if missing = unusableFields(sec); len(missing) == 0 {
				return &Resolved{Section: sec, Source: SourceBranch, Scope: scope}, nil
			}
			r.logger.Debug().Int64("branch_id", branch.ID).Str("provider", string(kind)).
				Strs("missing", missing).Msg("Branch settings incomplete, falling back to organization")
		}
	}

	org, err := r.store.GetOrganization(ctx, scope.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("load organization %d: %w", scope.OrganizationID, err)
	}
	if sec := org.Settings.Section(kind); sec != nil {
		sec = cloneSection(sec)
		r.codec.DecryptSection(sec)
		if missing = unusableFields(sec); len(missing) == 0 {
			return &Resolved{Section: sec, Source: SourceOrganization, Scope: scope}, nil
		}
	}

	return nil, &errs.ConfigurationMissingError{
		Provider:       string(kind),
		OrganizationID: scope.OrganizationID,
		BranchID:       scope.BranchID,
		Missing:        missing,
	}
}

// DoorSystem resolves the door-lock configuration.
func (r *Resolver) DoorSystem(ctx context.Context, scope Scope) (*model.DoorSystemSettings, Source, error) {
	res, err := r.Resolve(ctx, model.ProviderDoorSystem, scope)
	if err != nil {
		return nil, "", err
	}
	return res.Section.(*model.DoorSystemSettings), res.Source, nil
}

// BoldPayment resolves the payment-link configuration.
func (r *Resolver) BoldPayment(ctx context.Context, scope Scope) (*model.BoldPaymentSettings, error) {
	res, err := r.Resolve(ctx, model.ProviderBoldPayment, scope)
	if err != nil {
		return nil, err
	}
	return res.Section.(*model.BoldPaymentSettings), nil
}

// WhatsApp resolves the messaging configuration.
func (r *Resolver) WhatsApp(ctx context.Context, scope Scope) (*model.WhatsAppSettings, error) {
	res, err := r.Resolve(ctx, model.ProviderWhatsApp, scope)
	if err != nil {
		return nil, err
	}
	return res.Section.(*model.WhatsAppSettings), nil
}

// Email resolves the SMTP configuration.
func (r *Resolver) Email(ctx context.Context, scope Scope) (*model.EmailSettings, error) {
	res, err := r.Resolve(ctx, model.ProviderEmail, scope)
	if err != nil {
		return nil, err
	}
	return res.Section.(*model.EmailSettings), nil
}

// unusableFields lists mandatory fields that are empty or still encrypted.
func unusableFields(sec model.Section) []string {
	var missing []string
	for _, f := range sec.Required() {
		if *f.Value == "" || crypto.IsEncrypted(*f.Value) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// cloneSection deep-copies sec so callers never mutate a stored document.
func cloneSection(sec model.Section) model.Section {
	b, err := json.Marshal(sec)
	if err != nil {
		return sec
	}
	out := model.NewSection(sec.Kind())
	if err := json.Unmarshal(b, out); err != nil {
		return sec
	}
	return out
}
