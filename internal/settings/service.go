package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/model"
)

// Writer persists encrypted settings documents.
type Writer interface {
	Store
	UpdateOrganizationSettings(ctx context.Context, orgID int64, s model.OrganizationSettings) error
	UpdateBranchSettings(ctx context.Context, branchID int64, kind model.ProviderKind, raw json.RawMessage) error
}

// Notifier broadcasts a settings change to other processes.
type Notifier interface {
	NotifySettingsChanged(ctx context.Context, payload []byte) error
}

// Change describes a settings write. An empty Kind means every provider section.
type Change struct {
	OrganizationID int64              `json:"organizationId"`
	BranchID       *int64             `json:"branchId,omitempty"`
	Kind           model.ProviderKind `json:"kind,omitempty"`
	// TokenOnly marks a write that only refreshed the stored door-lock access token.
	TokenOnly bool `json:"tokenOnly,omitempty"`
}

// ParseChange decodes a change broadcast by another process.
func ParseChange(payload []byte) (Change, error) {
	var ch Change
	if err := json.Unmarshal(payload, &ch); err != nil {
		return Change{}, fmt.Errorf("decode settings change: %w", err)
	}
	return ch, nil
}

// Service is the settings write path: encrypt, persist, broadcast, invalidate.
type Service struct {
	writer   Writer
	codec    *Codec
	notifier Notifier
	logger   zerolog.Logger

	mu    sync.RWMutex
	hooks []func(Change)
}

// NewService creates the settings write path. notifier may be nil in a single process.
func NewService(writer Writer, codec *Codec, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		writer:   writer,
		codec:    codec,
		notifier: notifier,
		logger:   logger.With().Str("component", "settings_service").Logger(),
	}
}

// OnChange registers an invalidation hook run after every settings write.
func (s *Service) OnChange(hook func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// UpdateOrganizationSettings encrypts and stores a tenant settings document.
func (s *Service) UpdateOrganizationSettings(ctx context.Context, orgID int64, doc *model.OrganizationSettings) error {
	enc := cloneOrganizationSettings(doc)
	if err := s.codec.EncryptOrganization(&enc); err != nil {
		return err
	}
	if err := s.writer.UpdateOrganizationSettings(ctx, orgID, enc); err != nil {
		return fmt.Errorf("update organization %d settings: %w", orgID, err)
	}
	s.changed(ctx, Change{OrganizationID: orgID})
	return nil
}

// UpdateBranchSection encrypts sec and stores it in the branch's column for its provider.
func (s *Service) UpdateBranchSection(ctx context.Context, branchID int64, sec model.Section) error {
	branch, err := s.writer.GetBranch(ctx, branchID)
	if err != nil {
		return fmt.Errorf("load branch %d: %w", branchID, err)
	}

	enc := cloneSection(sec)
	if err := s.codec.EncryptSection(enc); err != nil {
		return err
	}
	raw, err := EncodeBranchSection(enc)
	if err != nil {
		return err
	}
	if err := s.writer.UpdateBranchSettings(ctx, branchID, sec.Kind(), raw); err != nil {
		return fmt.Errorf("update branch %d %s settings: %w", branchID, sec.Kind(), err)
	}
	s.changed(ctx, Change{OrganizationID: branch.OrganizationID, BranchID: &branchID, Kind: sec.Kind()})
	return nil
}

// SaveDoorAccessToken writes a freshly obtained door-lock token into the tier the
// credentials were resolved from, so it survives process restarts.
func (s *Service) SaveDoorAccessToken(ctx context.Context, scope Scope, source Source, token string, expiresAt *time.Time) error {
	encToken, err := s.codec.cipher.Encrypt(token)
	if err != nil {
		return err
	}

	if source == SourceBranch && scope.BranchID != nil {
		branch, err := s.writer.GetBranch(ctx, *scope.BranchID)
		if err != nil {
			return fmt.Errorf("load branch %d: %w", *scope.BranchID, err)
		}
		sec, err := DecodeBranchSection(model.ProviderDoorSystem, branch.RawSection(model.ProviderDoorSystem))
		if err != nil {
			return err
		}
		if sec == nil {
			return fmt.Errorf("branch %d has no door system settings", branch.ID)
		}
		door := sec.(*model.DoorSystemSettings)
		door.AccessToken = encToken
		door.TokenExpiresAt = expiresAt
		raw, err := EncodeBranchSection(door)
		if err != nil {
			return err
		}
		if err := s.writer.UpdateBranchSettings(ctx, branch.ID, model.ProviderDoorSystem, raw); err != nil {
			return fmt.Errorf("save branch %d door token: %w", branch.ID, err)
		}
		s.changed(ctx, Change{OrganizationID: branch.OrganizationID, BranchID: scope.BranchID, Kind: model.ProviderDoorSystem, TokenOnly: true})
		return nil
	}

	org, err := s.writer.GetOrganization(ctx, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("load organization %d: %w", scope.OrganizationID, err)
	}
	if org.Settings.DoorSystem == nil {
		return fmt.Errorf("organization %d has no door system settings", org.ID)
	}
	doc := cloneOrganizationSettings(&org.Settings)
	doc.DoorSystem.AccessToken = encToken
	doc.DoorSystem.TokenExpiresAt = expiresAt
	if err := s.writer.UpdateOrganizationSettings(ctx, org.ID, doc); err != nil {
		return fmt.Errorf("save organization %d door token: %w", org.ID, err)
	}
	s.changed(ctx, Change{OrganizationID: org.ID, Kind: model.ProviderDoorSystem, TokenOnly: true})
	return nil
}

// ApplyRemoteChange runs the local hooks for a change made by another process.
func (s *Service) ApplyRemoteChange(ch Change) {
	s.fire(ch)
}

func (s *Service) changed(ctx context.Context, ch Change) {
	if s.notifier != nil {
		payload, err := json.Marshal(ch)
		if err == nil {
			err = s.notifier.NotifySettingsChanged(ctx, payload)
		}
		if err != nil {
			s.logger.Warn().Err(err).Int64("organization_id", ch.OrganizationID).Msg("Failed to broadcast settings change")
		}
	}
	s.fire(ch)
}

func (s *Service) fire(ch Change) {
	s.mu.RLock()
	hooks := slices.Clone(s.hooks)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(ch)
	}
}

func cloneOrganizationSettings(doc *model.OrganizationSettings) model.OrganizationSettings {
	var out model.OrganizationSettings
	b, err := json.Marshal(doc)
	if err == nil && json.Unmarshal(b, &out) == nil {
		return out
	}
	return *doc
}
