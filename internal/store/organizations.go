package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
)

var branchSettingsColumns = []model.ProviderKind{
	model.ProviderDoorSystem,
	model.ProviderBoldPayment,
	model.ProviderWhatsApp,
	model.ProviderEmail,
	model.ProviderLobbyPms,
	model.ProviderSire,
}

// GetOrganization returns an organization with its settings still encrypted.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	key := organizationKey(id)
	org := &model.Organization{}
	if s.cache.get(ctx, key, org) {
		return org, nil
	}

	query := `SELECT id, name, COALESCE(country, ''), settings, created_at, updated_at
              FROM organizations WHERE id = $1`
	var settings []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&org.ID, &org.Name, &org.Country, &settings, &org.CreatedAt, &org.UpdatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("organization %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &org.Settings); err != nil {
			return nil, fmt.Errorf("decode organization %d settings: %w", id, err)
		}
	}

	s.cache.set(ctx, key, org)
	return org, nil
}

// GetBranch returns a branch with its raw provider sections.
func (s *Store) GetBranch(ctx context.Context, id int64) (*model.Branch, error) {
	key := branchKey(id)
	branch := &model.Branch{}
	if s.cache.get(ctx, key, branch) {
		return branch, nil
	}

	query := `SELECT id, organization_id, name, auto_send_reservation_invitation,
                     door_system_settings, bold_payment_settings, whatsapp_settings,
                     email_settings, lobby_pms_settings, sire_settings, message_templates,
                     created_at, updated_at
              FROM branches WHERE id = $1`
	sections := make([][]byte, len(branchSettingsColumns))
	var templates []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&branch.ID, &branch.OrganizationID, &branch.Name, &branch.AutoSendReservationInvitation,
		&sections[0], &sections[1], &sections[2], &sections[3], &sections[4], &sections[5], &templates,
		&branch.CreatedAt, &branch.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, fmt.Errorf("branch %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	branch.ProviderSettings = make(map[model.ProviderKind]json.RawMessage)
	for i, kind := range branchSettingsColumns {
		if len(sections[i]) > 0 {
			branch.ProviderSettings[kind] = json.RawMessage(sections[i])
		}
	}
	if len(templates) > 0 {
		branch.MessageTemplates = json.RawMessage(templates)
	}

	s.cache.set(ctx, key, branch)
	return branch, nil
}

// UpdateOrganizationSettings replaces the tenant settings document. The document must
// already be encrypted.
func (s *Store) UpdateOrganizationSettings(ctx context.Context, orgID int64, settings model.OrganizationSettings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE organizations SET settings = $2, updated_at = now() WHERE id = $1`, orgID, doc)
	if err != nil {
		return err
	}
	if !affected(tag) {
		return fmt.Errorf("organization %d: %w", orgID, errs.ErrNotFound)
	}
	s.cache.invalidate(ctx, organizationKey(orgID))
	return nil
}

// UpdateBranchSettings replaces one provider column of a branch. raw must already be
// encrypted.
func (s *Store) UpdateBranchSettings(ctx context.Context, branchID int64, kind model.ProviderKind, raw json.RawMessage) error {
	column := model.BranchColumn(kind)
	if column == "" {
		return fmt.Errorf("unknown provider settings kind %q", kind)
	}
	query := fmt.Sprintf(`UPDATE branches SET %s = $2, updated_at = now() WHERE id = $1`, column)
	tag, err := s.pool.Exec(ctx, query, branchID, []byte(raw))
	if err != nil {
		return err
	}
	if !affected(tag) {
		return fmt.Errorf("branch %d: %w", branchID, errs.ErrNotFound)
	}
	s.cache.invalidate(ctx, branchKey(branchID))
	return nil
}

// DeleteBranch removes a branch that no reservation references.
func (s *Store) DeleteBranch(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM reservations WHERE branch_id = $1`, id).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("branch %d has %d reservations: %w", id, count, errs.ErrConflict)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM branches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if !affected(tag) {
		return fmt.Errorf("branch %d: %w", id, errs.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.cache.invalidate(ctx, branchKey(id))
	return nil
}

// CountByBranch counts the reservations referencing a branch.
func (s *Store) CountByBranch(ctx context.Context, branchID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reservations WHERE branch_id = $1`, branchID).Scan(&count)
	return count, err
}

// ListAutoInvitationOrganizations returns tenants with at least one auto-invitation branch.
func (s *Store) ListAutoInvitationOrganizations(ctx context.Context) ([]model.Organization, error) {
	query := `SELECT DISTINCT o.id, o.name, COALESCE(o.country, '')
              FROM organizations o
              JOIN branches b ON b.organization_id = o.id
              WHERE b.auto_send_reservation_invitation
              ORDER BY o.id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var org model.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Country); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
