package model

import (
	"encoding/json"
	"time"
)

// Organization represents the organizations table (a tenant).
type Organization struct {
	ID        int64                `json:"id"`
	Name      string               `json:"name"`
	Country   string               `json:"country"`
	Settings  OrganizationSettings `json:"settings"` // Encrypted at rest
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Branch represents the branches table. Each provider has its own settings column in
// the flat branch shape; MessageTemplates holds branch-level template overrides.
type Branch struct {
	ID                            int64                            `json:"id"`
	OrganizationID                int64                            `json:"organization_id"`
	Name                          string                           `json:"name"`
	AutoSendReservationInvitation bool                             `json:"auto_send_reservation_invitation"`
	ProviderSettings              map[ProviderKind]json.RawMessage `json:"provider_settings,omitempty"` // Encrypted at rest
	MessageTemplates              json.RawMessage                  `json:"message_templates,omitempty"`
	CreatedAt                     time.Time                        `json:"created_at"`
	UpdatedAt                     time.Time                        `json:"updated_at"`
}

// RawSection returns the stored document for kind, or nil.
func (b *Branch) RawSection(kind ProviderKind) json.RawMessage {
	if b == nil || b.ProviderSettings == nil {
		return nil
	}
	raw := b.ProviderSettings[kind]
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// BranchColumn maps a provider kind to its settings column on the branches table.
func BranchColumn(kind ProviderKind) string {
	switch kind {
	case ProviderDoorSystem:
		return "door_system_settings"
	case ProviderBoldPayment:
		return "bold_payment_settings"
	case ProviderWhatsApp:
		return "whatsapp_settings"
	case ProviderEmail:
		return "email_settings"
	case ProviderLobbyPms:
		return "lobby_pms_settings"
	case ProviderSire:
		return "sire_settings"
	}
	return ""
}
