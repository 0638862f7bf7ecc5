package model

import "time"

// ProviderKind names a provider section of a settings document.
type ProviderKind string

const (
	ProviderDoorSystem  ProviderKind = "doorSystem"
	ProviderBoldPayment ProviderKind = "boldPayment"
	ProviderWhatsApp    ProviderKind = "whatsapp"
	ProviderEmail       ProviderKind = "email"
	ProviderLobbyPms    ProviderKind = "lobbyPms"
	ProviderSire        ProviderKind = "sire"
)

// ProviderKinds lists every provider section in document order.
var ProviderKinds = []ProviderKind{
	ProviderLobbyPms, ProviderDoorSystem, ProviderBoldPayment, ProviderWhatsApp, ProviderEmail, ProviderSire,
}

// SecretField points at one secret-bearing string of a section.
type SecretField struct {
	Name  string
	Value *string
}

// Section is one provider's configuration.
type Section interface {
	Kind() ProviderKind
	// SecretFields returns pointers to every secret-bearing field, including nested ones.
	SecretFields() []SecretField
	// Required returns the mandatory fields the provider cannot work without.
	Required() []SecretField
}

// NewSection returns an empty section of the given kind, or nil for an unknown kind.
func NewSection(kind ProviderKind) Section {
	switch kind {
	case ProviderDoorSystem:
		return &DoorSystemSettings{}
	case ProviderBoldPayment:
		return &BoldPaymentSettings{}
	case ProviderWhatsApp:
		return &WhatsAppSettings{}
	case ProviderEmail:
		return &EmailSettings{}
	case ProviderLobbyPms:
		return &LobbyPmsSettings{}
	case ProviderSire:
		return &SireSettings{}
	}
	return nil
}

// DoorSystemSettings configures the smart-lock provider.
// Password is stored MD5-hashed, as the lock platform expects it.
type DoorSystemSettings struct {
	ClientID       string     `json:"clientId,omitempty"`
	ClientSecret   string     `json:"clientSecret,omitempty"`
	Username       string     `json:"username,omitempty"`
	Password       string     `json:"password,omitempty"`
	APIURL         string     `json:"apiUrl,omitempty"`
	AccessToken    string     `json:"accessToken,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	LockIDs        []string   `json:"lockIds,omitempty"`
	PasscodeType   string     `json:"passcodeType,omitempty"`
	AppName        string     `json:"appName,omitempty"`
}

func (s *DoorSystemSettings) Kind() ProviderKind { return ProviderDoorSystem }

func (s *DoorSystemSettings) SecretFields() []SecretField {
	return []SecretField{
		{"clientId", &s.ClientID},
		{"clientSecret", &s.ClientSecret},
		{"username", &s.Username},
		{"password", &s.Password},
		{"accessToken", &s.AccessToken},
	}
}

func (s *DoorSystemSettings) Required() []SecretField {
	return []SecretField{
		{"clientId", &s.ClientID},
		{"clientSecret", &s.ClientSecret},
		{"username", &s.Username},
		{"password", &s.Password},
	}
}

// BoldPaymentSettings configures the payment-link provider. MerchantID is the identity
// key sent on every request.
type BoldPaymentSettings struct {
	APIKey      string `json:"apiKey,omitempty"`
	MerchantID  string `json:"merchantId,omitempty"`
	Environment string `json:"environment,omitempty"`
}

func (s *BoldPaymentSettings) Kind() ProviderKind { return ProviderBoldPayment }

func (s *BoldPaymentSettings) SecretFields() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}, {"merchantId", &s.MerchantID}}
}

func (s *BoldPaymentSettings) Required() []SecretField {
	return []SecretField{{"merchantId", &s.MerchantID}}
}

// WhatsAppSettings configures the messaging provider.
type WhatsAppSettings struct {
	Provider          string `json:"provider,omitempty"`
	APIKey            string `json:"apiKey,omitempty"`
	APISecret         string `json:"apiSecret,omitempty"`
	PhoneNumberID     string `json:"phoneNumberId,omitempty"`
	BusinessAccountID string `json:"businessAccountId,omitempty"`
}

func (s *WhatsAppSettings) Kind() ProviderKind { return ProviderWhatsApp }

func (s *WhatsAppSettings) SecretFields() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}, {"apiSecret", &s.APISecret}}
}

func (s *WhatsAppSettings) Required() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}, {"phoneNumberId", &s.PhoneNumberID}}
}

// ImapSettings is the nested inbox configuration of the email section.
type ImapSettings struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// EmailSettings configures outbound SMTP (and the inbox reader).
type EmailSettings struct {
	SMTPHost  string        `json:"smtpHost,omitempty"`
	SMTPPort  int           `json:"smtpPort,omitempty"`
	SMTPUser  string        `json:"smtpUser,omitempty"`
	SMTPPass  string        `json:"smtpPass,omitempty"`
	FromEmail string        `json:"fromEmail,omitempty"`
	FromName  string        `json:"fromName,omitempty"`
	Imap      *ImapSettings `json:"imap,omitempty"`
}

func (s *EmailSettings) Kind() ProviderKind { return ProviderEmail }

func (s *EmailSettings) SecretFields() []SecretField {
	fields := []SecretField{{"smtpPass", &s.SMTPPass}}
	if s.Imap != nil {
		fields = append(fields, SecretField{"imap.password", &s.Imap.Password})
	}
	return fields
}

func (s *EmailSettings) Required() []SecretField {
	return []SecretField{{"smtpHost", &s.SMTPHost}, {"smtpUser", &s.SMTPUser}, {"smtpPass", &s.SMTPPass}}
}

// LobbyPmsSettings configures the property-management sync.
type LobbyPmsSettings struct {
	APIURL               string   `json:"apiUrl,omitempty"`
	APIKey               string   `json:"apiKey,omitempty"`
	SyncEnabled          bool     `json:"syncEnabled,omitempty"`
	NotificationChannels []string `json:"notificationChannels,omitempty"`
}

func (s *LobbyPmsSettings) Kind() ProviderKind { return ProviderLobbyPms }

func (s *LobbyPmsSettings) SecretFields() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}}
}

func (s *LobbyPmsSettings) Required() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}}
}

// SireSettings configures government guest registration.
type SireSettings struct {
	APIKey    string `json:"apiKey,omitempty"`
	APISecret string `json:"apiSecret,omitempty"`
}

func (s *SireSettings) Kind() ProviderKind { return ProviderSire }

func (s *SireSettings) SecretFields() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}, {"apiSecret", &s.APISecret}}
}

func (s *SireSettings) Required() []SecretField {
	return []SecretField{{"apiKey", &s.APIKey}}
}

// MessageTemplate is one localized template.
type MessageTemplate struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// MessageTemplates maps notification type and language to a template.
type MessageTemplates map[NotificationType]map[string]MessageTemplate

// Lookup returns the template for typ in lang.
func (t MessageTemplates) Lookup(typ NotificationType, lang string) (MessageTemplate, bool) {
	byLang, ok := t[typ]
	if !ok {
		return MessageTemplate{}, false
	}
	tpl, ok := byLang[lang]
	if !ok || tpl.Body == "" {
		return MessageTemplate{}, false
	}
	return tpl, true
}

// OrganizationSettings is the tenant-level settings document. Every provider lives under
// its own section key.
type OrganizationSettings struct {
	LobbyPms         *LobbyPmsSettings    `json:"lobbyPms,omitempty"`
	DoorSystem       *DoorSystemSettings  `json:"doorSystem,omitempty"`
	BoldPayment      *BoldPaymentSettings `json:"boldPayment,omitempty"`
	WhatsApp         *WhatsAppSettings    `json:"whatsapp,omitempty"`
	Email            *EmailSettings       `json:"email,omitempty"`
	Sire             *SireSettings        `json:"sire,omitempty"`
	MessageTemplates MessageTemplates     `json:"messageTemplates,omitempty"`
}

// Section returns the section for kind, or nil when it is not configured.
func (s *OrganizationSettings) Section(kind ProviderKind) Section {
	if s == nil {
		return nil
	}
	switch kind {
	case ProviderDoorSystem:
		if s.DoorSystem != nil {
			return s.DoorSystem
		}
	case ProviderBoldPayment:
		if s.BoldPayment != nil {
			return s.BoldPayment
		}
	case ProviderWhatsApp:
		if s.WhatsApp != nil {
			return s.WhatsApp
		}
	case ProviderEmail:
		if s.Email != nil {
			return s.Email
		}
	case ProviderLobbyPms:
		if s.LobbyPms != nil {
			return s.LobbyPms
		}
	case ProviderSire:
		if s.Sire != nil {
			return s.Sire
		}
	}
	return nil
}

// SetSection stores sec under its own key.
func (s *OrganizationSettings) SetSection(sec Section) {
	switch v := sec.(type) {
	case *DoorSystemSettings:
		s.DoorSystem = v
	case *BoldPaymentSettings:
		s.BoldPayment = v
	case *WhatsAppSettings:
		s.WhatsApp = v
	case *EmailSettings:
		s.Email = v
	case *LobbyPmsSettings:
		s.LobbyPms = v
	case *SireSettings:
		s.Sire = v
	}
}

// Sections returns every configured section.
func (s *OrganizationSettings) Sections() []Section {
	var out []Section
	for _, kind := range ProviderKinds {
		if sec := s.Section(kind); sec != nil {
			out = append(out, sec)
		}
	}
	return out
}
