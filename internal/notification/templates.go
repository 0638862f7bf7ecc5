package notification

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

// Tier names where a template was found.
const (
	TierBranch       = "branch"
	TierOrganization = "organization"
	TierDefault      = "default"
)

const defaultLanguage = "es"

// ValueDecrypter decrypts a stored template string. Plaintext is returned unchanged.
type ValueDecrypter interface {
	DecryptValue(v string) (string, error)
}

// Templates resolves message templates branch first, then organization, then the
// built-in defaults.
type Templates struct {
	store   settings.Store
	decrypt ValueDecrypter
	logger  zerolog.Logger
}

// NewTemplates creates a template resolver over the stored settings.
func NewTemplates(store settings.Store, decrypt ValueDecrypter, logger zerolog.Logger) *Templates {
	return &Templates{
		store:   store,
		decrypt: decrypt,
		logger:  logger.With().Str("component", "templates").Logger(),
	}
}

// Resolve returns the template for typ in lang and the tier it came from. Lookup or
// decryption failures at a tier are logged and treated as not found there.
func (t *Templates) Resolve(ctx context.Context, scope settings.Scope, typ model.NotificationType, lang string) (model.MessageTemplate, string, bool) {
	if scope.BranchID != nil {
		branch, err := t.store.GetBranch(ctx, *scope.BranchID)
		if err != nil {
			t.logger.Warn().Err(err).Int64("branch_id", *scope.BranchID).Msg("Branch templates unavailable")
		} else if tpl, ok := t.fromRaw(branch.MessageTemplates, typ, lang); ok {
			return tpl, TierBranch, true
		}
	}

	org, err := t.store.GetOrganization(ctx, scope.OrganizationID)
	if err != nil {
		t.logger.Warn().Err(err).Int64("organization_id", scope.OrganizationID).Msg("Organization templates unavailable")
	} else if tpl, ok := t.usable(org.Settings.MessageTemplates, typ, lang); ok {
		return tpl, TierOrganization, true
	}

	if tpl, ok := DefaultTemplate(typ, lang); ok {
		return tpl, TierDefault, true
	}
	return model.MessageTemplate{}, "", false
}

func (t *Templates) fromRaw(raw json.RawMessage, typ model.NotificationType, lang string) (model.MessageTemplate, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.MessageTemplate{}, false
	}
	var set model.MessageTemplates
	if err := json.Unmarshal(raw, &set); err != nil {
		t.logger.Warn().Err(err).Msg("Unreadable branch templates")
		return model.MessageTemplate{}, false
	}
	return t.usable(set, typ, lang)
}

func (t *Templates) usable(set model.MessageTemplates, typ model.NotificationType, lang string) (model.MessageTemplate, bool) {
	tpl, ok := set.Lookup(typ, lang)
	if !ok {
		return model.MessageTemplate{}, false
	}
	body, err := t.decrypt.DecryptValue(tpl.Body)
	if err != nil {
		t.logger.Warn().Err(err).Str("type", string(typ)).Str("lang", lang).Msg("Failed to decrypt template")
		return model.MessageTemplate{}, false
	}
	subject, err := t.decrypt.DecryptValue(tpl.Subject)
	if err != nil {
		t.logger.Warn().Err(err).Str("type", string(typ)).Str("lang", lang).Msg("Failed to decrypt template subject")
		return model.MessageTemplate{}, false
	}
	return model.MessageTemplate{Subject: subject, Body: body}, true
}

// Render replaces {{name}} placeholders with vars. Unknown placeholders are left as is.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

var defaultTemplates = model.MessageTemplates{
	model.NotificationInvitation: {
		"es": {
			Subject: "Tu reserva está confirmada - Check-in en línea",
			Body: "Hola {{guestName}},\n\n¡Bienvenido! Tu reserva ha sido confirmada.\n" +
				"Cargos: {{amount}} {{currency}}\n\n" +
				"Puedes realizar el check-in en línea aquí:\n{{checkInLink}}\n\n" +
				"Por favor, realiza el pago por adelantado:\n{{paymentLink}}\n\n¡Te esperamos!",
		},
		"en": {
			Subject: "Your booking is confirmed - Online check-in",
			Body: "Hello {{guestName}},\n\nWelcome! Your booking has been confirmed.\n" +
				"Charges: {{amount}} {{currency}}\n\n" +
				"You can check in online here:\n{{checkInLink}}\n\n" +
				"Please complete the payment in advance:\n{{paymentLink}}\n\nWe look forward to seeing you!",
		},
		"de": {
			Subject: "Ihre Reservierung ist bestätigt - Online Check-in",
			Body: "Hallo {{guestName}},\n\nwillkommen! Ihre Reservierung wurde bestätigt.\n" +
				"Betrag: {{amount}} {{currency}}\n\n" +
				"Hier können Sie online einchecken:\n{{checkInLink}}\n\n" +
				"Bitte bezahlen Sie im Voraus:\n{{paymentLink}}\n\nWir freuen uns auf Sie!",
		},
	},
	model.NotificationPin: {
		"es": {
			Subject: "Tu código de acceso",
			Body: "Hola {{guestName}},\n\nTu pago ha sido recibido.\n" +
				"Habitación: {{roomNumber}} ({{roomDescription}})\n" +
				"PIN de la puerta: {{doorPin}}\nApp: {{doorAppName}}\n\n¡Te deseamos una estancia agradable!",
		},
		"en": {
			Subject: "Your door access code",
			Body: "Hello {{guestName}},\n\nYour payment has been received.\n" +
				"Room: {{roomNumber}} ({{roomDescription}})\n" +
				"Door PIN: {{doorPin}}\nApp: {{doorAppName}}\n\nEnjoy your stay!",
		},
		"de": {
			Subject: "Ihr Türcode",
			Body: "Hallo {{guestName}},\n\nIhre Zahlung ist eingegangen.\n" +
				"Zimmer: {{roomNumber}} ({{roomDescription}})\n" +
				"Tür-PIN: {{doorPin}}\nApp: {{doorAppName}}\n\nWir wünschen Ihnen einen angenehmen Aufenthalt!",
		},
	},
	model.NotificationCheckInConfirmation: {
		"es": {
			Subject: "Tu check-in se ha completado",
			Body: "Hola {{guestName}},\n\n¡Tu check-in se ha completado exitosamente!\n\n" +
				"Habitación: {{roomNumber}}\nDescripción: {{roomDescription}}\n" +
				"PIN de la puerta: {{doorPin}}\nApp: {{doorAppName}}\n\n¡Te deseamos una estancia agradable!",
		},
		"en": {
			Subject: "Your check-in is complete",
			Body: "Hello {{guestName}},\n\nYour check-in has been completed successfully!\n\n" +
				"Room: {{roomNumber}}\nDescription: {{roomDescription}}\n" +
				"Door PIN: {{doorPin}}\nApp: {{doorAppName}}\n\nEnjoy your stay!",
		},
		"de": {
			Subject: "Ihr Check-in ist abgeschlossen",
			Body: "Hallo {{guestName}},\n\nIhr Check-in wurde erfolgreich abgeschlossen!\n\n" +
				"Zimmer: {{roomNumber}}\nBeschreibung: {{roomDescription}}\n" +
				"Tür-PIN: {{doorPin}}\nApp: {{doorAppName}}\n\nWir wünschen Ihnen einen angenehmen Aufenthalt!",
		},
	},
}

// DefaultTemplate returns the built-in template, falling back to Spanish.
func DefaultTemplate(typ model.NotificationType, lang string) (model.MessageTemplate, bool) {
	if tpl, ok := defaultTemplates.Lookup(typ, lang); ok {
		return tpl, true
	}
	return defaultTemplates.Lookup(typ, defaultLanguage)
}

var germanNationalities = map[string]bool{
	"de": true, "at": true, "ch": true, "deu": true, "aut": true, "che": true,
	"germany": true, "deutschland": true, "austria": true, "österreich": true,
	"switzerland": true, "schweiz": true, "alemania": true,
}

var spanishNationalities = map[string]bool{
	"co": true, "es": true, "mx": true, "ar": true, "cl": true, "pe": true, "ec": true,
	"ve": true, "uy": true, "py": true, "bo": true, "cr": true, "pa": true, "gt": true,
	"hn": true, "sv": true, "ni": true, "do": true, "cu": true, "pr": true,
	"col": true, "esp": true, "mex": true, "arg": true, "chl": true, "per": true, "ecu": true,
	"colombia": true, "españa": true, "spain": true, "mexico": true, "méxico": true,
	"argentina": true, "chile": true, "peru": true, "perú": true, "ecuador": true,
	"venezuela": true, "uruguay": true, "paraguay": true, "bolivia": true,
}

// LanguageFor picks the message language from a guest's nationality. Unknown
// nationalities get English; a missing one gets Spanish.
func LanguageFor(nationality string) string {
	n := strings.ToLower(strings.TrimSpace(nationality))
	switch {
	case n == "":
		return defaultLanguage
	case spanishNationalities[n]:
		return "es"
	case germanNationalities[n]:
		return "de"
	default:
		return "en"
	}
}
