// Package whatsapp delivers guest messages over the WhatsApp Business API or Twilio.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

const (
	ProviderBusinessAPI = "whatsapp-business-api"
	ProviderTwilio      = "twilio"

	defaultGraphURL  = "https://graph.facebook.com/v18.0"
	defaultTwilioURL = "https://api.twilio.com/2010-04-01"
	defaultLanguage  = "es"
)

// SettingsResolver yields decrypted messaging settings with branch fallback.
type SettingsResolver interface {
	WhatsApp(ctx context.Context, scope settings.Scope) (*model.WhatsAppSettings, error)
}

// Message is one outbound guest message. Template and Params are used when the
// free-form session message is refused.
type Message struct {
	To       string
	Body     string
	Template string
	Params   []string
	Language string
}

// Sender delivers WhatsApp messages through the provider configured for the tenant.
type Sender struct {
	resolver   SettingsResolver
	httpClient *http.Client
	graphURL   string
	twilioURL  string
	logger     zerolog.Logger
}

// Option configures a Sender.
type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option { return func(s *Sender) { s.httpClient = c } }

func WithGraphURL(u string) Option { return func(s *Sender) { s.graphURL = strings.TrimRight(u, "/") } }

func WithTwilioURL(u string) Option { return func(s *Sender) { s.twilioURL = strings.TrimRight(u, "/") } }

// NewSender creates a sender resolving provider credentials per scope.
func NewSender(resolver SettingsResolver, logger zerolog.Logger, opts ...Option) *Sender {
	s := &Sender{
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		graphURL:   defaultGraphURL,
		twilioURL:  defaultTwilioURL,
		logger:     logger.With().Str("component", "whatsapp").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendWithFallback sends msg as a session text and, when that is refused and a template
// is named, retries once as a template message.
func (s *Sender) SendWithFallback(ctx context.Context, scope settings.Scope, msg Message) error {
	cfg, err := s.resolver.WhatsApp(ctx, scope)
	if err != nil {
		return err
	}
	to := NormalizePhone(msg.To)
	if to == "" {
		return errors.New("whatsapp: empty recipient")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderBusinessAPI
	}

	switch provider {
	case ProviderTwilio:
		return s.sendTwilio(ctx, cfg, to, msg.Body)
	case ProviderBusinessAPI:
	default:
		return fmt.Errorf("whatsapp: unknown provider %q", provider)
	}

	textErr := s.sendGraph(ctx, cfg, "send_text", map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": msg.Body},
	})
	if textErr == nil || msg.Template == "" || errors.Is(textErr, errs.ErrProviderUnavailable) {
		return textErr
	}

	s.logger.Info().Err(textErr).Str("template", msg.Template).Msg("Session message refused, retrying with template")
	if err := s.sendGraph(ctx, cfg, "send_template", templatePayload(to, msg)); err != nil {
		return fmt.Errorf("session message failed (%v); template fallback failed: %w", textErr, err)
	}
	return nil
}

func templatePayload(to string, msg Message) map[string]any {
	lang := msg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	tmpl := map[string]any{
		"name":     msg.Template,
		"language": map[string]string{"code": lang},
	}
	if len(msg.Params) > 0 {
		params := make([]map[string]string, 0, len(msg.Params))
		for _, p := range msg.Params {
			params = append(params, map[string]string{"type": "text", "text": p})
		}
		tmpl["components"] = []map[string]any{{"type": "body", "parameters": params}}
	}
	return map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          tmpl,
	}
}

func (s *Sender) sendGraph(ctx context.Context, cfg *model.WhatsAppSettings, op string, payload any) (err error) {
	start := time.Now()
	defer func() { monitoring.ObserveProviderCall("whatsapp", op, start, err) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", s.graphURL, url.PathEscape(cfg.PhoneNumberID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, http.StatusOK)
}

func (s *Sender) sendTwilio(ctx context.Context, cfg *model.WhatsAppSettings, to, body string) (err error) {
	start := time.Now()
	defer func() { monitoring.ObserveProviderCall("whatsapp", "send_twilio", start, err) }()

	from := cfg.PhoneNumberID
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	form := url.Values{"From": {from}, "To": {"whatsapp:" + to}, "Body": {body}}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.twilioURL, url.PathEscape(cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(cfg.APIKey, cfg.APISecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req, http.StatusCreated)
}

func (s *Sender) do(req *http.Request, want int) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &errs.ProviderUnavailableError{Provider: "whatsapp", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 500:
		return &errs.ProviderUnavailableError{Provider: "whatsapp", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &errs.ProviderRejectedError{Provider: "whatsapp", StatusCode: resp.StatusCode, Message: apiMessage(raw)}
	case resp.StatusCode != want:
		return &errs.ProviderRejectedError{Provider: "whatsapp", StatusCode: resp.StatusCode, Message: "unexpected status"}
	}
	return nil
}

func apiMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return strings.TrimSpace(string(raw))
	}
	if body.Error.Message != "" {
		return body.Error.Message
	}
	return body.Message
}

// NormalizePhone strips spaces and dashes and ensures a leading plus.
func NormalizePhone(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "", "\t", "").Replace(phone)
	if phone == "" {
		return ""
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone
}
