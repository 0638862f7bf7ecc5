package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

const defaultPort = 587

// SettingsResolver yields decrypted SMTP settings with branch fallback.
type SettingsResolver interface {
	Email(ctx context.Context, scope settings.Scope) (*model.EmailSettings, error)
}

// Dialer sends composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// DialerFactory builds a Dialer for one SMTP account.
type DialerFactory func(host string, port int, user, pass string) Dialer

func gomailDialer(host string, port int, user, pass string) Dialer {
	return gomail.NewDialer(host, port, user, pass)
}

// Message is one outbound guest email. Body is plain text; an HTML alternative is
// derived from it.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers email over the SMTP server configured for the tenant.
type Sender struct {
	resolver SettingsResolver
	dial     DialerFactory
	logger   zerolog.Logger
}

// NewSender creates a sender resolving SMTP settings per scope.
func NewSender(resolver SettingsResolver, logger zerolog.Logger) *Sender {
	return &Sender{
		resolver: resolver,
		dial:     gomailDialer,
		logger:   logger.With().Str("component", "email").Logger(),
	}
}

// WithDialer replaces the SMTP transport.
func (s *Sender) WithDialer(f DialerFactory) *Sender {
	s.dial = f
	return s
}

// Send delivers msg with the scope's SMTP account.
func (s *Sender) Send(ctx context.Context, scope settings.Scope, msg Message) (err error) {
	cfg, err := s.resolver.Email(ctx, scope)
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("email: empty recipient")
	}

	start := time.Now()
	defer func() { monitoring.ObserveProviderCall("smtp", "send", start, err) }()

	from := cfg.FromEmail
	if from == "" {
		from = cfg.SMTPUser
	}
	m := gomail.NewMessage()
	if cfg.FromName != "" {
		m.SetAddressHeader("From", from, cfg.FromName)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	m.AddAlternative("text/html", toHTML(msg.Body))

	port := cfg.SMTPPort
	if port == 0 {
		port = defaultPort
	}
	if err := s.dial(cfg.SMTPHost, port, cfg.SMTPUser, cfg.SMTPPass).DialAndSend(m); err != nil {
		return &errs.ProviderUnavailableError{Provider: "smtp", Err: fmt.Errorf("send to %s: %w", msg.To, err)}
	}

	s.logger.Debug().Int64("organization_id", scope.OrganizationID).Str("to", msg.To).Msg("Email sent")
	return nil
}

func toHTML(body string) string {
	lines := strings.Split(html.EscapeString(body), "\n")
	return "<html><body><p>" + strings.Join(lines, "<br>") + "</p></body></html>"
}
