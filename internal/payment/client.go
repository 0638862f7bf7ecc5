package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

const (
	providerName   = "bold"
	defaultBaseURL = "https://integrations.api.bold.co"
	linkPath       = "/online/link/v1"

	maxDescription = 100
	minDescription = 2
	maxReference   = 60
)

// WebhookPath receives payment events; the callback URL points here.
const WebhookPath = "/api/bold-payment/webhook"

// ErrAmountBelowMinimum is returned before any network call when the amount is under
// the currency floor.
var ErrAmountBelowMinimum = errors.New("amount below currency minimum")

// ErrLinkNotFound is returned by GetStatus for an unknown link id.
var ErrLinkNotFound = errors.New("payment link not found")

// minimumAmounts are the smallest chargeable totals per currency.
var minimumAmounts = map[string]float64{
	"COP": 1000,
	"USD": 1,
	"EUR": 1,
}

// ValidateAmount checks amount against the currency floor.
func ValidateAmount(amount float64, currency string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrAmountBelowMinimum)
	}
	if floor, ok := minimumAmounts[strings.ToUpper(currency)]; ok && amount < floor {
		return fmt.Errorf("%w: %s %s is below the minimum of %s %s",
			ErrAmountBelowMinimum, formatAmount(amount), currency, formatAmount(floor), currency)
	}
	return nil
}

// SettingsResolver yields decrypted payment settings with branch fallback.
type SettingsResolver interface {
	BoldPayment(ctx context.Context, scope settings.Scope) (*model.BoldPaymentSettings, error)
}

// Factory resolves settings once and returns an immutable Client.
type Factory struct {
	resolver   SettingsResolver
	httpClient *http.Client
	baseURL    string
	appURL     string
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

func WithHTTPClient(c *http.Client) Option { return func(f *Factory) { f.httpClient = c } }

func WithBaseURL(u string) Option { return func(f *Factory) { f.baseURL = strings.TrimRight(u, "/") } }

// WithAppURL sets the public URL used to build the webhook callback.
func WithAppURL(u string) Option { return func(f *Factory) { f.appURL = strings.TrimRight(u, "/") } }

func WithClock(now func() time.Time) Option { return func(f *Factory) { f.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(f *Factory) { f.logger = l } }

// NewFactory creates a payment client factory.
func NewFactory(resolver SettingsResolver, opts ...Option) *Factory {
	f := &Factory{
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ForScope builds a client from the branch or tenant payment settings.
func (f *Factory) ForScope(ctx context.Context, scope settings.Scope) (*Client, error) {
	cfg, err := f.resolver.BoldPayment(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &Client{
		identityKey: cfg.MerchantID,
		baseURL:     f.baseURL,
		callbackURL: callbackURL(f.appURL),
		httpClient:  f.httpClient,
		now:         f.now,
		logger:      f.logger.With().Str("component", "payment").Int64("organization_id", scope.OrganizationID).Logger(),
	}, nil
}

// ForReservation builds a client for the reservation's branch and tenant.
func (f *Factory) ForReservation(ctx context.Context, r *model.Reservation) (*Client, error) {
	return f.ForScope(ctx, settings.ScopeOf(r))
}

// callbackURL is only set for https app URLs; the provider refuses anything else.
func callbackURL(appURL string) string {
	if !strings.HasPrefix(appURL, "https://") {
		return ""
	}
	return appURL + WebhookPath
}

// Client creates and inspects hosted payment links with one resolved identity key.
type Client struct {
	identityKey string
	baseURL     string
	callbackURL string
	httpClient  *http.Client
	now         func() time.Time
	logger      zerolog.Logger
}

// Link is a created payment link.
type Link struct {
	ID        string
	URL       string
	Reference string
}

type linkAmount struct {
	Currency    string    `json:"currency"`
	TotalAmount float64   `json:"total_amount"`
	Subtotal    float64   `json:"subtotal"`
	Taxes       []linkTax `json:"taxes"`
	TipAmount   float64   `json:"tip_amount"`
}

type linkTax struct {
	Type  string  `json:"type"`
	Base  float64 `json:"base"`
	Value float64 `json:"value"`
}

type createLinkRequest struct {
	AmountType  string     `json:"amount_type"`
	Amount      linkAmount `json:"amount"`
	Reference   string     `json:"reference"`
	Description string     `json:"description"`
	CallbackURL string     `json:"callback_url,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

type createLinkResponse struct {
	Payload *struct {
		PaymentLink string `json:"payment_link"`
		URL         string `json:"url"`
	} `json:"payload"`
	Errors []apiError `json:"errors"`
}

// CreatePaymentLink creates a fixed-amount link. Every call produces a new reference, so
// callers must reuse a stored link instead of calling again.
func (c *Client) CreatePaymentLink(ctx context.Context, r *model.Reservation, amount float64, currency, description string) (*Link, error) {
	if currency == "" {
		currency = "COP"
	}
	if err := ValidateAmount(amount, currency); err != nil {
		return nil, err
	}
	desc, err := clampDescription(description, r.GuestName)
	if err != nil {
		return nil, err
	}

	req := createLinkRequest{
		AmountType: "CLOSE",
		Amount: linkAmount{
			Currency:    currency,
			TotalAmount: amount,
			Subtotal:    amount,
			Taxes:       []linkTax{},
		},
		Reference:   Reference(r.ID, c.now()),
		Description: desc,
		CallbackURL: c.callbackURL,
	}

	var resp createLinkResponse
	if err := c.do(ctx, "create_link", http.MethodPost, linkPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Payload == nil || resp.Payload.URL == "" {
		msg := "response carried no payment link"
		if len(resp.Errors) > 0 {
			msg = joinErrors(resp.Errors)
		}
		return nil, &errs.ProviderRejectedError{Provider: providerName, StatusCode: http.StatusOK, Message: msg}
	}

	c.logger.Info().Int64("reservation_id", r.ID).Str("reference", req.Reference).
		Str("payment_link_id", resp.Payload.PaymentLink).Msg("Created payment link")
	return &Link{ID: resp.Payload.PaymentLink, URL: resp.Payload.URL, Reference: req.Reference}, nil
}

// LinkStatus is the provider's view of a link.
type LinkStatus struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
	Reference   string  `json:"reference"`
	Description string  `json:"description"`
	IsSandbox   bool    `json:"is_sandbox"`
}

// GetStatus fetches a link by id.
func (c *Client) GetStatus(ctx context.Context, linkID string) (*LinkStatus, error) {
	var status LinkStatus
	err := c.do(ctx, "get_status", http.MethodGet, linkPath+"/"+url.PathEscape(linkID), nil, &status)
	var rejected *errs.ProviderRejectedError
	if errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { monitoring.ObserveProviderCall(providerName, op, start, err) }()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "x-api-key "+c.identityKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: err}
	}
	if resp.StatusCode >= 500 {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return rejection(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: fmt.Errorf("decode %s response: %w", op, err)}
	}
	return nil
}

// rejection maps a 4xx answer to an error naming the likely misconfiguration.
func rejection(status int, raw []byte) error {
	var body struct {
		Message string     `json:"message"`
		Errors  []apiError `json:"errors"`
	}
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if len(body.Errors) > 0 {
		msg = joinErrors(body.Errors)
	}

	var hint string
	switch status {
	case http.StatusBadRequest:
		hint = "The payment payload was rejected: check amount, currency, reference and description"
	case http.StatusUnauthorized:
		hint = "The identity key was not accepted: check the merchant identity key in the payment settings"
	case http.StatusForbidden:
		hint = "Access denied: check that the payment link API is enabled for this identity key and that the key belongs to the configured environment (sandbox or production)"
	case http.StatusNotFound:
		hint = "The payment link does not exist"
	default:
		hint = "Unexpected answer from the payment provider"
	}
	return &errs.ProviderRejectedError{Provider: providerName, StatusCode: status, Message: msg, Hint: hint}
}

func joinErrors(list []apiError) string {
	msgs := make([]string, 0, len(list))
	for _, e := range list {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, ", ")
}

// Reference builds the idempotency reference RES-<id>-<unix millis>, clamped to the
// provider's length limit.
func Reference(reservationID int64, now time.Time) string {
	ref := fmt.Sprintf("RES-%d-%d", reservationID, now.UnixMilli())
	if len(ref) > maxReference {
		ref = ref[:maxReference]
	}
	return ref
}

// ReservationIDFromReference parses the reservation id out of a reference.
func ReservationIDFromReference(ref string) (int64, bool) {
	rest, ok := strings.CutPrefix(ref, "RES-")
	if !ok {
		return 0, false
	}
	idPart, _, _ := strings.Cut(rest, "-")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func clampDescription(description, guestName string) (string, error) {
	if strings.TrimSpace(description) == "" {
		description = "Reserva " + guestName
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxDescription {
		description = string([]rune(description)[:maxDescription])
	}
	if utf8.RuneCountInString(description) < minDescription {
		return "", fmt.Errorf("payment description must be at least %d characters", minDescription)
	}
	return description, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
