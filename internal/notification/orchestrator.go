package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/doorlock"
	"github.com/teresa-solution/guest-access-service/internal/messaging/email"
	"github.com/teresa-solution/guest-access-service/internal/messaging/whatsapp"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

var (
	ErrNoContact      = errors.New("no contact info")
	ErrNoLock         = errors.New("no lock configured")
	ErrNotCheckedIn   = errors.New("reservation is not checked in")
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

const defaultAppName = "TTLock"

// ReservationStore is the reservation access the orchestrator needs.
type ReservationStore interface {
	GetReservation(ctx context.Context, id int64) (*model.Reservation, error)
	UpdateReservation(ctx context.Context, id int64, u model.ReservationUpdate) error
}

// PaymentLinks returns a reservation's payment link, creating it only once.
type PaymentLinks interface {
	EnsurePaymentLink(ctx context.Context, r *model.Reservation) (string, error)
}

// Lock is a resolved door-lock client.
type Lock interface {
	LockIDs() []string
	AppName() string
	CreateTemporaryPasscode(ctx context.Context, lockID string, start, end time.Time, name string) (*doorlock.Passcode, error)
}

// LockProvider builds the lock client for a reservation.
type LockProvider interface {
	LockFor(ctx context.Context, r *model.Reservation) (Lock, error)
}

type factoryLocks struct{ f *doorlock.Factory }

func (l factoryLocks) LockFor(ctx context.Context, r *model.Reservation) (Lock, error) {
	c, err := l.f.ForReservation(ctx, r)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DoorLocks adapts a door-lock factory.
func DoorLocks(f *doorlock.Factory) LockProvider { return factoryLocks{f: f} }

// WhatsAppSender sends a message, falling back to an approved template.
type WhatsAppSender interface {
	SendWithFallback(ctx context.Context, scope settings.Scope, msg whatsapp.Message) error
}

// EmailSender sends an email.
type EmailSender interface {
	Send(ctx context.Context, scope settings.Scope, msg email.Message) error
}

// LogRecorder appends audit entries without failing the caller.
type LogRecorder interface {
	Record(ctx context.Context, entry model.NotificationLogEntry)
}

// Config holds the deployment-level knobs of the orchestrator.
type Config struct {
	FrontendURL        string
	InvitationTemplate string
	PinTemplate        string
	CheckInTemplate    string
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Reservations ReservationStore
	Settings     settings.Store
	Payments     PaymentLinks
	Locks        LockProvider
	WhatsApp     WhatsAppSender
	Email        EmailSender
	Templates    *Templates
	Recorder     LogRecorder
	Logs         LogStore
}

// ChannelResult is the outcome of one delivery channel.
type ChannelResult struct {
	Channel model.NotificationChannel
	Success bool
	Error   string
}

// Result reports what an operation produced. Artifacts are set even when delivery
// failed.
type Result struct {
	ReservationID int64
	Success       bool
	Skipped       bool
	PaymentLink   string
	CheckInLink   string
	DoorPin       string
	Message       string
	Channels      []ChannelResult
}

func (r *Result) failure() error {
	reasons := make([]string, 0, len(r.Channels))
	for _, c := range r.Channels {
		if !c.Success {
			reasons = append(reasons, string(c.Channel)+": "+c.Error)
		}
	}
	if len(reasons) == 0 {
		return ErrDeliveryFailed
	}
	return fmt.Errorf("%w: %s", ErrDeliveryFailed, strings.Join(reasons, "; "))
}

// Orchestrator runs the guest notification flows and records every outcome.
type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(deps Dependencies, cfg Config, logger zerolog.Logger) *Orchestrator {
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "notification").Logger(),
	}
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SendReservationInvitation sends the check-in invitation with the payment link. A
// reservation that was already invited is skipped.
func (o *Orchestrator) SendReservationInvitation(ctx context.Context, reservationID int64) (*Result, error) {
	r, err := o.deps.Reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation %d: %w", reservationID, err)
	}
	log := o.logger.With().Int64("reservation_id", r.ID).Str("type", string(model.NotificationInvitation)).Logger()
	res := &Result{ReservationID: r.ID, PaymentLink: r.PaymentLink}

	if r.InvitationSentAt != nil {
		log.Debug().Msg("Invitation already sent, skipping")
		res.Success, res.Skipped = true, true
		return res, nil
	}
	if !r.HasContact() {
		o.fail(ctx, r, model.NotificationInvitation, "no contact info: guest has neither phone nor email", nil)
		return res, ErrNoContact
	}

	res.CheckInLink = o.checkInLink(r.ID)
	link, err := o.deps.Payments.EnsurePaymentLink(ctx, r)
	if err != nil {
		o.fail(ctx, r, model.NotificationInvitation, "payment link missing: "+err.Error(), func(e *model.NotificationLogEntry) {
			e.CheckInLink = res.CheckInLink
		})
		return res, fmt.Errorf("payment link: %w", err)
	}
	res.PaymentLink = link

	o.deliver(ctx, r, delivery{
		typ:         model.NotificationInvitation,
		template:    o.cfg.InvitationTemplate,
		params:      []string{r.GuestName, res.CheckInLink, link},
		paymentLink: link,
		checkInLink: res.CheckInLink,
		vars: map[string]string{
			"amount":      strconv.FormatFloat(r.Amount, 'f', -1, 64),
			"currency":    r.Currency,
			"checkInLink": res.CheckInLink,
			"paymentLink": link,
		},
	}, o.enabledChannels(ctx, r), res)

	if !res.Success {
		log.Warn().Msg("Invitation could not be delivered on any channel")
		return res, res.failure()
	}

	now := o.now()
	u := model.ReservationUpdate{SentMessage: &res.Message, SentMessageAt: &now, InvitationSentAt: &now}
	if r.Status == model.StatusConfirmed {
		status := model.StatusNotificationSent
		u.Status = &status
	}
	o.persistAfterSend(ctx, r, model.NotificationInvitation, u, res)
	log.Info().Msg("Invitation sent")
	return res, nil
}

// GeneratePinAndSendNotification issues (or reuses) the guest's door passcode and sends
// it on every enabled channel.
func (o *Orchestrator) GeneratePinAndSendNotification(ctx context.Context, reservationID int64) (*Result, error) {
	return o.issuePin(ctx, reservationID, true)
}

// IssuePinAfterPayment is the payment-webhook entry point. WhatsApp is only used when
// withWhatsApp is set.
func (o *Orchestrator) IssuePinAfterPayment(ctx context.Context, reservationID int64, withWhatsApp bool) error {
	_, err := o.issuePin(ctx, reservationID, withWhatsApp)
	return err
}

func (o *Orchestrator) issuePin(ctx context.Context, reservationID int64, withWhatsApp bool) (*Result, error) {
	r, err := o.deps.Reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation %d: %w", reservationID, err)
	}
	res := &Result{ReservationID: r.ID, PaymentLink: r.PaymentLink}

	channels := o.enabledChannels(ctx, r)
	if !withWhatsApp {
		channels.whatsApp = false
	}

	pin, appName, err := o.ensurePin(ctx, r)
	if err != nil {
		o.fail(ctx, r, model.NotificationPin, err.Error(), nil)
		return res, err
	}
	res.DoorPin = pin

	o.deliver(ctx, r, delivery{
		typ:      model.NotificationPin,
		template: o.cfg.PinTemplate,
		params:   []string{r.GuestName, orNA(r.RoomNumber), orNA(r.RoomDescription), pin, appName},
		vars:     map[string]string{"doorPin": pin, "doorAppName": appName},
	}, channels, res)

	if !res.Success {
		return res, res.failure()
	}
	now := o.now()
	o.persistAfterSend(ctx, r, model.NotificationPin, model.ReservationUpdate{SentMessage: &res.Message, SentMessageAt: &now}, res)
	return res, nil
}

// SendCheckInConfirmation notifies a checked-in guest of room and access details.
func (o *Orchestrator) SendCheckInConfirmation(ctx context.Context, reservationID int64) (*Result, error) {
	r, err := o.deps.Reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("load reservation %d: %w", reservationID, err)
	}
	res := &Result{ReservationID: r.ID, PaymentLink: r.PaymentLink}

	if r.Status != model.StatusCheckedIn {
		o.fail(ctx, r, model.NotificationCheckInConfirmation, "reservation is not checked in (status "+string(r.Status)+")", nil)
		return res, ErrNotCheckedIn
	}

	// The confirmation still goes out without a pin; the failure is logged on its own.
	pin, appName, err := o.ensurePin(ctx, r)
	if err != nil {
		o.fail(ctx, r, model.NotificationPin, err.Error(), nil)
		pin, appName = "N/A", defaultAppName
	}
	res.DoorPin = r.DoorPin

	o.deliver(ctx, r, delivery{
		typ:      model.NotificationCheckInConfirmation,
		template: o.cfg.CheckInTemplate,
		params:   []string{r.GuestName, orNA(r.RoomNumber), orNA(r.RoomDescription), pin, appName},
		vars:     map[string]string{"doorPin": pin, "doorAppName": appName},
	}, o.enabledChannels(ctx, r), res)

	if !res.Success {
		return res, res.failure()
	}
	now := o.now()
	o.persistAfterSend(ctx, r, model.NotificationCheckInConfirmation, model.ReservationUpdate{SentMessage: &res.Message, SentMessageAt: &now}, res)
	return res, nil
}

// ListNotificationLogs returns a reservation's audit trail, newest first.
func (o *Orchestrator) ListNotificationLogs(ctx context.Context, reservationID int64) ([]model.NotificationLogEntry, error) {
	entries, err := o.deps.Logs.ListNotificationLogs(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("list notification logs for reservation %d: %w", reservationID, err)
	}
	slices.SortStableFunc(entries, func(a, b model.NotificationLogEntry) int {
		return b.SentAt.Compare(a.SentAt)
	})
	return entries, nil
}

// ensurePin returns the stored, unrevoked pin or issues a new passcode on the first
// configured lock and persists it.
func (o *Orchestrator) ensurePin(ctx context.Context, r *model.Reservation) (string, string, error) {
	if r.DoorPin != "" && r.DoorPinRevokedAt == nil {
		appName := r.DoorAppName
		if appName == "" {
			appName = defaultAppName
		}
		return r.DoorPin, appName, nil
	}

	lock, err := o.deps.Locks.LockFor(ctx, r)
	if err != nil {
		return "", "", fmt.Errorf("door lock: %w", err)
	}
	ids := lock.LockIDs()
	if len(ids) == 0 {
		return "", "", ErrNoLock
	}
	lockID := ids[0]
	appName := lock.AppName()
	if appName == "" {
		appName = defaultAppName
	}

	pc, err := lock.CreateTemporaryPasscode(ctx, lockID, r.CheckInDate, r.CheckOutDate, "Guest: "+r.GuestName)
	if err != nil {
		return "", "", fmt.Errorf("create passcode: %w", err)
	}

	u := model.ReservationUpdate{DoorPin: &pc.Code, DoorLockID: &lockID, DoorAppName: &appName, ClearDoorPinRevokedAt: true}
	if err := o.deps.Reservations.UpdateReservation(ctx, r.ID, u); err != nil {
		o.logger.Error().Err(err).Int64("reservation_id", r.ID).Str("lock_id", lockID).Msg("Failed to persist door pin")
		o.fail(ctx, r, model.NotificationPin, "reservation update after passcode creation failed: "+err.Error(), nil)
	}
	u.Apply(r)
	return pc.Code, appName, nil
}

type delivery struct {
	typ         model.NotificationType
	template    string
	params      []string
	vars        map[string]string
	paymentLink string
	checkInLink string
}

type channelSet struct {
	whatsApp bool
	email    bool
}

// deliver attempts every enabled channel the guest can be reached on. Each attempt is
// logged on its own; res.Success is true when any channel succeeded.
func (o *Orchestrator) deliver(ctx context.Context, r *model.Reservation, d delivery, channels channelSet, res *Result) {
	scope := settings.ScopeOf(r)
	lang := LanguageFor(r.GuestNationality)

	tpl, tier, ok := o.deps.Templates.Resolve(ctx, scope, d.typ, lang)
	if !ok {
		o.fail(ctx, r, d.typ, "template missing for language "+lang, nil)
		return
	}

	vars := map[string]string{
		"guestName":       r.GuestName,
		"roomNumber":      orNA(r.RoomNumber),
		"roomDescription": orNA(r.RoomDescription),
	}
	for k, v := range d.vars {
		vars[k] = v
	}
	body := Render(tpl.Body, vars)
	subject := Render(tpl.Subject, vars)
	res.Message = body

	o.logger.Debug().Int64("reservation_id", r.ID).Str("type", string(d.typ)).
		Str("lang", lang).Str("tier", tier).Msg("Resolved message template")

	attempted := false
	if channels.whatsApp && r.GuestPhone != "" {
		attempted = true
		err := o.deps.WhatsApp.SendWithFallback(ctx, scope, whatsapp.Message{
			To:       r.GuestPhone,
			Body:     body,
			Template: d.template,
			Params:   d.params,
			Language: lang,
		})
		o.recordAttempt(ctx, r, d, model.ChannelWhatsApp, r.GuestPhone, body, err, res)
	}
	if channels.email && r.GuestEmail != "" {
		attempted = true
		err := o.deps.Email.Send(ctx, scope, email.Message{To: r.GuestEmail, Subject: subject, Body: body})
		o.recordAttempt(ctx, r, d, model.ChannelEmail, r.GuestEmail, body, err, res)
	}

	if !attempted {
		o.fail(ctx, r, d.typ, "no contact info for the enabled notification channels", nil)
	}
}

func (o *Orchestrator) recordAttempt(ctx context.Context, r *model.Reservation, d delivery, ch model.NotificationChannel, to, body string, err error, res *Result) {
	entry := model.NotificationLogEntry{
		ID:               uuid.New(),
		ReservationID:    r.ID,
		NotificationType: d.typ,
		Channel:          ch,
		Success:          err == nil,
		SentTo:           to,
		Message:          body,
		PaymentLink:      d.paymentLink,
		CheckInLink:      d.checkInLink,
		SentAt:           o.now(),
	}
	cr := ChannelResult{Channel: ch, Success: err == nil}
	if err != nil {
		entry.ErrorMessage = err.Error()
		cr.Error = err.Error()
		o.logger.Warn().Err(err).Int64("reservation_id", r.ID).Str("channel", string(ch)).
			Str("type", string(d.typ)).Msg("Notification channel failed")
	} else {
		res.Success = true
	}
	res.Channels = append(res.Channels, cr)
	o.deps.Recorder.Record(ctx, entry)
}

// persistAfterSend writes the post-delivery reservation fields. The guest already has the
// message, so a failed write is logged rather than returned.
func (o *Orchestrator) persistAfterSend(ctx context.Context, r *model.Reservation, typ model.NotificationType, u model.ReservationUpdate, res *Result) {
	if err := o.deps.Reservations.UpdateReservation(ctx, r.ID, u); err != nil {
		o.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("Failed to update reservation after send")
		o.fail(ctx, r, typ, "reservation update after send failed: "+err.Error(), func(e *model.NotificationLogEntry) {
			e.PaymentLink = res.PaymentLink
			e.CheckInLink = res.CheckInLink
		})
		return
	}
	u.Apply(r)
}

// fail records a single failed entry for a branch that never reached a channel.
func (o *Orchestrator) fail(ctx context.Context, r *model.Reservation, typ model.NotificationType, reason string, decorate func(*model.NotificationLogEntry)) {
	entry := model.NotificationLogEntry{
		ID:               uuid.New(),
		ReservationID:    r.ID,
		NotificationType: typ,
		Channel:          contactChannel(r),
		SentTo:           contactAddress(r),
		PaymentLink:      r.PaymentLink,
		ErrorMessage:     reason,
		SentAt:           o.now(),
	}
	if decorate != nil {
		decorate(&entry)
	}
	o.logger.Warn().Int64("reservation_id", r.ID).Str("type", string(typ)).Str("reason", reason).Msg("Notification step failed")
	o.deps.Recorder.Record(ctx, entry)
}

// enabledChannels reads the tenant's notification channel list, branch first. With
// nothing configured both channels are enabled.
func (o *Orchestrator) enabledChannels(ctx context.Context, r *model.Reservation) channelSet {
	var list []string
	if r.BranchID != nil {
		if branch, err := o.deps.Settings.GetBranch(ctx, *r.BranchID); err == nil {
			if sec, err := settings.DecodeBranchSection(model.ProviderLobbyPms, branch.RawSection(model.ProviderLobbyPms)); err == nil && sec != nil {
				list = sec.(*model.LobbyPmsSettings).NotificationChannels
			}
		}
	}
	if len(list) == 0 {
		if org, err := o.deps.Settings.GetOrganization(ctx, r.OrganizationID); err == nil && org.Settings.LobbyPms != nil {
			list = org.Settings.LobbyPms.NotificationChannels
		}
	}
	if len(list) == 0 {
		return channelSet{whatsApp: true, email: true}
	}

	var set channelSet
	for _, ch := range list {
		switch model.NotificationChannel(strings.ToLower(ch)) {
		case model.ChannelWhatsApp:
			set.whatsApp = true
		case model.ChannelEmail:
			set.email = true
		case model.ChannelBoth:
			set.whatsApp, set.email = true, true
		}
	}
	return set
}

func (o *Orchestrator) checkInLink(id int64) string {
	return fmt.Sprintf("%s/check-in/%d", o.cfg.FrontendURL, id)
}

func contactChannel(r *model.Reservation) model.NotificationChannel {
	switch {
	case r.GuestPhone != "" && r.GuestEmail == "":
		return model.ChannelWhatsApp
	case r.GuestEmail != "" && r.GuestPhone == "":
		return model.ChannelEmail
	default:
		return model.ChannelBoth
	}
}

func contactAddress(r *model.Reservation) string {
	if r.GuestPhone != "" {
		return r.GuestPhone
	}
	return r.GuestEmail
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
