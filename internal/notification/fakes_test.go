package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/guest-access-service/internal/crypto"
	"github.com/teresa-solution/guest-access-service/internal/doorlock"
	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/messaging/email"
	"github.com/teresa-solution/guest-access-service/internal/messaging/whatsapp"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// 2026-10-15 14:30 in Bogotá.
var fixedNow = time.Date(2026, 10, 15, 19, 30, 0, 0, time.UTC)

func newTestCodec(t *testing.T) *settings.Codec {
	c, err := crypto.NewCipher(testKey)
	require.NoError(t, err)
	return settings.NewCodec(c, zerolog.Nop())
}

type fakeReservations struct {
	mu        sync.Mutex
	items     map[int64]*model.Reservation
	updates   []model.ReservationUpdate
	updateErr error
}

func newFakeReservations(rs ...*model.Reservation) *fakeReservations {
	f := &fakeReservations{items: map[int64]*model.Reservation{}}
	for _, r := range rs {
		f.items[r.ID] = r
	}
	return f
}

func (f *fakeReservations) GetReservation(_ context.Context, id int64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, errs.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReservations) UpdateReservation(_ context.Context, id int64, u model.ReservationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.updateErr != nil {
		return f.updateErr
	}
	r, ok := f.items[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.Apply(r)
	return nil
}

func (f *fakeReservations) get(id int64) model.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

type fakeSettings struct {
	orgs     map[int64]*model.Organization
	branches map[int64]*model.Branch
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		orgs:     map[int64]*model.Organization{1: {ID: 1, Name: "La Familia"}},
		branches: map[int64]*model.Branch{},
	}
}

func (f *fakeSettings) GetOrganization(_ context.Context, id int64) (*model.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (f *fakeSettings) GetBranch(_ context.Context, id int64) (*model.Branch, error) {
	b, ok := f.branches[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []model.NotificationLogEntry
	err     error
}

func (f *fakeLogStore) InsertNotificationLog(_ context.Context, e model.NotificationLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogStore) ListNotificationLogs(_ context.Context, id int64) ([]model.NotificationLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.NotificationLogEntry
	for _, e := range f.entries {
		if e.ReservationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLogStore) byType(typ model.NotificationType) []model.NotificationLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.NotificationLogEntry
	for _, e := range f.entries {
		if e.NotificationType == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakePublisher struct {
	published []model.NotificationLogEntry
	err       error
}

func (f *fakePublisher) PublishNotificationLog(_ context.Context, e model.NotificationLogEntry) error {
	f.published = append(f.published, e)
	return f.err
}

type fakeWhatsApp struct {
	sent []whatsapp.Message
	err  error
}

func (f *fakeWhatsApp) SendWithFallback(_ context.Context, _ settings.Scope, msg whatsapp.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeEmail struct {
	sent []email.Message
	err  error
}

func (f *fakeEmail) Send(_ context.Context, _ settings.Scope, msg email.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakePayments struct {
	created int
	err     error
}

func (f *fakePayments) EnsurePaymentLink(_ context.Context, r *model.Reservation) (string, error) {
	if r.PaymentLink != "" {
		return r.PaymentLink, nil
	}
	if f.err != nil {
		return "", f.err
	}
	f.created++
	r.PaymentLink = fmt.Sprintf("https://checkout.test/%d", r.ID)
	return r.PaymentLink, nil
}

type fakeLock struct {
	ids      []string
	app      string
	err      error
	calls    int
	lastName string
}

func (f *fakeLock) LockIDs() []string { return f.ids }

func (f *fakeLock) AppName() string { return f.app }

func (f *fakeLock) CreateTemporaryPasscode(_ context.Context, lockID string, start, end time.Time, name string) (*doorlock.Passcode, error) {
	f.calls++
	f.lastName = name
	if f.err != nil {
		return nil, f.err
	}
	return &doorlock.Passcode{ID: "pc-1", Code: "482913", Name: name, StartDate: start, EndDate: end}, nil
}

type fakeLocks struct {
	lock *fakeLock
	err  error
}

func (f *fakeLocks) LockFor(context.Context, *model.Reservation) (Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lock, nil
}

type fixture struct {
	reservations *fakeReservations
	settings     *fakeSettings
	logs         *fakeLogStore
	publisher    *fakePublisher
	whatsApp     *fakeWhatsApp
	email        *fakeEmail
	payments     *fakePayments
	locks        *fakeLocks
	orch         *Orchestrator
}

func newFixture(t *testing.T, rs ...*model.Reservation) *fixture {
	f := &fixture{
		reservations: newFakeReservations(rs...),
		settings:     newFakeSettings(),
		logs:         &fakeLogStore{},
		publisher:    &fakePublisher{},
		whatsApp:     &fakeWhatsApp{},
		email:        &fakeEmail{},
		payments:     &fakePayments{},
		locks:        &fakeLocks{lock: &fakeLock{ids: []string{"lock-1"}, app: "TTLock"}},
	}
	f.build(t, f.locks)
	return f
}

func (f *fixture) build(t *testing.T, locks LockProvider) {
	recorder := NewRecorder(f.logs, f.publisher, zerolog.Nop())
	f.orch = NewOrchestrator(Dependencies{
		Reservations: f.reservations,
		Settings:     f.settings,
		Payments:     f.payments,
		Locks:        locks,
		WhatsApp:     f.whatsApp,
		Email:        f.email,
		Templates:    NewTemplates(f.settings, newTestCodec(t), zerolog.Nop()),
		Recorder:     recorder,
		Logs:         f.logs,
	}, Config{
		FrontendURL:        "https://app.lafamilia.test/",
		InvitationTemplate: "reservation_checkin_invitation",
		PinTemplate:        "reservation_door_pin",
		CheckInTemplate:    "reservation_checkin_completed",
	}, zerolog.Nop()).WithClock(func() time.Time { return fixedNow })
}

func testReservation() *model.Reservation {
	return &model.Reservation{
		ID:             42,
		OrganizationID: 1,
		GuestName:      "Ana Gómez",
		GuestPhone:     "+573001112233",
		GuestEmail:     "ana@example.com",
		CheckInDate:    fixedNow.Add(24 * time.Hour),
		CheckOutDate:   fixedNow.Add(72 * time.Hour),
		RoomNumber:     "12",
		Amount:         150000,
		Currency:       "COP",
		Status:         model.StatusConfirmed,
		PaymentStatus:  model.PaymentPending,
	}
}

// lockPlatform is a minimal lock API serving token and passcode calls.
type lockPlatform struct {
	mu        sync.Mutex
	passcodes []map[string]string
}

func newLockPlatform(t *testing.T) (*lockPlatform, *httptest.Server) {
	p := &lockPlatform{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		defer p.mu.Unlock()
		switch {
		case r.URL.Path == "/oauth2/token":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 7776000})
		case r.URL.Path == "/v3/keyboardPwd/get":
			form := map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			p.passcodes = append(p.passcodes, form)
			_ = json.NewEncoder(w).Encode(map[string]any{"keyboardPwdId": 9001, "keyboardPwd": "73519264"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errcode":-1,"errmsg":"unknown"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return p, srv
}

type nopSaver struct{}

func (nopSaver) SaveDoorAccessToken(context.Context, settings.Scope, settings.Source, string, *time.Time) error {
	return nil
}

var errBoom = errors.New("boom")
