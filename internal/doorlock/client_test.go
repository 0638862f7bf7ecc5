package doorlock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

var bogota = time.FixedZone("COT", -5*3600)

type fakeResolver struct {
	cfg    model.DoorSystemSettings
	source settings.Source
	err    error
}

func (f *fakeResolver) DoorSystem(context.Context, settings.Scope) (*model.DoorSystemSettings, settings.Source, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	cp := f.cfg
	return &cp, f.source, nil
}

type savedToken struct {
	scope  settings.Scope
	source settings.Source
	token  string
	expiry *time.Time
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []savedToken
}

func (f *fakeSaver) SaveDoorAccessToken(_ context.Context, scope settings.Scope, source settings.Source, token string, exp *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, savedToken{scope, source, token, exp})
	return nil
}

// lockPlatform is a minimal stand-in for the lock platform API.
type lockPlatform struct {
	mu        sync.Mutex
	calls     map[string][]url.Values
	expiresIn int
	passcodes map[string]string // id -> code
	createErr int

	// revokedToken is answered with an invalid-token errcode.
	revokedToken string
}

func newLockPlatform(t *testing.T) (*lockPlatform, *httptest.Server) {
	p := &lockPlatform{calls: map[string][]url.Values{}, expiresIn: 7200, passcodes: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *lockPlatform) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls[path])
}

func (p *lockPlatform) last(path string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := p.calls[path]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func (p *lockPlatform) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.calls[r.URL.Path] = append(p.calls[r.URL.Path], r.PostForm)
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(r.URL.Path, "/broken") {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	switch r.URL.Path {
	case "/oauth2/token":
		if r.PostForm.Get("client_secret") != "secret" {
			_ = json.NewEncoder(w).Encode(map[string]any{"errcode": 10001, "errmsg": "invalid client"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-" + strconv.Itoa(p.count("/oauth2/token")), "expires_in": p.expiresIn})
	case "/v3/keyboardPwd/get":
		if p.revokedToken != "" && r.PostForm.Get("accessToken") == p.revokedToken {
			_ = json.NewEncoder(w).Encode(map[string]any{"errcode": errInvalidToken, "errmsg": "invalid access_token"})
			return
		}
		if p.createErr != 0 {
			_ = json.NewEncoder(w).Encode(map[string]any{"errcode": p.createErr, "errmsg": "failed"})
			return
		}
		p.mu.Lock()
		id := len(p.passcodes) + 1
		code := "12345" + strconv.Itoa(id)
		p.passcodes[strconv.Itoa(id)] = code
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"keyboardPwdId": id, "keyboardPwd": code})
	case "/v3/lock/listKeyboardPwd":
		p.mu.Lock()
		var list []map[string]any
		for id, code := range p.passcodes {
			n, _ := strconv.Atoi(id)
			list = append(list, map[string]any{"keyboardPwdId": n, "keyboardPwd": code, "keyboardPwdName": "Guest"})
		}
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"list": list, "pageNo": 1, "pages": 1, "total": len(list)})
	case "/v3/keyboardPwd/delete":
		p.mu.Lock()
		delete(p.passcodes, r.PostForm.Get("keyboardPwdId"))
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "errmsg": "none error message"})
	case "/v3/lock/list":
		_ = json.NewEncoder(w).Encode(map[string]any{"list": []map[string]any{{"lockId": 3001}, {"lockId": "3002"}}, "pages": 1})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fixture struct {
	platform *lockPlatform
	resolver *fakeResolver
	saver    *fakeSaver
	tokens   *TokenCache
	factory  *Factory
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	platform, srv := newLockPlatform(t)
	fx := &fixture{
		platform: platform,
		resolver: &fakeResolver{
			cfg: model.DoorSystemSettings{
				ClientID: "cid", ClientSecret: "secret", Username: "user", Password: "md5hash",
				APIURL: srv.URL, LockIDs: []string{"3001"}, AppName: "TTLock",
			},
			source: settings.SourceBranch,
		},
		saver:  &fakeSaver{},
		tokens: NewTokenCache(time.Hour),
		now:    time.Date(2026, 10, 15, 14, 30, 0, 0, bogota),
	}
	fx.factory = NewFactory(fx.resolver, fx.saver, fx.tokens,
		WithClock(func() time.Time { return fx.now }),
		WithLocation(bogota),
	)
	return fx
}

func (fx *fixture) client(t *testing.T) *Client {
	c, err := fx.factory.ForScope(context.Background(), settings.Scope{OrganizationID: 1, BranchID: int64p(3)})
	require.NoError(t, err)
	return c
}

func int64p(v int64) *int64 { return &v }

func TestAccessToken_ExchangesOnceAndPersists(t *testing.T) {
	fx := newFixture(t)
	c := fx.client(t)

	first, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	second, err := fx.client(t).AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fx.platform.count("/oauth2/token"))

	form := fx.platform.last("/oauth2/token")
	assert.Equal(t, "cid", form.Get("client_id"))
	assert.Equal(t, "md5hash", form.Get("password"))

	require.Len(t, fx.saver.saved, 1)
	saved := fx.saver.saved[0]
	assert.Equal(t, "tok-1", saved.token)
	assert.Equal(t, settings.SourceBranch, saved.source)
	require.NotNil(t, saved.expiry)
	assert.True(t, saved.expiry.Equal(fx.now.Add(2*time.Hour)))
}

func TestAccessToken_StoredTokenWithoutExpiryNeverExpires(t *testing.T) {
	fx := newFixture(t)
	fx.resolver.cfg.AccessToken = "stored"

	tok, err := fx.client(t).AccessToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "stored", tok)
	assert.Zero(t, fx.platform.count("/oauth2/token"))
}

func TestAccessToken_ExpiredStoredTokenIsRefreshed(t *testing.T) {
	fx := newFixture(t)
	past := fx.now.Add(-time.Minute)
	fx.resolver.cfg.AccessToken = "stale"
	fx.resolver.cfg.TokenExpiresAt = &past

	tok, err := fx.client(t).AccessToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, fx.platform.count("/oauth2/token"))
}

func TestAccessToken_ResponseWithoutExpiryIsStoredWithoutExpiry(t *testing.T) {
	fx := newFixture(t)
	fx.platform.expiresIn = 0

	_, err := fx.client(t).AccessToken(context.Background())

	require.NoError(t, err)
	require.Len(t, fx.saver.saved, 1)
	assert.Nil(t, fx.saver.saved[0].expiry)
}

func TestAccessToken_RejectedCredentials(t *testing.T) {
	fx := newFixture(t)
	fx.resolver.cfg.ClientSecret = "wrong"

	_, err := fx.client(t).AccessToken(context.Background())

	assert.ErrorIs(t, err, errs.ErrProviderRejected)
	assert.Contains(t, err.Error(), "errcode 10001")
	assert.Empty(t, fx.saver.saved)
}

func TestCreateTemporaryPasscode_ClampsWindowToToday(t *testing.T) {
	fx := newFixture(t)
	c := fx.client(t)
	checkIn := time.Date(2026, 10, 10, 15, 0, 0, 0, bogota)
	checkOut := time.Date(2026, 10, 12, 11, 0, 0, 0, bogota)

	pc, err := c.CreateTemporaryPasscode(context.Background(), "3001", checkIn, checkOut, "Guest: Ana")

	require.NoError(t, err)
	assert.NotEmpty(t, pc.Code)

	midnight := time.Date(2026, 10, 15, 0, 0, 0, 0, bogota)
	assert.True(t, pc.StartDate.Equal(midnight))
	assert.True(t, pc.EndDate.Equal(midnight.AddDate(0, 0, 1)))

	form := fx.platform.last("/v3/keyboardPwd/get")
	assert.Equal(t, strconv.FormatInt(midnight.UnixMilli(), 10), form.Get("startDate"))
	assert.Equal(t, strconv.FormatInt(midnight.AddDate(0, 0, 1).UnixMilli(), 10), form.Get("endDate"))
	assert.Equal(t, "3", form.Get("keyboardPwdType"))
	assert.Equal(t, "Guest: Ana", form.Get("keyboardPwdName"))
	assert.Empty(t, form.Get("keyboardPwd"))
	assert.Equal(t, "tok-1", form.Get("accessToken"))
}

func TestCreateTemporaryPasscode_FreshTimestampPerCall(t *testing.T) {
	fx := newFixture(t)
	c := fx.client(t)

	_, err := c.CreateTemporaryPasscode(context.Background(), "3001", fx.now, fx.now.AddDate(0, 0, 2), "")
	require.NoError(t, err)
	firstDate := fx.platform.last("/v3/keyboardPwd/get").Get("date")

	fx.now = fx.now.Add(7 * time.Minute)
	_, err = c.CreateTemporaryPasscode(context.Background(), "3001", fx.now, fx.now.AddDate(0, 0, 2), "")
	require.NoError(t, err)
	secondDate := fx.platform.last("/v3/keyboardPwd/get").Get("date")

	assert.Equal(t, strconv.FormatInt(fx.now.UnixMilli(), 10), secondDate)
	assert.NotEqual(t, firstDate, secondDate)
}

func TestCreateTemporaryPasscode_InvalidTokenRetriesOnce(t *testing.T) {
	fx := newFixture(t)
	fx.platform.createErr = errInvalidToken
	c := fx.client(t)

	_, err := c.CreateTemporaryPasscode(context.Background(), "3001", fx.now, fx.now, "")
	require.ErrorIs(t, err, errs.ErrProviderRejected)

	assert.Equal(t, 2, fx.platform.count("/v3/keyboardPwd/get"))
	assert.Equal(t, 2, fx.platform.count("/oauth2/token"))
	_, ok := fx.tokens.Get(c.fingerprint)
	assert.False(t, ok)
}

func TestCreateTemporaryPasscode_RevokedStoredTokenIsReplaced(t *testing.T) {
	fx := newFixture(t)
	fx.resolver.cfg.AccessToken = "revoked-tok"
	fx.platform.revokedToken = "revoked-tok"

	pc, err := fx.client(t).CreateTemporaryPasscode(context.Background(), "3001", fx.now, fx.now.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	assert.NotEmpty(t, pc.Code)

	assert.Equal(t, 1, fx.platform.count("/oauth2/token"))
	assert.Equal(t, 2, fx.platform.count("/v3/keyboardPwd/get"))
	assert.Equal(t, "tok-1", fx.platform.last("/v3/keyboardPwd/get").Get("accessToken"))
	require.Len(t, fx.saver.saved, 1)
	assert.Equal(t, "tok-1", fx.saver.saved[0].token)

	// Settings still hold the revoked token; once the shared cache is flushed the client
	// exchanges credentials instead of sending it again.
	fx.tokens.Clear()
	_, err = fx.client(t).CreateTemporaryPasscode(context.Background(), "3001", fx.now, fx.now.AddDate(0, 0, 1), "")
	require.NoError(t, err)

	assert.Equal(t, 2, fx.platform.count("/oauth2/token"))
	assert.Equal(t, 3, fx.platform.count("/v3/keyboardPwd/get"))
	assert.Equal(t, "tok-2", fx.platform.last("/v3/keyboardPwd/get").Get("accessToken"))
}

func TestPasscodeWindow(t *testing.T) {
	now := time.Date(2026, 10, 15, 23, 59, 0, 0, bogota)
	midnight := time.Date(2026, 10, 15, 0, 0, 0, 0, bogota)

	cases := map[string]struct {
		end     time.Time
		wantEnd time.Time
	}{
		"end in the past":  {end: now.AddDate(0, 0, -3), wantEnd: midnight.AddDate(0, 0, 1)},
		"end equals start": {end: midnight, wantEnd: midnight.AddDate(0, 0, 1)},
		"end after start":  {end: now.AddDate(0, 0, 2), wantEnd: now.AddDate(0, 0, 2)},
		"end later today":  {end: midnight.Add(time.Hour), wantEnd: midnight.Add(time.Hour)},
	}
	for name, tc := range cases {
		start, end := PasscodeWindow(now, tc.end)
		assert.True(t, start.Equal(midnight), name)
		assert.True(t, end.Equal(tc.wantEnd), name)
		assert.True(t, end.After(start), name)
	}
}

func TestDeletePasscodeByPin(t *testing.T) {
	fx := newFixture(t)
	c := fx.client(t)
	pc, err := c.CreateTemporaryPasscode(context.Background(), "3001", fx.now, fx.now.AddDate(0, 0, 1), "")
	require.NoError(t, err)

	deleted, err := c.DeletePasscodeByPin(context.Background(), "3001", "000000")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Zero(t, fx.platform.count("/v3/keyboardPwd/delete"))

	deleted, err = c.DeletePasscodeByPin(context.Background(), "3001", pc.Code)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, pc.ID, fx.platform.last("/v3/keyboardPwd/delete").Get("keyboardPwdId"))

	remaining, err := c.ListPasscodes(context.Background(), "3001")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestLocks(t *testing.T) {
	fx := newFixture(t)

	ids, err := fx.client(t).Locks(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"3001", "3002"}, ids)
}

func TestProviderUnavailable(t *testing.T) {
	fx := newFixture(t)
	c := fx.client(t)
	c.storedToken = Token{Value: "stored"}
	c.apiURL += "/broken"

	_, err := c.Locks(context.Background())

	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
}

func TestEndpoints(t *testing.T) {
	oauth, api := endpoints("")
	assert.Equal(t, euOAuthURL, oauth)
	assert.Equal(t, euAPIURL, api)

	oauth, api = endpoints("https://open.example.com/")
	assert.Equal(t, "https://open.example.com", oauth)
	assert.Equal(t, "https://open.example.com", api)
}

func TestFactory_InvalidateOnChange(t *testing.T) {
	fx := newFixture(t)
	c := fx.client(t)
	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	fx.factory.InvalidateOnChange(settings.Change{OrganizationID: 1, Kind: model.ProviderDoorSystem, TokenOnly: true})
	_, ok := fx.tokens.Get(c.fingerprint)
	assert.True(t, ok)

	fx.factory.InvalidateOnChange(settings.Change{OrganizationID: 1, Kind: model.ProviderDoorSystem})
	_, ok = fx.tokens.Get(c.fingerprint)
	assert.False(t, ok)
}
