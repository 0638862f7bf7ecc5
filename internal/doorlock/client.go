package doorlock

import (
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

	"github.com/rs/zerolog"

	"github.com/teresa-solution/guest-access-service/internal/errs"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
	"github.com/teresa-solution/guest-access-service/internal/settings"
)

const (
	providerName = "ttlock"

	defaultAPIURL   = "https://euopen.ttlock.com"
	euOpenHost      = "euopen.ttlock.com"
	euOAuthURL      = "https://api.sciener.com"
	euAPIURL        = "https://euapi.ttlock.com"
	passcodePeriod  = "3" // time-boxed passcode
	addViaBluetooth = "1"
	listPageSize    = 100

	// errcodes the platform returns for a revoked or unknown token
	errInvalidToken = 10003
	errInvalidGrant = 10004
)

// Passcode is one keyboard passcode on a lock.
type Passcode struct {
	ID        string
	Code      string
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// Client talks to the lock platform with one resolved credential set. It never reloads
// settings; build a new Client through the Factory after a settings change.
type Client struct {
	clientID     string
	clientSecret string
	username     string
	password     string
	oauthURL     string
	apiURL       string
	lockIDs      []string
	appName      string
	fingerprint  string
	storedToken  Token
	scope        settings.Scope
	source       settings.Source

	httpClient *http.Client
	tokens     *TokenCache
	saver      TokenSaver
	now        func() time.Time
	location   *time.Location
	logger     zerolog.Logger
}

// LockIDs returns the configured lock ids, first one being the default.
func (c *Client) LockIDs() []string { return append([]string(nil), c.lockIDs...) }

// AppName is the guest-facing app name shown in notifications.
func (c *Client) AppName() string { return c.appName }

// Source reports which settings tier the credentials came from.
func (c *Client) Source() settings.Source { return c.source }

// AccessToken returns a usable token, exchanging credentials only when neither the shared
// cache nor the stored settings hold a valid one. A stored token the platform has rejected
// is never served again.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	now := c.now()
	if tok, ok := c.tokens.Get(c.fingerprint); ok && tok.Valid(now) {
		return tok.Value, nil
	}
	if c.storedToken.Valid(now) && !c.tokens.Revoked(c.fingerprint, c.storedToken.Value) {
		c.tokens.Put(c.fingerprint, c.storedToken, now)
		return c.storedToken.Value, nil
	}

	tok, err := c.exchangeToken(ctx)
	if err != nil {
		return "", err
	}
	c.tokens.Put(c.fingerprint, tok, c.now())

	if c.saver != nil {
		if err := c.saver.SaveDoorAccessToken(ctx, c.scope, c.source, tok.Value, tok.ExpiresAt); err != nil {
			c.logger.Warn().Err(err).Int64("organization_id", c.scope.OrganizationID).Msg("Failed to persist door lock access token")
		}
	}
	return tok.Value, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Errcode     int    `json:"errcode"`
	Errmsg      string `json:"errmsg"`
	Data        *struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	} `json:"data"`
}

func (c *Client) exchangeToken(ctx context.Context) (Token, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"username":      {c.username},
		"password":      {c.password},
	}

	var resp tokenResponse
	if err := c.post(ctx, "token", c.oauthURL+"/oauth2/token", form, &resp); err != nil {
		return Token{}, err
	}

	access, expiresIn := resp.AccessToken, resp.ExpiresIn
	if access == "" && resp.Data != nil {
		access, expiresIn = resp.Data.AccessToken, resp.Data.ExpiresIn
	}
	if access == "" {
		return Token{}, rejected(http.StatusOK, resp.Errcode, resp.Errmsg, "check the door system client id, client secret, username and MD5 password")
	}

	tok := Token{Value: access}
	if expiresIn > 0 {
		exp := c.now().Add(time.Duration(expiresIn) * time.Second)
		tok.ExpiresAt = &exp
	}
	c.logger.Info().Bool("expires", tok.ExpiresAt != nil).Msg("Obtained door lock access token")
	return tok, nil
}

type apiResponse struct {
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

func (r *apiResponse) envelope() *apiResponse { return r }

// enveloped is implemented by every API response through the embedded apiResponse.
type enveloped interface {
	envelope() *apiResponse
}

func tokenRejected(errcode int) bool {
	return errcode == errInvalidToken || errcode == errInvalidGrant
}

type passcodeResponse struct {
	apiResponse
	KeyboardPwdID flexString `json:"keyboardPwdId"`
	KeyboardPwd   flexString `json:"keyboardPwd"`
}

// CreateTemporaryPasscode asks the platform to generate a period passcode. The start is
// always today's local midnight so the code is active immediately, and the end is moved
// to one day after the start when it does not lie after it.
func (c *Client) CreateTemporaryPasscode(ctx context.Context, lockID string, start, end time.Time, name string) (*Passcode, error) {
	effStart, effEnd := PasscodeWindow(c.now().In(c.location), end)
	if name == "" {
		name = "Guest Passcode"
	}

	form := url.Values{
		"clientId":        {c.clientID},
		"lockId":          {lockID},
		"keyboardPwdName": {name},
		"keyboardPwdType": {passcodePeriod},
		"startDate":       {millis(effStart)},
		"endDate":         {millis(effEnd)},
		"addType":         {addViaBluetooth},
	}

	var resp passcodeResponse
	if err := c.call(ctx, "create_passcode", "/v3/keyboardPwd/get", form, &resp); err != nil {
		return nil, err
	}
	if resp.KeyboardPwd == "" {
		if resp.Errcode != 0 {
			return nil, c.apiError(resp.apiResponse)
		}
		return nil, rejected(http.StatusOK, 0, "no passcode returned", "the lock platform did not generate a passcode")
	}

	c.logger.Info().Str("lock_id", lockID).Str("passcode_id", string(resp.KeyboardPwdID)).
		Time("start", effStart).Time("end", effEnd).Msg("Created temporary passcode")
	return &Passcode{
		ID:        string(resp.KeyboardPwdID),
		Code:      string(resp.KeyboardPwd),
		Name:      name,
		StartDate: effStart,
		EndDate:   effEnd,
	}, nil
}

// PasscodeWindow computes the effective validity window for a passcode requested at now.
func PasscodeWindow(now, end time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

type passcodeListResponse struct {
	apiResponse
	List []struct {
		KeyboardPwdID   flexString `json:"keyboardPwdId"`
		KeyboardPwd     flexString `json:"keyboardPwd"`
		KeyboardPwdName string     `json:"keyboardPwdName"`
		StartDate       int64      `json:"startDate"`
		EndDate         int64      `json:"endDate"`
	} `json:"list"`
	Pages int `json:"pages"`
}

// ListPasscodes returns every passcode on a lock, following pagination.
func (c *Client) ListPasscodes(ctx context.Context, lockID string) ([]Passcode, error) {
	var out []Passcode
	for page := 1; ; page++ {
		form := url.Values{
			"clientId": {c.clientID},
			"lockId":   {lockID},
			"pageNo":   {strconv.Itoa(page)},
			"pageSize": {strconv.Itoa(listPageSize)},
		}
		var resp passcodeListResponse
		if err := c.call(ctx, "list_passcodes", "/v3/lock/listKeyboardPwd", form, &resp); err != nil {
			return nil, err
		}
		if resp.Errcode != 0 {
			return nil, c.apiError(resp.apiResponse)
		}
		for _, p := range resp.List {
			out = append(out, Passcode{
				ID:        string(p.KeyboardPwdID),
				Code:      string(p.KeyboardPwd),
				Name:      p.KeyboardPwdName,
				StartDate: time.UnixMilli(p.StartDate),
				EndDate:   time.UnixMilli(p.EndDate),
			})
		}
		if page >= resp.Pages || len(resp.List) < listPageSize {
			return out, nil
		}
	}
}

// DeletePasscode removes a passcode by its platform id.
func (c *Client) DeletePasscode(ctx context.Context, lockID, passcodeID string) error {
	form := url.Values{
		"clientId":      {c.clientID},
		"lockId":        {lockID},
		"keyboardPwdId": {passcodeID},
	}
	var resp apiResponse
	if err := c.call(ctx, "delete_passcode", "/v3/keyboardPwd/delete", form, &resp); err != nil {
		return err
	}
	if resp.Errcode != 0 {
		return c.apiError(resp)
	}
	return nil
}

// DeletePasscodeByPin deletes the passcode whose code equals pin. It returns false when
// the lock holds no such passcode.
func (c *Client) DeletePasscodeByPin(ctx context.Context, lockID, pin string) (bool, error) {
	codes, err := c.ListPasscodes(ctx, lockID)
	if err != nil {
		return false, err
	}
	for _, p := range codes {
		if p.Code != pin {
			continue
		}
		if err := c.DeletePasscode(ctx, lockID, p.ID); err != nil {
			return false, err
		}
		c.logger.Info().Str("lock_id", lockID).Str("passcode_id", p.ID).Msg("Deleted passcode by pin")
		return true, nil
	}
	return false, nil
}

type lockListResponse struct {
	apiResponse
	List []struct {
		LockID flexString `json:"lockId"`
	} `json:"list"`
}

// Locks lists the lock ids visible to the account.
func (c *Client) Locks(ctx context.Context) ([]string, error) {
	form := url.Values{
		"clientId": {c.clientID},
		"pageNo":   {"1"},
		"pageSize": {strconv.Itoa(listPageSize)},
	}
	var resp lockListResponse
	if err := c.call(ctx, "list_locks", "/v3/lock/list", form, &resp); err != nil {
		return nil, err
	}
	if resp.Errcode != 0 {
		return nil, c.apiError(resp.apiResponse)
	}
	ids := make([]string, 0, len(resp.List))
	for _, l := range resp.List {
		if l.LockID != "" {
			ids = append(ids, string(l.LockID))
		}
	}
	return ids, nil
}

// call posts an authenticated API request. The replay-protection timestamp is taken
// right before sending. A token the platform rejects is revoked and the request is
// retried once with a freshly exchanged token.
func (c *Client) call(ctx context.Context, op, path string, form url.Values, out enveloped) error {
	for attempt := 0; ; attempt++ {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return err
		}
		form.Set("accessToken", token)
		form.Set("date", millis(c.now()))
		if err := c.post(ctx, op, c.apiURL+path, form, out); err != nil {
			return err
		}

		env := out.envelope()
		if !tokenRejected(env.Errcode) {
			return nil
		}
		c.tokens.Revoke(c.fingerprint, token)
		if attempt > 0 {
			return nil
		}
		c.logger.Warn().Str("op", op).Int("errcode", env.Errcode).Msg("Door lock access token rejected, exchanging credentials")
		*env = apiResponse{}
	}
}

func (c *Client) post(ctx context.Context, op, endpoint string, form url.Values, out any) (err error) {
	start := time.Now()
	defer func() { monitoring.ObserveProviderCall(providerName, op, start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: err}
	}
	if resp.StatusCode >= 500 {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var envelope apiResponse
	_ = json.Unmarshal(body, &envelope)
	if resp.StatusCode >= 400 {
		return rejected(resp.StatusCode, envelope.Errcode, envelope.Errmsg, "check the door system configuration")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &errs.ProviderUnavailableError{Provider: providerName, Err: fmt.Errorf("decode %s response: %w", op, err)}
	}
	return nil
}

func (c *Client) apiError(resp apiResponse) error {
	if tokenRejected(resp.Errcode) {
		return rejected(http.StatusOK, resp.Errcode, resp.Errmsg, "the access token was revoked; the next call requests a new one")
	}
	return rejected(http.StatusOK, resp.Errcode, resp.Errmsg, "")
}

func rejected(status, errcode int, errmsg, hint string) error {
	msg := errmsg
	if errcode != 0 {
		msg = fmt.Sprintf("errcode %d: %s", errcode, errmsg)
	}
	return &errs.ProviderRejectedError{Provider: providerName, StatusCode: status, Message: msg, Hint: hint}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// flexString accepts JSON strings and numbers; the platform is inconsistent about ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}
