// Package auth implements GitHub's OAuth device flow and keyring
// persistence for the token revup uses to talk to the GraphQL/REST APIs.
package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cli/oauth/device"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "revup"
	keyringUser    = "authState"

	deviceCodeURL  = "https://github.com/login/device/code"
	accessTokenURL = "https://github.com/login/oauth/access_token"
)

type state struct {
	Token                 string    `json:"token"`
	ExpiresAt             time.Time `json:"expiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	Type                  string    `json:"type"`
	Scope                 string    `json:"scope"`
}

// Auth wraps a GitHub access token and, where the App supports rotation, the
// refresh token needed to renew it.
type Auth struct {
	state state
}

// Token returns the current access token. Callers needing a fresh one
// should go through LoadFromKeyRing, which refreshes as needed.
func (a *Auth) Token() string {
	return a.state.Token
}

// FromToken wraps a bare token obtained from outside the device flow (a
// --github-oauth flag, an env var, a config file key, or `git credential
// fill`), so every auth source flows through the same Deps.Auth shape.
func FromToken(token string) *Auth {
	return &Auth{state: state{Token: token}}
}

// LoadFromKeyRing reads a previously saved Auth from the OS keyring,
// refreshing it first if it's expired or nearly so. Returns (nil, nil) if no
// auth has been saved yet.
func LoadFromKeyRing(clientID string) (*Auth, error) {
	authInfoJSON, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	var a Auth
	if err := json.Unmarshal([]byte(authInfoJSON), &a.state); err != nil {
		return nil, errors.WithStack(err)
	}
	if a.state.RefreshToken != "" && a.state.ExpiresAt.Before(time.Now().Add(10*time.Minute)) {
		if err := a.refresh(clientID); err != nil {
			return nil, errors.Wrap(err, "failed to refresh auth token")
		}
	}
	return &a, nil
}

// Prompt runs GitHub's OAuth device flow end to end: request a device code,
// have the user approve it in their browser, then poll for the token. Unlike
// the teacher's flow this talks to github.com directly, with no
// intermediary backend brokering the client ID.
func Prompt(clientID string) (*Auth, error) {
	httpClient := http.DefaultClient
	code, err := device.RequestCode(httpClient, deviceCodeURL, clientID, []string{"repo"})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	fmt.Printf("\033[33m!\033[m First copy your one-time code: \033[1m%s\033[m\n", code.UserCode)
	fmt.Println("Press Enter to open github.com in your browser...")
	fmt.Scanln()
	if err := browser.OpenURL(code.VerificationURI); err != nil {
		return nil, errors.WithStack(err)
	}
	accessToken, err := device.PollToken(httpClient, accessTokenURL, clientID, code)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	a := &Auth{
		state: state{
			Token:        accessToken.Token,
			RefreshToken: accessToken.RefreshToken,
			Type:         accessToken.Type,
			Scope:        accessToken.Scope,
			// Classic OAuth App tokens returned by the device flow don't
			// expire; only GitHub App user tokens with refresh rotation
			// carry an expiry, which PollToken doesn't surface, so we treat
			// a missing refresh token as "never expires".
			ExpiresAt: time.Now().Add(8 * time.Hour),
		},
	}
	return a, nil
}

// SaveToKeyRing persists the current state to the OS keyring.
func (a *Auth) SaveToKeyRing() error {
	stateJSON, err := json.Marshal(a.state)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(keyring.Set(keyringService, keyringUser, string(stateJSON)))
}

func (a *Auth) refresh(clientID string) error {
	params := url.Values{
		"client_id":     {clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {a.state.RefreshToken},
	}
	req, err := http.NewRequest("POST", accessTokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Add("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("failed to refresh token: %s", resp.Status)
	}
	body := struct {
		AccessToken           string `json:"access_token"`
		ExpiresIn             int    `json:"expires_in"`
		RefreshToken          string `json:"refresh_token"`
		RefreshTokenExpiresIn int    `json:"refresh_token_expires_in"`
		Scope                 string `json:"scope"`
		TokenType             string `json:"token_type"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errors.WithStack(err)
	}
	a.state = state{
		Token:                 body.AccessToken,
		ExpiresAt:             time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		RefreshToken:          body.RefreshToken,
		RefreshTokenExpiresAt: time.Now().Add(time.Duration(body.RefreshTokenExpiresIn) * time.Second),
		Type:                  body.TokenType,
		Scope:                 body.Scope,
	}
	return nil
}
