package steam

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sdabot/internal/domain"
)

const (
	sessionIDBytes   = 12
	transferAttempts = 5
)

type finalizeLoginResponse struct {
	SteamID      string `json:"steamID"`
	Error        int    `json:"error"`
	TransferInfo []struct {
		URL    string            `json:"url"`
		Params map[string]string `json:"params"`
	} `json:"transfer_info"`
}

// newSessionID produces the client-chosen session identifier echoed as the
// sessionid cookie on every platform domain.
func newSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SteamIDFromToken extracts the steam id carried in a refresh token's
// subject claim. The signature is not checked; the token was issued to us
// over TLS and is only being read, not trusted for authorization.
func SteamIDFromToken(refreshToken string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(refreshToken, &claims); err != nil {
		return "", fmt.Errorf("steam: parsing refresh token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("steam: refresh token has no subject")
	}
	return claims.Subject, nil
}

// tokenExpired reports whether the refresh token's exp claim has passed.
// Tokens that do not parse are treated as expired.
func tokenExpired(refreshToken string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(refreshToken, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(now)
}

// BuildSession turns a refresh token into a full cookie session across the
// platform domains. An expired or rejected token yields
// ErrRefreshCredentialExpired, signalling that a full login is required.
func (c *Client) BuildSession(ctx context.Context, refreshToken string) (domain.SessionState, error) {
	if tokenExpired(refreshToken, c.now()) {
		return domain.SessionState{}, ErrRefreshCredentialExpired
	}

	sessionID, err := newSessionID()
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("steam: generating session id: %w", err)
	}

	form := url.Values{}
	form.Set("nonce", refreshToken)
	form.Set("sessionid", sessionID)
	form.Set("redir", c.communityURL+"/login/home/?goto=")
	body, err := c.postForm(ctx, c.loginURL+"/jwt/finalizelogin", form)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("steam: finalizing login: %w", err)
	}

	var finalize finalizeLoginResponse
	if err := json.Unmarshal(body, &finalize); err != nil {
		return domain.SessionState{}, fmt.Errorf("steam: decoding finalize response: %w", err)
	}
	if finalize.Error != 0 || len(finalize.TransferInfo) == 0 {
		return domain.SessionState{}, ErrRefreshCredentialExpired
	}

	for _, transfer := range finalize.TransferInfo {
		if err := c.runTransfer(ctx, finalize.SteamID, transfer.URL, transfer.Params); err != nil {
			return domain.SessionState{}, err
		}
	}

	// The login domain keeps its own sessionid; every other domain gets
	// the one we generated.
	for _, base := range []string{c.communityURL, c.storeURL} {
		c.setCookie(base, "sessionid", sessionID)
	}

	state := domain.SessionState{
		Cookies:      c.exportCookies(),
		SessionID:    sessionID,
		RefreshToken: refreshToken,
		UpdatedAt:    c.now(),
	}
	return state, nil
}

type transferResponse struct {
	Result   int   `json:"result"`
	RTExpiry int64 `json:"rtExpiry"`
}

// runTransfer posts one transfer entry until the target domain hands out
// its steamLoginSecure cookie. A server-reported expired refresh credential
// ends the whole rebuild rather than being retried.
func (c *Client) runTransfer(ctx context.Context, steamID, rawurl string, params map[string]string) error {
	target, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("steam: malformed transfer url %q: %w", rawurl, err)
	}

	form := url.Values{}
	form.Set("steamID", steamID)
	for k, v := range params {
		form.Set(k, v)
	}

	var lastErr error
	for attempt := 0; attempt < transferAttempts; attempt++ {
		body, err := c.postForm(ctx, rawurl, form)
		if err != nil {
			lastErr = err
			continue
		}
		var resp transferResponse
		if err := json.Unmarshal(body, &resp); err == nil {
			if resp.RTExpiry > 0 && resp.RTExpiry <= c.now().Unix() {
				return fmt.Errorf("%w: transfer to %s reported rtExpiry %d", ErrRefreshCredentialExpired, target.Host, resp.RTExpiry)
			}
			if resp.Result != 0 && resp.Result != 1 {
				lastErr = fmt.Errorf("steam: transfer to %s returned result %d", target.Host, resp.Result)
				continue
			}
		}
		if _, ok := c.cookieValue(target.Scheme+"://"+target.Host, "steamLoginSecure"); ok {
			return nil
		}
		lastErr = fmt.Errorf("steam: transfer to %s set no login cookie", target.Host)
	}
	return lastErr
}
