package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sdabot/internal/guard"
)

const (
	rsaKeyAttempts    = 5
	pollAttempts      = 5
	handshakeAttempts = 3
)

type rsaKeyResponse struct {
	Response struct {
		Mod       string `json:"publickey_mod"`
		Exp       string `json:"publickey_exp"`
		Timestamp string `json:"timestamp"`
	} `json:"response"`
}

type beginAuthResponse struct {
	Response struct {
		ClientID      string `json:"client_id"`
		RequestID     string `json:"request_id"`
		SteamID       string `json:"steamid"`
		CaptchaNeeded bool   `json:"captcha_needed"`
	} `json:"response"`
}

type pollStatusResponse struct {
	Response struct {
		RefreshToken string `json:"refresh_token"`
		AccessToken  string `json:"access_token"`
		AccountName  string `json:"account_name"`
	} `json:"response"`
}

// Login runs the credential handshake and returns a fresh refresh token.
// Rate limits and transport failures restart the whole handshake, up to
// handshakeAttempts times; protocol rejections do not.
func (c *Client) Login(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < handshakeAttempts; attempt++ {
		if attempt > 0 {
			c.log.Warn("restarting login handshake",
				zap.String("account", c.account.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		token, err := c.loginOnce(ctx)
		if err == nil {
			return token, nil
		}
		if !transientLoginError(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// transientLoginError reports whether a fresh handshake attempt could
// plausibly succeed.
func transientLoginError(err error) bool {
	if errors.Is(err, ErrTooManyRequests) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// loginOnce performs a single handshake. The guard code is derived from
// the account's shared secret at the moment of the call.
func (c *Client) loginOnce(ctx context.Context) (string, error) {
	pub, timestamp, err := c.fetchRSAKey(ctx)
	if err != nil {
		return "", err
	}
	encrypted, err := encryptPassword(pub, c.account.Password)
	if err != nil {
		return "", fmt.Errorf("steam: encrypting password: %w", err)
	}

	form := url.Values{}
	form.Set("account_name", c.account.Name)
	form.Set("encrypted_password", encrypted)
	form.Set("encryption_timestamp", timestamp)
	form.Set("persistence", "1")
	body, err := c.postForm(ctx, c.apiURL+"/IAuthenticationService/BeginAuthSessionViaCredentials/v1/", form)
	if err != nil {
		return "", fmt.Errorf("steam: beginning auth session: %w", err)
	}
	var begin beginAuthResponse
	if err := json.Unmarshal(body, &begin); err != nil {
		return "", fmt.Errorf("steam: decoding auth session: %w", err)
	}
	if begin.Response.CaptchaNeeded {
		return "", ErrCaptchaRequired
	}
	if begin.Response.ClientID == "" || begin.Response.RequestID == "" {
		return "", fmt.Errorf("%w: auth session missing client id", ErrEmptyServerResponse)
	}

	code, err := guard.TimeCode(c.account.SharedSecret, c.now())
	if err != nil {
		return "", err
	}
	if err := c.updateGuardCode(ctx, begin.Response.ClientID, begin.Response.SteamID, code); err != nil {
		return "", err
	}

	c.log.Debug("guard code accepted, polling for token", zap.String("account", c.account.Name))
	return c.pollSessionStatus(ctx, begin.Response.ClientID, begin.Response.RequestID)
}

func (c *Client) fetchRSAKey(ctx context.Context) (*rsa.PublicKey, string, error) {
	target := fmt.Sprintf("%s/IAuthenticationService/GetPasswordRSAPublicKey/v1/?account_name=%s",
		c.apiURL, url.QueryEscape(c.account.Name))

	var lastErr error
	for attempt := 0; attempt < rsaKeyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		body, err := c.get(ctx, target)
		if err != nil {
			lastErr = err
			continue
		}
		var key rsaKeyResponse
		if err := json.Unmarshal(body, &key); err != nil {
			lastErr = err
			continue
		}
		if key.Response.Mod == "" || key.Response.Exp == "" {
			lastErr = ErrEmptyServerResponse
			continue
		}
		pub, err := parseRSAKey(key.Response.Mod, key.Response.Exp)
		if err != nil {
			lastErr = err
			continue
		}
		return pub, key.Response.Timestamp, nil
	}
	return nil, "", fmt.Errorf("%w: %w", ErrRSAKeyUnavailable, lastErr)
}

func parseRSAKey(modHex, expHex string) (*rsa.PublicKey, error) {
	mod, ok := new(big.Int).SetString(modHex, 16)
	if !ok {
		return nil, fmt.Errorf("steam: malformed rsa modulus")
	}
	exp, ok := new(big.Int).SetString(expHex, 16)
	if !ok {
		return nil, fmt.Errorf("steam: malformed rsa exponent")
	}
	return &rsa.PublicKey{N: mod, E: int(exp.Int64())}, nil
}

func encryptPassword(pub *rsa.PublicKey, password string) (string, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (c *Client) updateGuardCode(ctx context.Context, clientID, steamID, code string) error {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("steamid", steamID)
	form.Set("code_type", "3")
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1/",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.communityURL+"/")
	req.Header.Set("Origin", c.communityURL)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if eresult := resp.Header.Get("X-Eresult"); eresult != "" && eresult != "1" {
		return fmt.Errorf("%w: eresult %s", ErrGuardUpdateFailed, eresult)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrGuardUpdateFailed, resp.StatusCode)
	}
	return nil
}

func (c *Client) pollSessionStatus(ctx context.Context, clientID, requestID string) (string, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("request_id", requestID)

	for attempt := 0; attempt < pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
		body, err := c.postForm(ctx, c.apiURL+"/IAuthenticationService/PollAuthSessionStatus/v1/", form)
		if err != nil {
			return "", fmt.Errorf("steam: polling auth session: %w", err)
		}
		var status pollStatusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return "", fmt.Errorf("steam: decoding poll status: %w", err)
		}
		if status.Response.RefreshToken != "" {
			return status.Response.RefreshToken, nil
		}
	}
	return "", ErrSessionPollTimeout
}
