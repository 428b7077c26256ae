package steam

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"sdabot/internal/domain"
	"sdabot/internal/store"
)

// IsAlive checks the session by fetching the community front page and
// looking for the logged-in account name in the markup.
func (c *Client) IsAlive(ctx context.Context) (bool, error) {
	body, err := c.get(ctx, c.communityURL+"/")
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(string(body)), strings.ToLower(c.account.Name)), nil
}

// EnsureSession makes the client hold a live web session, in order of
// preference: the persisted session as-is, a rebuild from the persisted
// refresh token, and finally one full credential login. The resulting
// session is saved back before returning.
func (c *Client) EnsureSession(ctx context.Context, sessions store.Store) (domain.SessionState, error) {
	state, err := sessions.LoadSession(ctx, c.account.Name)
	switch {
	case err == nil:
		c.importCookies(state)
		alive, err := c.IsAlive(ctx)
		if err != nil {
			return domain.SessionState{}, err
		}
		if alive {
			return state, nil
		}
		c.log.Info("session stale, rebuilding", zap.String("account", c.account.Name))
	case errors.Is(err, store.ErrNotFound):
		c.log.Info("no stored session", zap.String("account", c.account.Name))
	default:
		return domain.SessionState{}, fmt.Errorf("steam: loading session: %w", err)
	}

	if state.RefreshToken != "" {
		rebuilt, err := c.BuildSession(ctx, state.RefreshToken)
		if err == nil {
			alive, aliveErr := c.IsAlive(ctx)
			if aliveErr != nil {
				return domain.SessionState{}, aliveErr
			}
			if alive {
				if err := sessions.SaveSession(ctx, c.account.Name, rebuilt); err != nil {
					return domain.SessionState{}, fmt.Errorf("steam: saving session: %w", err)
				}
				return rebuilt, nil
			}
			err = fmt.Errorf("steam: rebuilt session for %s is not logged in", c.account.Name)
		}
		if ctx.Err() != nil {
			return domain.SessionState{}, err
		}
		// Any refresh failure falls through to exactly one full login.
		c.log.Info("session rebuild failed, logging in",
			zap.String("account", c.account.Name), zap.Error(err))
	}

	token, err := c.Login(ctx)
	if err != nil {
		return domain.SessionState{}, err
	}
	fresh, err := c.BuildSession(ctx, token)
	if err != nil {
		return domain.SessionState{}, err
	}
	if err := sessions.SaveSession(ctx, c.account.Name, fresh); err != nil {
		return domain.SessionState{}, fmt.Errorf("steam: saving session: %w", err)
	}
	c.log.Info("session established", zap.String("account", c.account.Name))
	return fresh, nil
}

// AccessToken pulls the short-lived bearer token embedded in the
// steamLoginSecure cookie.
func (c *Client) AccessToken() (string, error) {
	raw, ok := c.cookieValue(c.communityURL, "steamLoginSecure")
	if !ok {
		return "", ErrSessionExpired
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("steam: malformed login cookie: %w", err)
	}
	parts := strings.Split(decoded, "||")
	if len(parts) < 2 || parts[1] == "" {
		return "", ErrSessionExpired
	}
	return parts[1], nil
}

// SessionID returns the community sessionid cookie value.
func (c *Client) SessionID() (string, error) {
	v, ok := c.cookieValue(c.communityURL, "sessionid")
	if !ok {
		return "", ErrSessionExpired
	}
	return v, nil
}
