package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sdabot/internal/domain"
	"sdabot/internal/guard"
)

type confirmationList struct {
	Success  bool `json:"success"`
	NeedAuth bool `json:"needauth"`
	Conf     []struct {
		ID        string   `json:"id"`
		Nonce     string   `json:"nonce"`
		CreatorID string   `json:"creator_id"`
		Type      int      `json:"type"`
		Headline  string   `json:"headline"`
		Summary   []string `json:"summary"`
	} `json:"conf"`
}

type confirmationOpResult struct {
	Success bool `json:"success"`
}

// confQuery signs a mobileconf request for the given operation tag.
func (c *Client) confQuery(tag string) (url.Values, error) {
	now := c.now()
	key, err := guard.ConfirmationKey(c.account.IdentitySecret, now, tag)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("p", guard.DeviceID(c.account.SteamID))
	q.Set("a", c.account.SteamID)
	q.Set("k", key)
	q.Set("t", strconv.FormatInt(now.Unix(), 10))
	q.Set("m", "android")
	q.Set("tag", tag)
	return q, nil
}

// Confirmations fetches the pending mobile confirmations.
func (c *Client) Confirmations(ctx context.Context) ([]domain.Confirmation, error) {
	q, err := c.confQuery("conf")
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, c.communityURL+"/mobileconf/getlist?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(body), "incorrect Steam Guard codes") {
		return nil, ErrGuardKeyRejected
	}

	var list confirmationList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("steam: decoding confirmation list: %w", err)
	}
	if list.NeedAuth {
		return nil, ErrSessionExpired
	}
	if !list.Success {
		return nil, fmt.Errorf("steam: confirmation list request failed")
	}

	out := make([]domain.Confirmation, 0, len(list.Conf))
	for _, raw := range list.Conf {
		out = append(out, domain.Confirmation{
			ID:        raw.ID,
			Nonce:     raw.Nonce,
			CreatorID: raw.CreatorID,
			Type:      domain.ConfirmationType(raw.Type),
			Headline:  raw.Headline,
			Summary:   raw.Summary,
		})
	}
	return out, nil
}

// Respond accepts or rejects one pending confirmation. The confirmation's
// nonce is consumed either way.
func (c *Client) Respond(ctx context.Context, conf domain.Confirmation, accept bool) error {
	op := "cancel"
	if accept {
		op = "allow"
	}
	q, err := c.confQuery(op)
	if err != nil {
		return err
	}
	q.Set("op", op)
	q.Set("cid", conf.ID)
	q.Set("ck", conf.Nonce)

	body, err := c.get(ctx, c.communityURL+"/mobileconf/ajaxop?"+q.Encode())
	if err != nil {
		return err
	}
	var result confirmationOpResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("steam: decoding confirmation response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s on confirmation %s", ErrConfirmationFailed, op, conf.ID)
	}
	c.log.Debug("confirmation answered",
		zap.String("account", c.account.Name),
		zap.String("id", conf.ID),
		zap.String("op", op),
		zap.String("type", conf.Type.String()))
	return nil
}

// ConfirmByCreatorID answers the pending confirmation whose creator matches
// the given id, typically a trade offer id or market listing id.
func (c *Client) ConfirmByCreatorID(ctx context.Context, creatorID string, accept bool) error {
	confs, err := c.Confirmations(ctx)
	if err != nil {
		return err
	}
	for _, conf := range confs {
		if conf.CreatorID == creatorID {
			return c.Respond(ctx, conf, accept)
		}
	}
	return fmt.Errorf("%w: creator %s", ErrConfirmationNotFound, creatorID)
}
