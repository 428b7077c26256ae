package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sdabot/internal/domain"
)

// accountIDOffset converts a 32 bit account id to a 64 bit steam id.
const accountIDOffset = 76561197960265728

type tradeOffersEnvelope struct {
	Response domain.TradeOffersResponse `json:"response"`
}

type acceptOfferResult struct {
	TradeID    string `json:"tradeid"`
	NeedsMobil bool   `json:"needs_mobile_confirmation"`
	Error      string `json:"strError"`
}

// TradeOffers fetches received and sent offers using the bearer token from
// the current session.
func (c *Client) TradeOffers(ctx context.Context) (domain.TradeOffersResponse, error) {
	token, err := c.AccessToken()
	if err != nil {
		return domain.TradeOffersResponse{}, err
	}

	q := url.Values{}
	q.Set("access_token", token)
	q.Set("get_received_offers", "1")
	q.Set("get_sent_offers", "1")
	q.Set("get_descriptions", "0")
	q.Set("active_only", "1")
	q.Set("historical_only", "0")
	q.Set("time_historical_cutoff", "0")

	body, err := c.get(ctx, c.apiURL+"/IEconService/GetTradeOffers/v1/?"+q.Encode())
	if err != nil {
		return domain.TradeOffersResponse{}, err
	}
	var envelope tradeOffersEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.TradeOffersResponse{}, fmt.Errorf("steam: decoding trade offers: %w", err)
	}
	return envelope.Response, nil
}

// AcceptOffer accepts one incoming trade offer. Offers that trade away
// items will still require a mobile confirmation afterwards.
func (c *Client) AcceptOffer(ctx context.Context, offer domain.TradeOffer) error {
	sessionID, err := c.SessionID()
	if err != nil {
		return err
	}

	offerURL := fmt.Sprintf("%s/tradeoffer/%s", c.communityURL, offer.TradeOfferID)
	form := url.Values{}
	form.Set("sessionid", sessionID)
	form.Set("serverid", "1")
	form.Set("tradeofferid", offer.TradeOfferID)
	form.Set("partner", strconv.FormatInt(offer.AccountIDOther+accountIDOffset, 10))
	form.Set("captcha", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, offerURL+"/accept", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", offerURL+"/")
	req.Header.Set("Origin", c.communityURL)

	body, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	var result acceptOfferResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("steam: decoding accept response: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("steam: accepting offer %s: %s", offer.TradeOfferID, result.Error)
	}
	c.log.Info("trade offer accepted",
		zap.String("account", c.account.Name),
		zap.String("offer", offer.TradeOfferID),
		zap.Bool("needs_confirmation", result.NeedsMobil))
	return nil
}
