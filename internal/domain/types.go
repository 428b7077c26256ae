package domain

import "time"

// Account holds the externally supplied credentials for one Steam account.
// Values are immutable once loaded from the accounts file.
type Account struct {
	Name           string `json:"username"`
	Password       string `json:"password"`
	SharedSecret   string `json:"shared_secret"`
	IdentitySecret string `json:"identity_secret"`
	SteamID        string `json:"steam_id"`
}

// Cookie is one browser cookie scoped to a Steam domain.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	Secure bool   `json:"secure"`
}

// SessionState is the full web session for one account: the cookie set across
// all Steam domains, the locally generated session identifier echoed on every
// domain, and the long-lived refresh token used to rebuild the cookies without
// a full login.
type SessionState struct {
	Cookies      []Cookie  `json:"cookies"`
	SessionID    string    `json:"session_id"`
	RefreshToken string    `json:"refresh_token"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Get returns the first cookie matching name and domain.
func (s SessionState) Get(name, domain string) (Cookie, bool) {
	for _, c := range s.Cookies {
		if c.Name == name && c.Domain == domain {
			return c, true
		}
	}
	return Cookie{}, false
}

// Domains returns the distinct cookie domains in the session.
func (s SessionState) Domains() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	for _, c := range s.Cookies {
		if c.Domain == "" || seen[c.Domain] {
			continue
		}
		seen[c.Domain] = true
		out = append(out, c.Domain)
	}
	return out
}

// AutomationSettings are the per-account toggles read by the scheduler on
// every tick.
type AutomationSettings struct {
	CheckIntervalSec int  `json:"check_interval"`
	AcceptGifts      bool `json:"accept_gifts"`
	ConfirmTrades    bool `json:"confirm_trades"`
	ConfirmMarket    bool `json:"confirm_market"`
}

func (s AutomationSettings) Interval() time.Duration {
	return time.Duration(s.CheckIntervalSec) * time.Second
}

// Enabled reports whether any automation task is switched on.
func (s AutomationSettings) Enabled() bool {
	return s.AcceptGifts || s.ConfirmTrades || s.ConfirmMarket
}

// AccountProfile pairs an account's credentials with its automation settings.
type AccountProfile struct {
	Account  Account            `json:"account"`
	Settings AutomationSettings `json:"settings"`
}

// ConfirmationType is the declared type of a pending mobile confirmation as
// reported by the getlist endpoint.
type ConfirmationType int

const (
	ConfirmationUnknown  ConfirmationType = 0
	ConfirmationGeneric  ConfirmationType = 1
	ConfirmationTrade    ConfirmationType = 2
	ConfirmationListing  ConfirmationType = 3
	ConfirmationAPIKey   ConfirmationType = 4
	ConfirmationPurchase ConfirmationType = 12
)

func (t ConfirmationType) String() string {
	switch t {
	case ConfirmationGeneric:
		return "generic"
	case ConfirmationTrade:
		return "trade"
	case ConfirmationListing:
		return "market_listing"
	case ConfirmationAPIKey:
		return "api_key"
	case ConfirmationPurchase:
		return "market_purchase"
	default:
		return "unknown"
	}
}

// Confirmation is one pending sensitive action awaiting a signed approval.
// The nonce is single-use: it is consumed by exactly one allow/cancel call
// and the entity must be re-fetched afterwards.
type Confirmation struct {
	ID        string           `json:"id"`
	Nonce     string           `json:"nonce"`
	CreatorID string           `json:"creator_id"`
	Type      ConfirmationType `json:"type"`
	Headline  string           `json:"headline"`
	Summary   []string         `json:"summary"`
}

// TradeOfferState mirrors the trade offer states of the platform API.
type TradeOfferState int

const (
	TradeOfferInvalid TradeOfferState = iota + 1
	TradeOfferActive
	TradeOfferAccepted
	TradeOfferCountered
	TradeOfferExpired
	TradeOfferCanceled
	TradeOfferDeclined
	TradeOfferInvalidItems
	TradeOfferCreatedNeedsConfirmation
	TradeOfferCanceledBySecondFactor
	TradeOfferInEscrow
)

// ConfirmationMethod reports how a trade offer must be confirmed.
type ConfirmationMethod int

const (
	ConfirmationMethodNone ConfirmationMethod = iota
	ConfirmationMethodEmail
	ConfirmationMethodMobileApp
)

// TradeItem is one asset inside a trade offer.
type TradeItem struct {
	AppID     int    `json:"appid"`
	ContextID string `json:"contextid"`
	AssetID   string `json:"assetid"`
	ClassID   string `json:"classid"`
	Amount    string `json:"amount"`
}

// TradeOffer is one incoming or outgoing exchange.
type TradeOffer struct {
	TradeOfferID       string             `json:"tradeofferid"`
	AccountIDOther     int64              `json:"accountid_other"`
	Message            string             `json:"message"`
	State              TradeOfferState    `json:"trade_offer_state"`
	ItemsToGive        []TradeItem        `json:"items_to_give"`
	ItemsToReceive     []TradeItem        `json:"items_to_receive"`
	IsOurOffer         bool               `json:"is_our_offer"`
	TimeCreated        int64              `json:"time_created"`
	TimeUpdated        int64              `json:"time_updated"`
	TradeID            string             `json:"tradeid"`
	ConfirmationMethod ConfirmationMethod `json:"confirmation_method"`
}

// IsGift reports whether the offer gives us items for nothing in return.
func (o TradeOffer) IsGift() bool {
	return len(o.ItemsToGive) == 0 && len(o.ItemsToReceive) > 0
}

func (o TradeOffer) IsActive() bool {
	return o.State == TradeOfferActive
}

// NeedsConfirmation reports whether the offer is waiting on a mobile
// confirmation. Incoming offers need one while active with the mobile-app
// method; outgoing offers need one in the created-needs-confirmation state.
func (o TradeOffer) NeedsConfirmation() bool {
	if !o.IsOurOffer {
		return o.State == TradeOfferActive && o.ConfirmationMethod == ConfirmationMethodMobileApp
	}
	return o.State == TradeOfferCreatedNeedsConfirmation
}

// TradeOffersResponse is the parsed GetTradeOffers payload.
type TradeOffersResponse struct {
	Received []TradeOffer `json:"trade_offers_received"`
	Sent     []TradeOffer `json:"trade_offers_sent"`
}

// ActiveReceived returns the incoming offers still awaiting action.
func (r TradeOffersResponse) ActiveReceived() []TradeOffer {
	out := make([]TradeOffer, 0, len(r.Received))
	for _, o := range r.Received {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

// NeedingConfirmation returns offers from both directions that are waiting on
// a mobile confirmation, received first.
func (r TradeOffersResponse) NeedingConfirmation() []TradeOffer {
	out := make([]TradeOffer, 0, len(r.Received)+len(r.Sent))
	for _, o := range r.Received {
		if o.NeedsConfirmation() {
			out = append(out, o)
		}
	}
	for _, o := range r.Sent {
		if o.NeedsConfirmation() {
			out = append(out, o)
		}
	}
	return out
}
