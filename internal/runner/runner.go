// Package runner executes one automation pass for an account: accepting
// gift offers and answering pending mobile confirmations according to the
// account's settings.
package runner

import (
	"context"

	"go.uber.org/zap"

	"sdabot/internal/domain"
	"sdabot/internal/store"
)

// Client is the slice of the steam client the runner needs.
type Client interface {
	Account() domain.Account
	EnsureSession(ctx context.Context, sessions store.Store) (domain.SessionState, error)
	TradeOffers(ctx context.Context) (domain.TradeOffersResponse, error)
	AcceptOffer(ctx context.Context, offer domain.TradeOffer) error
	Confirmations(ctx context.Context) ([]domain.Confirmation, error)
	Respond(ctx context.Context, conf domain.Confirmation, accept bool) error
}

// Stats summarises what one pass did.
type Stats struct {
	GiftsAccepted   int
	TradesConfirmed int
	MarketConfirmed int
	ItemErrors      int
	StepErrors      int
}

type Runner struct {
	log      *zap.Logger
	sessions store.Store
}

func New(log *zap.Logger, sessions store.Store) *Runner {
	return &Runner{log: log, sessions: sessions}
}

// Process runs one pass: gifts, then trade confirmations, then market
// confirmations. The steps run in that order but independently; a step
// that fails to fetch its listing is logged and counted, and the next
// step still runs. Only a failure to establish the session aborts the
// pass.
func (r *Runner) Process(ctx context.Context, client Client, settings domain.AutomationSettings) (Stats, error) {
	var stats Stats
	if !settings.Enabled() {
		return stats, nil
	}
	name := client.Account().Name

	if _, err := client.EnsureSession(ctx, r.sessions); err != nil {
		return stats, err
	}

	if settings.AcceptGifts {
		if err := r.acceptGifts(ctx, client, name, &stats); err != nil {
			stats.StepErrors++
			r.log.Warn("gift step failed", zap.String("account", name), zap.Error(err))
		}
	}
	if settings.ConfirmTrades {
		if err := r.confirmTrades(ctx, client, name, &stats); err != nil {
			stats.StepErrors++
			r.log.Warn("trade confirmation step failed", zap.String("account", name), zap.Error(err))
		}
	}
	if settings.ConfirmMarket {
		if err := r.confirmMarket(ctx, client, name, &stats); err != nil {
			stats.StepErrors++
			r.log.Warn("market confirmation step failed", zap.String("account", name), zap.Error(err))
		}
	}

	r.log.Info("pass complete",
		zap.String("account", name),
		zap.Int("gifts_accepted", stats.GiftsAccepted),
		zap.Int("trades_confirmed", stats.TradesConfirmed),
		zap.Int("market_confirmed", stats.MarketConfirmed),
		zap.Int("item_errors", stats.ItemErrors),
		zap.Int("step_errors", stats.StepErrors))
	return stats, nil
}

func (r *Runner) acceptGifts(ctx context.Context, client Client, name string, stats *Stats) error {
	offers, err := client.TradeOffers(ctx)
	if err != nil {
		return err
	}
	for _, offer := range offers.ActiveReceived() {
		if !offer.IsGift() {
			continue
		}
		if err := client.AcceptOffer(ctx, offer); err != nil {
			stats.ItemErrors++
			r.log.Warn("accepting gift failed",
				zap.String("account", name),
				zap.String("offer", offer.TradeOfferID),
				zap.Error(err))
			continue
		}
		stats.GiftsAccepted++
	}
	return nil
}

// confirmTrades answers the mobile confirmations belonging to trade offers
// that the offer listing reports as waiting on one.
func (r *Runner) confirmTrades(ctx context.Context, client Client, name string, stats *Stats) error {
	offers, err := client.TradeOffers(ctx)
	if err != nil {
		return err
	}
	pending := offers.NeedingConfirmation()
	if len(pending) == 0 {
		return nil
	}
	confs, err := client.Confirmations(ctx)
	if err != nil {
		return err
	}
	byCreator := make(map[string]domain.Confirmation, len(confs))
	for _, conf := range confs {
		if conf.Type == domain.ConfirmationTrade {
			byCreator[conf.CreatorID] = conf
		}
	}
	for _, offer := range pending {
		conf, ok := byCreator[offer.TradeOfferID]
		if !ok {
			r.log.Debug("offer awaiting confirmation has no pending entry",
				zap.String("account", name),
				zap.String("offer", offer.TradeOfferID))
			continue
		}
		if err := client.Respond(ctx, conf, true); err != nil {
			stats.ItemErrors++
			r.log.Warn("confirming trade failed",
				zap.String("account", name),
				zap.String("offer", offer.TradeOfferID),
				zap.Error(err))
			continue
		}
		stats.TradesConfirmed++
	}
	return nil
}

func (r *Runner) confirmMarket(ctx context.Context, client Client, name string, stats *Stats) error {
	confs, err := client.Confirmations(ctx)
	if err != nil {
		return err
	}
	for _, conf := range confs {
		if conf.Type != domain.ConfirmationListing && conf.Type != domain.ConfirmationPurchase {
			continue
		}
		if err := client.Respond(ctx, conf, true); err != nil {
			stats.ItemErrors++
			r.log.Warn("answering confirmation failed",
				zap.String("account", name),
				zap.String("id", conf.ID),
				zap.String("type", conf.Type.String()),
				zap.Error(err))
			continue
		}
		stats.MarketConfirmed++
	}
	return nil
}
