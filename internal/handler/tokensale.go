// File: internal/handler/tokensale.go
package handler

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// TokenSaleHandler records token sale bookkeeping from ERC-20 Transfer and
// payment-schema TokensPurchased events
type TokenSaleHandler struct {
	storage storage.Storage
	logger  *logrus.Entry
}

// NewTokenSaleHandler creates a token sale handler backed by the given storage
func NewTokenSaleHandler(store storage.Storage) *TokenSaleHandler {
	return &TokenSaleHandler{
		storage: store,
		logger:  utils.ComponentLogger("tokensale_handler"),
	}
}

// Name identifies the handler
func (h *TokenSaleHandler) Name() string {
	return "tokensale"
}

// Apply records a token purchase row. Transfer events are treated as a
// purchase by the recipient with unknown cost; TokensPurchased events carry
// the full sale detail. Approval events are accepted without effect.
func (h *TokenSaleHandler) Apply(ctx context.Context, event *models.IndexedEvent) error {
	var purchase *models.TokenPurchase

	switch event.EventName {
	case "Transfer":
		args := event.Args.Transfer
		if args == nil {
			return utils.NewAppError(utils.ErrCodeBusiness,
				"Transfer event carries no transfer arguments", event.ID)
		}
		purchase = &models.TokenPurchase{
			EventID:     event.ID,
			NetworkID:   event.NetworkID,
			Buyer:       args.To,
			Amount:      args.Value,
			Cost:        "0",
			TxHash:      event.TxHash,
			PurchasedAt: event.BlockTimestamp,
		}

	case "TokensPurchased":
		args := event.Args.Purchase
		if args == nil {
			return utils.NewAppError(utils.ErrCodeBusiness,
				"TokensPurchased event carries no purchase arguments", event.ID)
		}
		purchase = &models.TokenPurchase{
			EventID:     event.ID,
			NetworkID:   event.NetworkID,
			Buyer:       args.Buyer,
			Amount:      args.Amount,
			Cost:        args.Cost,
			TxHash:      event.TxHash,
			PurchasedAt: event.BlockTimestamp,
		}

	default:
		return nil
	}

	if purchase.Buyer == "" {
		return utils.NewAppError(utils.ErrCodeBusiness,
			"Token purchase has empty buyer", event.ID)
	}

	if err := h.storage.UpsertTokenPurchase(ctx, purchase); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"buyer":   purchase.Buyer,
		"amount":  purchase.Amount,
		"tx_hash": event.TxHash,
	}).Info("Token purchase recorded")

	return nil
}
