// File: internal/handler/payment.go
package handler

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// PaymentHandler records confirmed payments from PaymentReceived events
type PaymentHandler struct {
	storage storage.Storage
	logger  *logrus.Entry
}

// NewPaymentHandler creates a payment handler backed by the given storage
func NewPaymentHandler(store storage.Storage) *PaymentHandler {
	return &PaymentHandler{
		storage: store,
		logger:  utils.ComponentLogger("payment_handler"),
	}
}

// Name identifies the handler
func (h *PaymentHandler) Name() string {
	return "payment"
}

// Apply records the payment row for a PaymentReceived event. Other events
// on the payment schema are accepted without effect.
func (h *PaymentHandler) Apply(ctx context.Context, event *models.IndexedEvent) error {
	if event.EventName != "PaymentReceived" {
		return nil
	}

	args := event.Args.Payment
	if args == nil {
		return utils.NewAppError(utils.ErrCodeBusiness,
			"PaymentReceived event carries no payment arguments", event.ID)
	}
	if args.OrderID == "" || args.Payer == "" {
		return utils.NewAppError(utils.ErrCodeBusiness,
			"PaymentReceived event has empty order or payer", event.ID)
	}

	payment := &models.Payment{
		EventID:     event.ID,
		NetworkID:   event.NetworkID,
		OrderID:     args.OrderID,
		Payer:       args.Payer,
		Token:       args.Token,
		Amount:      args.Amount,
		TxHash:      event.TxHash,
		ConfirmedAt: event.BlockTimestamp,
	}

	if err := h.storage.UpsertPayment(ctx, payment); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"order_id": args.OrderID,
		"payer":    args.Payer,
		"amount":   args.Amount,
		"tx_hash":  event.TxHash,
	}).Info("Payment recorded")

	return nil
}
