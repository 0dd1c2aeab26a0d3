package models

import "time"

// Payment is the business-state row driven by PaymentReceived events.
// Keyed by the originating event ID, so re-applying the same event is a
// natural upsert and the handler stays idempotent.
type Payment struct {
	EventID     string    `json:"event_id" db:"event_id"`
	NetworkID   uint64    `json:"network_id" db:"network_id"`
	OrderID     string    `json:"order_id" db:"order_id"`
	Payer       string    `json:"payer" db:"payer"`
	Token       string    `json:"token" db:"token"`
	Amount      string    `json:"amount" db:"amount"`
	TxHash      string    `json:"tx_hash" db:"tx_hash"`
	ConfirmedAt time.Time `json:"confirmed_at" db:"confirmed_at"`
}

// TokenPurchase is the token sale bookkeeping row driven by
// Transfer/TokensPurchased events, keyed by the originating event ID.
type TokenPurchase struct {
	EventID     string    `json:"event_id" db:"event_id"`
	NetworkID   uint64    `json:"network_id" db:"network_id"`
	Buyer       string    `json:"buyer" db:"buyer"`
	Amount      string    `json:"amount" db:"amount"`
	Cost        string    `json:"cost" db:"cost"`
	TxHash      string    `json:"tx_hash" db:"tx_hash"`
	PurchasedAt time.Time `json:"purchased_at" db:"purchased_at"`
}
