// File: internal/handler/handler_test.go
package handler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
		RetryCap:         3,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func insertEvent(t *testing.T, store storage.Storage, event *models.IndexedEvent) {
	t.Helper()
	_, err := store.InsertEvents(context.Background(), []*models.IndexedEvent{event})
	require.NoError(t, err)
}

func paymentEvent() *models.IndexedEvent {
	return &models.IndexedEvent{
		ID:             "evt-payment-1",
		NetworkID:      31,
		Address:        "0xabcd000000000000000000000000000000000001",
		EventName:      "PaymentReceived",
		BlockNumber:    100,
		BlockHash:      "0x01",
		BlockTimestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		TxHash:         "0xtx1",
		LogIndex:       0,
		Topics:         []string{"0x01"},
		Data:           "00",
		Args: models.DecodedArgs{
			Schema: models.SchemaPayment,
			Payment: &models.PaymentArgs{
				OrderID: "0xaaaa",
				Payer:   "0x0000000000000000000000000000000000000005",
				Token:   "0x0000000000000000000000000000000000000006",
				Amount:  "250000",
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func transferEvent() *models.IndexedEvent {
	return &models.IndexedEvent{
		ID:             "evt-transfer-1",
		NetworkID:      31,
		Address:        "0xabcd000000000000000000000000000000000001",
		EventName:      "Transfer",
		BlockNumber:    101,
		BlockHash:      "0x02",
		BlockTimestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		TxHash:         "0xtx2",
		LogIndex:       0,
		Topics:         []string{"0x02"},
		Data:           "00",
		Args: models.DecodedArgs{
			Schema: models.SchemaERC20,
			Transfer: &models.TransferArgs{
				From:  "0x0000000000000000000000000000000000000001",
				To:    "0x0000000000000000000000000000000000000002",
				Value: "1000",
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPaymentHandlerRecordsPayment(t *testing.T) {
	store := newTestStorage(t)
	h := NewPaymentHandler(store)
	event := paymentEvent()
	insertEvent(t, store, event)

	require.NoError(t, h.Apply(context.Background(), event))

	payment, err := store.GetPayment(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, "0xaaaa", payment.OrderID)
	assert.Equal(t, "250000", payment.Amount)
	assert.Equal(t, event.TxHash, payment.TxHash)
	assert.Equal(t, event.BlockTimestamp.Unix(), payment.ConfirmedAt.Unix())
}

func TestPaymentHandlerIsIdempotent(t *testing.T) {
	store := newTestStorage(t)
	h := NewPaymentHandler(store)
	event := paymentEvent()
	insertEvent(t, store, event)

	require.NoError(t, h.Apply(context.Background(), event))
	require.NoError(t, h.Apply(context.Background(), event))

	payment, err := store.GetPayment(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, payment)
}

func TestPaymentHandlerRejectsMissingArgs(t *testing.T) {
	store := newTestStorage(t)
	h := NewPaymentHandler(store)

	event := paymentEvent()
	event.Args.Payment = nil
	insertEvent(t, store, event)

	assert.Error(t, h.Apply(context.Background(), event))

	event2 := paymentEvent()
	event2.ID = "evt-payment-2"
	event2.TxHash = "0xtx9"
	event2.Args.Payment.OrderID = ""
	insertEvent(t, store, event2)

	assert.Error(t, h.Apply(context.Background(), event2))
}

func TestPaymentHandlerIgnoresOtherEvents(t *testing.T) {
	store := newTestStorage(t)
	h := NewPaymentHandler(store)

	event := paymentEvent()
	event.EventName = "SomethingElse"
	insertEvent(t, store, event)

	require.NoError(t, h.Apply(context.Background(), event))

	payment, err := store.GetPayment(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Nil(t, payment)
}

func TestTokenSaleHandlerRecordsTransfer(t *testing.T) {
	store := newTestStorage(t)
	h := NewTokenSaleHandler(store)
	event := transferEvent()
	insertEvent(t, store, event)

	require.NoError(t, h.Apply(context.Background(), event))

	purchase, err := store.GetTokenPurchase(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.Equal(t, "0x0000000000000000000000000000000000000002", purchase.Buyer)
	assert.Equal(t, "1000", purchase.Amount)
	assert.Equal(t, "0", purchase.Cost)
}

func TestTokenSaleHandlerRecordsPurchase(t *testing.T) {
	store := newTestStorage(t)
	h := NewTokenSaleHandler(store)

	event := paymentEvent()
	event.ID = "evt-purchase-1"
	event.TxHash = "0xtx3"
	event.EventName = "TokensPurchased"
	event.Args = models.DecodedArgs{
		Schema: models.SchemaPayment,
		Purchase: &models.PurchaseArgs{
			Buyer:  "0x0000000000000000000000000000000000000007",
			Amount: "1000",
			Cost:   "500",
		},
	}
	insertEvent(t, store, event)

	require.NoError(t, h.Apply(context.Background(), event))

	purchase, err := store.GetTokenPurchase(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.Equal(t, "500", purchase.Cost)
}

func TestTokenSaleHandlerIgnoresApprovals(t *testing.T) {
	store := newTestStorage(t)
	h := NewTokenSaleHandler(store)

	event := transferEvent()
	event.EventName = "Approval"
	event.Args = models.DecodedArgs{
		Schema: models.SchemaERC20,
		Approval: &models.ApprovalArgs{
			Owner:   "0x0000000000000000000000000000000000000001",
			Spender: "0x0000000000000000000000000000000000000002",
			Value:   "42",
		},
	}
	insertEvent(t, store, event)

	require.NoError(t, h.Apply(context.Background(), event))

	purchase, err := store.GetTokenPurchase(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Nil(t, purchase)
}

func TestRouterSkipsUnknownAndUnregistered(t *testing.T) {
	store := newTestStorage(t)
	router := NewRouter()
	router.Register(models.SchemaPayment, NewPaymentHandler(store))

	// Unknown args are a successful no-op
	unknown := paymentEvent()
	unknown.ID = "evt-unknown-1"
	unknown.TxHash = "0xtx4"
	unknown.EventName = models.EventNameUnknown
	unknown.Args = models.DecodedArgs{
		Schema:  models.SchemaPayment,
		Unknown: &models.UnknownArgs{Reason: "unrecognized event signature"},
	}
	require.NoError(t, router.Dispatch(context.Background(), unknown))

	// No handler registered for the schema: also a no-op
	transfer := transferEvent()
	require.NoError(t, router.Dispatch(context.Background(), transfer))
}

func TestRouterRoutesBySchema(t *testing.T) {
	store := newTestStorage(t)
	router := NewRouter()
	router.Register(models.SchemaPayment, NewPaymentHandler(store))
	router.Register(models.SchemaERC20, NewTokenSaleHandler(store))

	payment := paymentEvent()
	transfer := transferEvent()
	insertEvent(t, store, payment)
	insertEvent(t, store, transfer)

	require.NoError(t, router.Dispatch(context.Background(), payment))
	require.NoError(t, router.Dispatch(context.Background(), transfer))

	gotPayment, err := store.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.NotNil(t, gotPayment)

	gotPurchase, err := store.GetTokenPurchase(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.NotNil(t, gotPurchase)
}

func TestRouterFansOutToAllSchemaHandlers(t *testing.T) {
	store := newTestStorage(t)
	router := NewRouter()
	router.Register(models.SchemaPayment, NewTokenSaleHandler(store))
	router.Register(models.SchemaPayment, NewPaymentHandler(store))

	purchase := &models.IndexedEvent{
		ID:             "evt-purchase-1",
		NetworkID:      31,
		Address:        "0xabcd000000000000000000000000000000000001",
		EventName:      "TokensPurchased",
		BlockNumber:    102,
		BlockHash:      "0x03",
		BlockTimestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		TxHash:         "0xtx5",
		LogIndex:       0,
		Topics:         []string{"0x03"},
		Data:           "00",
		Args: models.DecodedArgs{
			Schema: models.SchemaPayment,
			Purchase: &models.PurchaseArgs{
				Buyer:  "0x0000000000000000000000000000000000000007",
				Amount: "5000",
				Cost:   "750",
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	insertEvent(t, store, purchase)

	// The token sale handler records the purchase, the payment handler
	// accepts the event as a no-op
	require.NoError(t, router.Dispatch(context.Background(), purchase))

	got, err := store.GetTokenPurchase(context.Background(), purchase.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "750", got.Cost)

	gotPayment, err := store.GetPayment(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Nil(t, gotPayment)
}
