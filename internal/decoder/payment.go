package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

const paymentABIDoc = `[
	{"type":"event","name":"PaymentReceived","inputs":[
		{"name":"orderId","type":"bytes32","indexed":true},
		{"name":"payer","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokensPurchased","inputs":[
		{"name":"buyer","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"cost","type":"uint256","indexed":false}]}
]`

var paymentABI = mustParseABI(paymentABIDoc)

// PaymentDecoder decodes payment gateway and token sale logs
type PaymentDecoder struct{}

// NewPaymentDecoder creates the payment schema decoder
func NewPaymentDecoder() *PaymentDecoder {
	return &PaymentDecoder{}
}

// Decode maps a raw log to a PaymentReceived or TokensPurchased event
func (d *PaymentDecoder) Decode(log types.Log) (string, models.DecodedArgs, error) {
	if len(log.Topics) == 0 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment, "log has no topics")
	}

	switch log.Topics[0] {
	case paymentABI.Events["PaymentReceived"].ID:
		return d.decodePayment(log)
	case paymentABI.Events["TokensPurchased"].ID:
		return d.decodePurchase(log)
	default:
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"unrecognized event signature %s", log.Topics[0].Hex())
	}
}

func (d *PaymentDecoder) decodePayment(log types.Log) (string, models.DecodedArgs, error) {
	if len(log.Topics) != 3 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"PaymentReceived expects 3 topics, got %d", len(log.Topics))
	}

	values, err := paymentABI.Events["PaymentReceived"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"PaymentReceived data: %v", err)
	}
	if len(values) != 2 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"PaymentReceived expects 2 data values, got %d", len(values))
	}

	token, ok := values[0].(common.Address)
	if !ok {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"PaymentReceived token is not an address")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"PaymentReceived amount is not a uint256")
	}

	args := models.DecodedArgs{
		Schema: models.SchemaPayment,
		Payment: &models.PaymentArgs{
			OrderID: log.Topics[1].Hex(),
			Payer:   topicAddress(log.Topics[2]),
			Token:   token.Hex(),
			Amount:  amount.String(),
		},
	}
	return "PaymentReceived", args, nil
}

func (d *PaymentDecoder) decodePurchase(log types.Log) (string, models.DecodedArgs, error) {
	if len(log.Topics) != 2 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"TokensPurchased expects 2 topics, got %d", len(log.Topics))
	}

	values, err := paymentABI.Events["TokensPurchased"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"TokensPurchased data: %v", err)
	}
	if len(values) != 2 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"TokensPurchased expects 2 data values, got %d", len(values))
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"TokensPurchased amount is not a uint256")
	}
	cost, ok := values[1].(*big.Int)
	if !ok {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaPayment,
			"TokensPurchased cost is not a uint256")
	}

	args := models.DecodedArgs{
		Schema: models.SchemaPayment,
		Purchase: &models.PurchaseArgs{
			Buyer:  topicAddress(log.Topics[1]),
			Amount: amount.String(),
			Cost:   cost.String(),
		},
	}
	return "TokensPurchased", args, nil
}
