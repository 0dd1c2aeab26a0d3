// File: internal/decoder/decoder_test.go
package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func uintWord(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func TestERC20DecoderTransfer(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	value := big.NewInt(1500)

	log := types.Log{
		Topics: []common.Hash{
			erc20ABI.Events["Transfer"].ID,
			addressTopic(from),
			addressTopic(to),
		},
		Data: uintWord(value),
	}

	d := NewERC20Decoder()
	name, args, err := d.Decode(log)
	require.NoError(t, err)

	assert.Equal(t, "Transfer", name)
	assert.Equal(t, models.SchemaERC20, args.Schema)
	require.NotNil(t, args.Transfer)
	assert.Equal(t, from.Hex(), args.Transfer.From)
	assert.Equal(t, to.Hex(), args.Transfer.To)
	assert.Equal(t, "1500", args.Transfer.Value)
	assert.False(t, args.IsUnknown())
}

func TestERC20DecoderApproval(t *testing.T) {
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	spender := common.HexToAddress("0x4444444444444444444444444444444444444444")

	log := types.Log{
		Topics: []common.Hash{
			erc20ABI.Events["Approval"].ID,
			addressTopic(owner),
			addressTopic(spender),
		},
		Data: uintWord(big.NewInt(42)),
	}

	d := NewERC20Decoder()
	name, args, err := d.Decode(log)
	require.NoError(t, err)

	assert.Equal(t, "Approval", name)
	require.NotNil(t, args.Approval)
	assert.Equal(t, owner.Hex(), args.Approval.Owner)
	assert.Equal(t, spender.Hex(), args.Approval.Spender)
	assert.Equal(t, "42", args.Approval.Value)
}

func TestERC20DecoderRejectsUnrecognizedSignature(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef")},
	}

	d := NewERC20Decoder()
	_, _, err := d.Decode(log)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, models.SchemaERC20, decodeErr.Schema)
}

func TestERC20DecoderRejectsWrongTopicCount(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{erc20ABI.Events["Transfer"].ID},
		Data:   uintWord(big.NewInt(1)),
	}

	d := NewERC20Decoder()
	_, _, err := d.Decode(log)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestERC20DecoderRejectsMalformedData(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{
			erc20ABI.Events["Transfer"].ID,
			addressTopic(common.HexToAddress("0x01")),
			addressTopic(common.HexToAddress("0x02")),
		},
		Data: []byte{0x01, 0x02}, // not a 32-byte word
	}

	d := NewERC20Decoder()
	_, _, err := d.Decode(log)
	require.Error(t, err)
}

func TestPaymentDecoderPaymentReceived(t *testing.T) {
	orderID := common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")
	payer := common.HexToAddress("0x5555555555555555555555555555555555555555")
	token := common.HexToAddress("0x6666666666666666666666666666666666666666")
	amount := big.NewInt(250000)

	data := append(common.LeftPadBytes(token.Bytes(), 32), uintWord(amount)...)

	log := types.Log{
		Topics: []common.Hash{
			paymentABI.Events["PaymentReceived"].ID,
			orderID,
			addressTopic(payer),
		},
		Data: data,
	}

	d := NewPaymentDecoder()
	name, args, err := d.Decode(log)
	require.NoError(t, err)

	assert.Equal(t, "PaymentReceived", name)
	assert.Equal(t, models.SchemaPayment, args.Schema)
	require.NotNil(t, args.Payment)
	assert.Equal(t, orderID.Hex(), args.Payment.OrderID)
	assert.Equal(t, payer.Hex(), args.Payment.Payer)
	assert.Equal(t, token.Hex(), args.Payment.Token)
	assert.Equal(t, "250000", args.Payment.Amount)
}

func TestPaymentDecoderTokensPurchased(t *testing.T) {
	buyer := common.HexToAddress("0x7777777777777777777777777777777777777777")
	amount := big.NewInt(1000)
	cost := big.NewInt(500)

	data := append(uintWord(amount), uintWord(cost)...)

	log := types.Log{
		Topics: []common.Hash{
			paymentABI.Events["TokensPurchased"].ID,
			addressTopic(buyer),
		},
		Data: data,
	}

	d := NewPaymentDecoder()
	name, args, err := d.Decode(log)
	require.NoError(t, err)

	assert.Equal(t, "TokensPurchased", name)
	require.NotNil(t, args.Purchase)
	assert.Equal(t, buyer.Hex(), args.Purchase.Buyer)
	assert.Equal(t, "1000", args.Purchase.Amount)
	assert.Equal(t, "500", args.Purchase.Cost)
}

func TestRegistryUnknownSchemaKind(t *testing.T) {
	r := NewRegistry()

	_, _, err := r.Decode(models.SchemaKind("bogus"), types.Log{})
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRegistryRoutesBySchema(t *testing.T) {
	r := NewRegistry()

	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")
	log := types.Log{
		Topics: []common.Hash{
			erc20ABI.Events["Transfer"].ID,
			addressTopic(from),
			addressTopic(to),
		},
		Data: uintWord(big.NewInt(7)),
	}

	name, _, err := r.Decode(models.SchemaERC20, log)
	require.NoError(t, err)
	assert.Equal(t, "Transfer", name)

	// The same log through the payment schema does not match
	_, _, err = r.Decode(models.SchemaPayment, log)
	require.Error(t, err)
}

func TestUnknownArgsPreservesRawLog(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		Data:   []byte{0xde, 0xad},
	}

	args := UnknownArgs(models.SchemaERC20, log, "unrecognized event signature")

	require.True(t, args.IsUnknown())
	assert.Equal(t, models.SchemaERC20, args.Schema)
	assert.Len(t, args.Unknown.Topics, 2)
	assert.Equal(t, "dead", args.Unknown.Data)
	assert.Equal(t, "unrecognized event signature", args.Unknown.Reason)
}
