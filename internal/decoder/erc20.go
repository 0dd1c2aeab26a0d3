package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

const erc20ABIDoc = `[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Approval","inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"spender","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

var erc20ABI = mustParseABI(erc20ABIDoc)

// ERC20Decoder decodes ERC-20 Transfer and Approval logs
type ERC20Decoder struct{}

// NewERC20Decoder creates the erc20 schema decoder
func NewERC20Decoder() *ERC20Decoder {
	return &ERC20Decoder{}
}

// Decode maps a raw log to a Transfer or Approval event
func (d *ERC20Decoder) Decode(log types.Log) (string, models.DecodedArgs, error) {
	if len(log.Topics) == 0 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaERC20, "log has no topics")
	}

	switch log.Topics[0] {
	case erc20ABI.Events["Transfer"].ID:
		return d.decodeTransfer(log)
	case erc20ABI.Events["Approval"].ID:
		return d.decodeApproval(log)
	default:
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaERC20,
			"unrecognized event signature %s", log.Topics[0].Hex())
	}
}

func (d *ERC20Decoder) decodeTransfer(log types.Log) (string, models.DecodedArgs, error) {
	if len(log.Topics) != 3 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaERC20,
			"Transfer expects 3 topics, got %d", len(log.Topics))
	}

	value, err := unpackSingleUint(erc20ABI.Events["Transfer"].Inputs, log.Data)
	if err != nil {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaERC20,
			"Transfer data: %v", err)
	}

	args := models.DecodedArgs{
		Schema: models.SchemaERC20,
		Transfer: &models.TransferArgs{
			From:  topicAddress(log.Topics[1]),
			To:    topicAddress(log.Topics[2]),
			Value: value.String(),
		},
	}
	return "Transfer", args, nil
}

func (d *ERC20Decoder) decodeApproval(log types.Log) (string, models.DecodedArgs, error) {
	if len(log.Topics) != 3 {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaERC20,
			"Approval expects 3 topics, got %d", len(log.Topics))
	}

	value, err := unpackSingleUint(erc20ABI.Events["Approval"].Inputs, log.Data)
	if err != nil {
		return "", models.DecodedArgs{}, newDecodeError(models.SchemaERC20,
			"Approval data: %v", err)
	}

	args := models.DecodedArgs{
		Schema: models.SchemaERC20,
		Approval: &models.ApprovalArgs{
			Owner:   topicAddress(log.Topics[1]),
			Spender: topicAddress(log.Topics[2]),
			Value:   value.String(),
		},
	}
	return "Approval", args, nil
}

// topicAddress extracts the address packed into an indexed topic
func topicAddress(topic common.Hash) string {
	return common.BytesToAddress(topic.Bytes()).Hex()
}
