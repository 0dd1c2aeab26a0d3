// File: internal/decoder/decoder.go
package decoder

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

// Decoder is a pure mapping from a raw log to a decoded event. It must be
// total: a malformed log yields a *DecodeError, never a panic.
type Decoder interface {
	Decode(log types.Log) (eventName string, args models.DecodedArgs, err error)
}

// DecodeError is the typed failure a decoder returns for logs it cannot
// interpret. The caller degrades such logs to "Unknown" records; a decode
// failure must never cause event loss.
type DecodeError struct {
	Schema models.SchemaKind
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Schema, e.Reason)
}

func newDecodeError(schema models.SchemaKind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Schema: schema, Reason: fmt.Sprintf(format, args...)}
}

// Registry looks decoders up by schema kind. An unknown schema kind is a
// decode error, not a fatal condition.
type Registry struct {
	decoders map[models.SchemaKind]Decoder
}

// NewRegistry creates a registry with the built-in schema decoders
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[models.SchemaKind]Decoder)}
	r.Register(models.SchemaERC20, NewERC20Decoder())
	r.Register(models.SchemaPayment, NewPaymentDecoder())
	return r
}

// Register adds or replaces the decoder for a schema kind
func (r *Registry) Register(kind models.SchemaKind, d Decoder) {
	r.decoders[kind] = d
}

// Decode dispatches the log to the schema's decoder
func (r *Registry) Decode(kind models.SchemaKind, log types.Log) (string, models.DecodedArgs, error) {
	d, ok := r.decoders[kind]
	if !ok {
		return "", models.DecodedArgs{}, newDecodeError(kind, "no decoder registered for schema kind")
	}
	return d.Decode(log)
}

// UnknownArgs builds the fallback payload for a log no decoder recognized
func UnknownArgs(schema models.SchemaKind, log types.Log, reason string) models.DecodedArgs {
	topics := make([]string, len(log.Topics))
	for i, topic := range log.Topics {
		topics[i] = topic.Hex()
	}
	return models.DecodedArgs{
		Schema: schema,
		Unknown: &models.UnknownArgs{
			Topics: topics,
			Data:   hex.EncodeToString(log.Data),
			Reason: reason,
		},
	}
}

// mustParseABI parses a static ABI document. The inputs are compile-time
// constants, so a parse failure is a programming error.
func mustParseABI(doc string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(doc))
	if err != nil {
		panic(err)
	}
	return parsed
}

// unpackSingleUint unpacks event data expected to hold exactly one
// non-indexed uint256
func unpackSingleUint(inputs abi.Arguments, data []byte) (*big.Int, error) {
	values, err := inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("expected 1 data value, got %d", len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected uint256 data value")
	}
	return v, nil
}
