package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaKind identifies the event schema a source is decoded with
type SchemaKind string

const (
	SchemaERC20   SchemaKind = "erc20"
	SchemaPayment SchemaKind = "payment"
)

// Default tunables for sources that don't set their own
const (
	DefaultConfirmations = 12
	DefaultBatchSize     = 1000
)

// SourceConfig describes one (network, contract, schema) source tracked by
// the indexer. It is immutable after creation; the identity triple
// (NetworkID, Address, Schema) is the natural key shared with the source's
// cursor record.
type SourceConfig struct {
	NetworkID     uint64         `json:"network_id" mapstructure:"network_id"`
	Address       common.Address `json:"address" mapstructure:"-"`
	Schema        SchemaKind     `json:"schema" mapstructure:"schema"`
	StartHeight   uint64         `json:"start_height" mapstructure:"start_height"`
	Confirmations uint64         `json:"confirmations" mapstructure:"confirmations"`
	BatchSize     uint64         `json:"batch_size" mapstructure:"batch_size"`
}

// Key returns the canonical identity string for the source. Addresses are
// compared case-insensitively, so the key always uses the lowercase form.
func (s SourceConfig) Key() string {
	return fmt.Sprintf("%d:%s:%s", s.NetworkID, strings.ToLower(s.Address.Hex()), s.Schema)
}

// AddressHex returns the source's contract address in canonical lowercase form
func (s SourceConfig) AddressHex() string {
	return strings.ToLower(s.Address.Hex())
}

// ApplyDefaults fills zero-valued tunables with their defaults
func (s *SourceConfig) ApplyDefaults() {
	if s.Confirmations == 0 {
		s.Confirmations = DefaultConfirmations
	}
	if s.BatchSize == 0 {
		s.BatchSize = DefaultBatchSize
	}
}

// Validate checks the source configuration
func (s SourceConfig) Validate() error {
	if s.Address == (common.Address{}) {
		return fmt.Errorf("source %s: contract address is required", s.Key())
	}
	if s.Schema == "" {
		return fmt.Errorf("source %s: schema kind is required", s.Key())
	}
	if s.Confirmations < 1 {
		return fmt.Errorf("source %s: confirmations must be >= 1", s.Key())
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("source %s: batch size must be >= 1", s.Key())
	}
	return nil
}
