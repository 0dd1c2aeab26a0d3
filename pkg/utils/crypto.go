package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix.
// Contract addresses are compared case-insensitively everywhere, so this
// is the canonical form used as part of source and cursor keys.
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// GetEventSignature returns the keccak256 hash of an event signature
func GetEventSignature(signature string) string {
	hash := crypto.Keccak256Hash([]byte(signature))
	return hash.Hex()
}

// CreateEventID creates the deterministic ID for an indexed event. The
// (networkID, txHash, logIndex) triple is the dedup key, so the ID is a
// pure function of it.
func CreateEventID(networkID uint64, txHash string, logIndex uint) string {
	data := fmt.Sprintf("%d-%s-%d", networkID, strings.ToLower(txHash), logIndex)
	hash := crypto.Keccak256Hash([]byte(data))
	return hash.Hex()
}
