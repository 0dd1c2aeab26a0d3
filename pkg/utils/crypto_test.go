// File: pkg/utils/crypto_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateEventIDIsCaseInsensitive(t *testing.T) {
	lower := CreateEventID(31, "0xabcdef", 2)
	upper := CreateEventID(31, "0xABCDEF", 2)
	assert.Equal(t, lower, upper)
}

func TestCreateEventIDVariesByComponents(t *testing.T) {
	base := CreateEventID(31, "0xabcdef", 2)

	assert.NotEqual(t, base, CreateEventID(30, "0xabcdef", 2))
	assert.NotEqual(t, base, CreateEventID(31, "0xabcd00", 2))
	assert.NotEqual(t, base, CreateEventID(31, "0xabcdef", 3))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x2acc95758f8b5f583470ba265eb685a8f45fc9d5",
		NormalizeAddress("0x2ACC95758F8B5F583470BA265EB685A8F45FC9D5"))
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress("0x2acc95758f8b5f583470ba265eb685a8f45fc9d5"))
	assert.False(t, IsValidAddress("0x123"))
	assert.False(t, IsValidAddress("not-an-address"))
}
