// File: internal/chain/manager_test.go
package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/chain-event-indexer/internal/config"
)

func TestCallContextAppliesRequestTimeout(t *testing.T) {
	nc := &nodeClient{cfg: config.NetworkConfig{RequestTimeout: time.Second}}

	ctx, cancel := nc.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 200*time.Millisecond)
}

func TestCallContextDefaultsWhenTimeoutUnset(t *testing.T) {
	nc := &nodeClient{}

	ctx, cancel := nc.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, 200*time.Millisecond)
}

func TestCallContextKeepsTighterCallerDeadline(t *testing.T) {
	nc := &nodeClient{cfg: config.NetworkConfig{RequestTimeout: time.Minute}}

	parent, parentCancel := context.WithTimeout(context.Background(), time.Second)
	defer parentCancel()

	ctx, cancel := nc.callContext(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 200*time.Millisecond)
}

func TestManagerRejectsUnknownNetwork(t *testing.T) {
	m := NewManager(config.ChainConfig{}, nil)

	_, err := m.HeadHeight(context.Background(), 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Network not configured")
}
