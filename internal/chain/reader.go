package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the chain-facing collaborator the indexer polls. All calls are
// fresh reads against the network; implementations must honor the caller's
// context deadline so a hung node cannot wedge a poller.
type Reader interface {
	// HeadHeight returns the current chain head height for a network
	HeadHeight(ctx context.Context, networkID uint64) (uint64, error)

	// FilterLogs returns the raw logs emitted by the contract in the
	// inclusive height range, ordered by block height then log index
	FilterLogs(ctx context.Context, networkID uint64, address common.Address, fromHeight, toHeight uint64) ([]types.Log, error)

	// BlockTimestamp resolves the timestamp of a block by hash
	BlockTimestamp(ctx context.Context, networkID uint64, blockHash common.Hash) (time.Time, error)
}
