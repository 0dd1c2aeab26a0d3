// File: internal/indexer/poller_test.go
package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/chain-event-indexer/internal/decoder"
	"github.com/smartdevs17/chain-event-indexer/internal/handler"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
)

var transferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// fakeReader serves canned heads and logs
type fakeReader struct {
	mu      sync.Mutex
	head    uint64
	headErr error
	logs    []types.Log
	ranges  [][2]uint64
}

func (f *fakeReader) HeadHeight(ctx context.Context, networkID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeReader) FilterLogs(ctx context.Context, networkID uint64, address common.Address, fromHeight, toHeight uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]uint64{fromHeight, toHeight})

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= fromHeight && log.BlockNumber <= toHeight {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeReader) BlockTimestamp(ctx context.Context, networkID uint64, blockHash common.Hash) (time.Time, error) {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), nil
}

func (f *fakeReader) setHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

// fakeHandler applies events, failing those whose block number is marked
type fakeHandler struct {
	mu         sync.Mutex
	failBlocks map[uint64]bool
	applied    []string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{failBlocks: make(map[uint64]bool)}
}

func (h *fakeHandler) Name() string { return "fake" }

func (h *fakeHandler) Apply(ctx context.Context, event *models.IndexedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failBlocks[event.BlockNumber] {
		return errors.New("handler rejected event")
	}
	h.applied = append(h.applied, event.ID)
	return nil
}

func (h *fakeHandler) appliedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.applied)
}

func transferLog(block uint64, logIndex uint, value int64) types.Log {
	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	return types.Log{
		Address:     common.HexToAddress("0xAbCd000000000000000000000000000000000001"),
		Topics:      []common.Hash{transferSig, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		BlockHash:   common.BigToHash(big.NewInt(int64(block))),
		TxHash:      common.BigToHash(big.NewInt(int64(block)*1000 + int64(logIndex))),
		TxIndex:     0,
		Index:       logIndex,
	}
}

func junkLog(block uint64, logIndex uint) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0xAbCd000000000000000000000000000000000001"),
		Topics:      []common.Hash{common.HexToHash("0x1234")},
		Data:        []byte{0x01},
		BlockNumber: block,
		BlockHash:   common.BigToHash(big.NewInt(int64(block))),
		TxHash:      common.BigToHash(big.NewInt(int64(block)*1000 + int64(logIndex))),
		Index:       logIndex,
	}
}

type pollerFixture struct {
	poller  *Poller
	reader  *fakeReader
	handler *fakeHandler
	storage storage.Storage
	source  models.SourceConfig
}

func newPollerFixture(t *testing.T) *pollerFixture {
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

	source := models.SourceConfig{
		NetworkID:     31,
		Address:       common.HexToAddress("0xAbCd000000000000000000000000000000000001"),
		Schema:        models.SchemaERC20,
		StartHeight:   100,
		Confirmations: 12,
		BatchSize:     5,
	}

	_, err := store.EnsureCursor(context.Background(), source)
	require.NoError(t, err)

	reader := &fakeReader{}
	h := newFakeHandler()

	router := handler.NewRouter()
	router.Register(models.SchemaERC20, h)

	poller := NewPoller(source, PollerOptions{
		Reader:          reader,
		Storage:         store,
		Decoder:         decoder.NewRegistry(),
		Router:          router,
		PollInterval:    time.Hour,
		DispatchTimeout: 5 * time.Second,
	})

	return &pollerFixture{
		poller:  poller,
		reader:  reader,
		handler: h,
		storage: store,
		source:  source,
	}
}

func (f *pollerFixture) cursorHeight(t *testing.T) uint64 {
	t.Helper()
	cursor, err := f.storage.GetCursor(context.Background(),
		f.source.NetworkID, f.source.AddressHex(), f.source.Schema)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	return cursor.LastProcessedHeight
}

func TestTickIndexesConfirmedRange(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120) // confirmed height 108
	f.reader.logs = []types.Log{
		transferLog(100, 0, 500),
		transferLog(101, 0, 600),
	}

	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TickIndexed, result.Outcome)
	assert.Equal(t, uint64(100), result.FromHeight)
	assert.Equal(t, uint64(104), result.ToHeight) // bounded by batch size
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, result.Dispatched)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, uint64(104), f.cursorHeight(t))
	assert.Equal(t, 2, f.handler.appliedCount())

	// Events are durable with decoded args
	events, err := f.storage.GetEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Processed)
	require.NotNil(t, events[1].Args.Transfer)
}

func TestTickWalksRangeInBatches(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120) // confirmed height 108

	// Batch size 5: 100-104, then 105-108, then nothing
	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(104), result.ToHeight)

	result, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(105), result.FromHeight)
	assert.Equal(t, uint64(108), result.ToHeight)

	result, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickNoNewRange, result.Outcome)
	assert.Equal(t, uint64(108), f.cursorHeight(t))
}

func TestTickNoNewRangeUnderConfirmationDepth(t *testing.T) {
	f := newPollerFixture(t)

	// Head below the confirmation depth: nothing is confirmed yet
	f.reader.setHead(8)
	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickNoNewRange, result.Outcome)

	// Confirmed height below the start height is also a no-op
	f.reader.setHead(60)
	result, err = f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickNoNewRange, result.Outcome)

	assert.Equal(t, uint64(99), f.cursorHeight(t))
	assert.Empty(t, f.reader.ranges)
}

func TestTickHeadErrorLeavesCursorAlone(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.headErr = errors.New("node unreachable")

	result, err := f.poller.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, TickError, result.Outcome)
	assert.Equal(t, uint64(99), f.cursorHeight(t))

	cursor, err := f.storage.GetCursor(context.Background(),
		f.source.NetworkID, f.source.AddressHex(), f.source.Schema)
	require.NoError(t, err)
	assert.Equal(t, 1, cursor.ErrorCount)
	require.NotNil(t, cursor.LastError)

	// Recovery on the next tick clears the error state
	f.reader.headErr = nil
	f.reader.setHead(120)
	_, err = f.poller.Tick(context.Background())
	require.NoError(t, err)

	cursor, err = f.storage.GetCursor(context.Background(),
		f.source.NetworkID, f.source.AddressHex(), f.source.Schema)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor.ErrorCount)
}

func TestTickRecordsUndecodableLogsAsUnknown(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120)
	f.reader.logs = []types.Log{
		transferLog(100, 0, 500),
		junkLog(100, 1),
	}

	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	name := models.EventNameUnknown
	events, err := f.storage.GetEvents(context.Background(), models.EventFilter{EventName: &name})
	require.NoError(t, err)
	require.Len(t, events, 1)

	unknown := events[0]
	require.NotNil(t, unknown.Args.Unknown)
	assert.Equal(t, models.EventNameUnknown, unknown.EventName)
	assert.NotEmpty(t, unknown.Args.Unknown.Reason)
	// The unknown event still dispatched as a successful no-op
	assert.True(t, unknown.Processed)
}

func TestTickDispatchFailureIsIsolated(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120)
	f.reader.logs = []types.Log{
		transferLog(100, 0, 500),
		transferLog(101, 0, 600),
		transferLog(102, 0, 700),
	}
	f.handler.failBlocks[101] = true

	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 2, result.Dispatched)
	assert.Equal(t, 1, result.Failed)

	// Dispatch outcomes never gate the cursor
	assert.Equal(t, uint64(104), f.cursorHeight(t))

	status := models.EventStatusFailed
	failed, err := f.storage.GetEvents(context.Background(), models.EventFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, uint64(101), failed[0].BlockNumber)
	assert.Equal(t, 1, failed[0].RetryCount)
	require.NotNil(t, failed[0].ProcessingError)
}

func TestTickDispatchFailureAtCapReportsExhaustion(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120)
	f.reader.logs = []types.Log{transferLog(100, 0, 500)}
	f.handler.failBlocks[100] = true

	router := handler.NewRouter()
	router.Register(models.SchemaERC20, f.handler)

	// With a cap of one, the initial dispatch failure is already terminal
	var exhausted []string
	poller := NewPoller(f.source, PollerOptions{
		Reader:          f.reader,
		Storage:         f.storage,
		Decoder:         decoder.NewRegistry(),
		Router:          router,
		PollInterval:    time.Hour,
		DispatchTimeout: 5 * time.Second,
		MaxRetries:      1,
		OnExhausted: func(ctx context.Context, event *models.IndexedEvent, cause error) {
			exhausted = append(exhausted, event.ID)
		},
	})

	result, err := poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, exhausted, 1)

	// The sweep never picks the event back up at this cap
	retryable, err := f.storage.GetRetryableEvents(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Empty(t, retryable)
}

func TestTickRescanDispatchesOnlyNewEvents(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120)
	f.reader.logs = []types.Log{transferLog(100, 0, 500)}

	_, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.handler.appliedCount())

	// Force a re-scan of the same range by rewinding the cursor, as a
	// crash between insert and advance would
	require.NoError(t, f.storage.AdvanceCursor(context.Background(),
		f.source.NetworkID, f.source.AddressHex(), f.source.Schema, 99, time.Now()))

	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, f.handler.appliedCount())

	total, err := f.storage.CountEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestTickSkipsInactiveSource(t *testing.T) {
	f := newPollerFixture(t)
	f.reader.setHead(120)

	require.NoError(t, f.storage.SetCursorActive(context.Background(),
		f.source.NetworkID, f.source.AddressHex(), f.source.Schema, false))

	result, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickSkipped, result.Outcome)
	assert.Empty(t, f.reader.ranges)
}

func TestComputeRangeEdges(t *testing.T) {
	f := newPollerFixture(t)

	// Exactly one confirmed block at the start height
	from, to, ok := f.poller.computeRange(112, 99)
	require.True(t, ok)
	assert.Equal(t, uint64(100), from)
	assert.Equal(t, uint64(100), to)

	// One short of confirmation
	_, _, ok = f.poller.computeRange(111, 99)
	assert.False(t, ok)

	// Cursor already at confirmed height
	_, _, ok = f.poller.computeRange(120, 108)
	assert.False(t, ok)
}
