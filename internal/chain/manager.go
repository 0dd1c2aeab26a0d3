package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/chain-event-indexer/internal/config"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// Manager implements Reader over a set of configured networks, each with a
// primary node URL and optional backups. Connections are established lazily
// and replaced on failed health checks.
type Manager struct {
	networks map[uint64]*nodeClient
	logger   *logrus.Logger

	metricsManager *metrics.Manager
}

// nodeClient holds the connection state for one network
type nodeClient struct {
	cfg             config.NetworkConfig
	urls            []string
	currentIndex    int
	client          *ethclient.Client
	mu              sync.Mutex
	lastHealthCheck time.Time
	logger          *logrus.Logger
}

// NewManager creates a chain manager for the configured networks
func NewManager(cfg config.ChainConfig, metricsManager *metrics.Manager) *Manager {
	logger := utils.GetLogger()

	networks := make(map[uint64]*nodeClient, len(cfg.Networks))
	for _, n := range cfg.Networks {
		urls := append([]string{n.NodeURL}, n.BackupNodes...)
		networks[n.NetworkID] = &nodeClient{
			cfg:    n,
			urls:   urls,
			logger: logger,
		}
	}

	return &Manager{
		networks:       networks,
		logger:         logger,
		metricsManager: metricsManager,
	}
}

// HeadHeight returns the current chain head height for a network
func (m *Manager) HeadHeight(ctx context.Context, networkID uint64) (uint64, error) {
	nc, err := m.network(networkID)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	client, err := nc.getClient(ctx)
	if err != nil {
		m.recordRPC(networkID, "eth_blockNumber", "error", start)
		return 0, err
	}

	callCtx, cancel := nc.callContext(ctx)
	defer cancel()

	height, err := client.BlockNumber(callCtx)
	if err != nil {
		nc.markUnhealthy()
		m.recordRPC(networkID, "eth_blockNumber", "error", start)
		return 0, utils.NewAppError(utils.ErrCodeTransport, "Failed to get head height", err.Error())
	}

	m.recordRPC(networkID, "eth_blockNumber", "success", start)
	return height, nil
}

// FilterLogs returns the contract's logs in the inclusive height range
func (m *Manager) FilterLogs(ctx context.Context, networkID uint64, address common.Address, fromHeight, toHeight uint64) ([]types.Log, error) {
	nc, err := m.network(networkID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	client, err := nc.getClient(ctx)
	if err != nil {
		m.recordRPC(networkID, "eth_getLogs", "error", start)
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromHeight),
		ToBlock:   new(big.Int).SetUint64(toHeight),
		Addresses: []common.Address{address},
	}

	callCtx, cancel := nc.callContext(ctx)
	defer cancel()

	logs, err := client.FilterLogs(callCtx, query)
	if err != nil {
		nc.markUnhealthy()
		m.recordRPC(networkID, "eth_getLogs", "error", start)
		return nil, utils.NewAppError(utils.ErrCodeTransport, "Failed to filter logs", err.Error())
	}

	m.recordRPC(networkID, "eth_getLogs", "success", start)
	return logs, nil
}

// BlockTimestamp resolves the timestamp of a block by hash
func (m *Manager) BlockTimestamp(ctx context.Context, networkID uint64, blockHash common.Hash) (time.Time, error) {
	nc, err := m.network(networkID)
	if err != nil {
		return time.Time{}, err
	}

	start := time.Now()
	client, err := nc.getClient(ctx)
	if err != nil {
		m.recordRPC(networkID, "eth_getHeaderByHash", "error", start)
		return time.Time{}, err
	}

	callCtx, cancel := nc.callContext(ctx)
	defer cancel()

	header, err := client.HeaderByHash(callCtx, blockHash)
	if err != nil {
		nc.markUnhealthy()
		m.recordRPC(networkID, "eth_getHeaderByHash", "error", start)
		return time.Time{}, utils.NewAppError(utils.ErrCodeTransport, "Failed to get block header", err.Error())
	}

	m.recordRPC(networkID, "eth_getHeaderByHash", "success", start)
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// HealthCheck verifies connectivity and network identity for every network
func (m *Manager) HealthCheck(ctx context.Context) error {
	for networkID, nc := range m.networks {
		client, err := nc.getClient(ctx)
		if err != nil {
			return err
		}
		callCtx, cancel := nc.callContext(ctx)
		chainID, err := client.NetworkID(callCtx)
		cancel()
		if err != nil {
			nc.markUnhealthy()
			return utils.NewAppError(utils.ErrCodeTransport, "Failed to get network ID", err.Error())
		}
		if chainID.Uint64() != networkID {
			return utils.NewAppError(utils.ErrCodeConfiguration,
				"Network ID mismatch",
				chainID.String())
		}
	}
	return nil
}

// Close closes every network connection
func (m *Manager) Close() error {
	for _, nc := range m.networks {
		nc.close()
	}
	m.logger.Info("Chain manager closed")
	return nil
}

func (m *Manager) network(networkID uint64) (*nodeClient, error) {
	nc, ok := m.networks[networkID]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Network not configured",
			new(big.Int).SetUint64(networkID).String())
	}
	return nc, nil
}

func (m *Manager) recordRPC(networkID uint64, method, status string, start time.Time) {
	if m.metricsManager != nil {
		m.metricsManager.GetPrometheusMetrics().RecordRPCRequest(
			new(big.Int).SetUint64(networkID).String(), method, status, time.Since(start))
	}
}

// getClient returns the network's client, dialing if necessary
func (nc *nodeClient) getClient(ctx context.Context) (*ethclient.Client, error) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if nc.client != nil {
		return nc.client, nil
	}
	return nc.connectLocked(ctx)
}

// connectLocked walks the URL list until one node answers a health probe.
// Caller must hold nc.mu.
func (nc *nodeClient) connectLocked(ctx context.Context) (*ethclient.Client, error) {
	attempts := nc.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		for i, url := range nc.urls {
			nc.logger.WithFields(logrus.Fields{
				"network_id": nc.cfg.NetworkID,
				"url":        url,
				"attempt":    attempt + 1,
			}).Info("Attempting chain connection")

			client, err := nc.dial(ctx, url)
			if err != nil {
				nc.logger.WithError(err).WithField("url", url).Warn("Chain connection failed")
				continue
			}

			if err := nc.probe(ctx, client); err != nil {
				client.Close()
				nc.logger.WithError(err).WithField("url", url).Warn("Health probe failed after connection")
				continue
			}

			nc.client = client
			nc.currentIndex = i
			nc.lastHealthCheck = time.Now()
			nc.logger.WithFields(logrus.Fields{
				"network_id": nc.cfg.NetworkID,
				"url":        url,
			}).Info("Connected to chain node")
			return client, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(nc.cfg.RetryDelay):
			}
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeTransport, "Failed to connect to any chain node",
		"All connection attempts exhausted")
}

// callContext bounds a single RPC call by the network's request timeout,
// so a hung node fails the tick instead of wedging the poller
func (nc *nodeClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := nc.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (nc *nodeClient) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := nc.callContext(ctx)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

func (nc *nodeClient) probe(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.NetworkID(checkCtx)
	return err
}

// markUnhealthy drops the cached client so the next call reconnects
func (nc *nodeClient) markUnhealthy() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if nc.client != nil {
		nc.client.Close()
		nc.client = nil
	}
}

func (nc *nodeClient) close() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if nc.client != nil {
		nc.client.Close()
		nc.client = nil
	}
}
