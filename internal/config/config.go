// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/smartdevs17/chain-event-indexer/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig      `mapstructure:"app"`
	Chain   ChainConfig    `mapstructure:"chain"`
	Indexer IndexerConfig  `mapstructure:"indexer"`
	Sources []SourceEntry  `mapstructure:"sources"`
	Storage StorageConfig  `mapstructure:"storage"`
	Alerts  AlertsConfig   `mapstructure:"alerts"`
	Server  ServerConfig   `mapstructure:"server"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains the chain endpoints, one entry per network
type ChainConfig struct {
	Networks []NetworkConfig `mapstructure:"networks"`
}

// NetworkConfig contains the RPC connection configuration for one network
type NetworkConfig struct {
	NetworkID      uint64        `mapstructure:"network_id"`
	NodeURL        string        `mapstructure:"node_url"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// IndexerConfig contains the scan-loop tunables shared by all pollers
type IndexerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	DispatchTimeout    time.Duration `mapstructure:"dispatch_timeout"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
}

// SourceEntry is the config-file shape of one indexed source
type SourceEntry struct {
	NetworkID     uint64 `mapstructure:"network_id"`
	Address       string `mapstructure:"address"`
	Schema        string `mapstructure:"schema"`
	StartHeight   uint64 `mapstructure:"start_height"`
	Confirmations uint64 `mapstructure:"confirmations"`
	BatchSize     uint64 `mapstructure:"batch_size"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// AlertsConfig contains operator alerting configuration
type AlertsConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("CHAIN_INDEXER")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "chain-event-indexer")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Indexer defaults
	viper.SetDefault("indexer.poll_interval", "30s")
	viper.SetDefault("indexer.max_retries", 3)
	viper.SetDefault("indexer.dispatch_timeout", "30s")
	viper.SetDefault("indexer.staleness_threshold", "5m")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/indexer.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Alert defaults
	viper.SetDefault("alerts.timeout", "10s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Chain.Networks) == 0 {
		return fmt.Errorf("at least one chain network is required")
	}
	networks := make(map[uint64]bool, len(c.Chain.Networks))
	for _, n := range c.Chain.Networks {
		if n.NodeURL == "" {
			return fmt.Errorf("network %d: node URL is required", n.NetworkID)
		}
		if networks[n.NetworkID] {
			return fmt.Errorf("network %d configured twice", n.NetworkID)
		}
		networks[n.NetworkID] = true
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Indexer.PollInterval <= 0 {
		return fmt.Errorf("indexer poll interval must be positive")
	}
	if c.Indexer.MaxRetries <= 0 {
		return fmt.Errorf("indexer max retries must be positive")
	}
	if _, err := c.SourceConfigs(); err != nil {
		return err
	}
	return nil
}

// SourceConfigs converts the config-file source entries into validated
// SourceConfigs. Duplicate (network, address, schema) identities are a
// configuration error, never silently ignored.
func (c *Config) SourceConfigs() ([]models.SourceConfig, error) {
	sources := make([]models.SourceConfig, 0, len(c.Sources))
	seen := make(map[string]bool, len(c.Sources))

	for i, entry := range c.Sources {
		if !common.IsHexAddress(entry.Address) {
			return nil, fmt.Errorf("source %d: invalid contract address %q", i, entry.Address)
		}
		source := models.SourceConfig{
			NetworkID:     entry.NetworkID,
			Address:       common.HexToAddress(entry.Address),
			Schema:        models.SchemaKind(entry.Schema),
			StartHeight:   entry.StartHeight,
			Confirmations: entry.Confirmations,
			BatchSize:     entry.BatchSize,
		}
		source.ApplyDefaults()
		if err := source.Validate(); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if seen[source.Key()] {
			return nil, fmt.Errorf("duplicate source %s", source.Key())
		}
		seen[source.Key()] = true
		sources = append(sources, source)
	}

	return sources, nil
}
