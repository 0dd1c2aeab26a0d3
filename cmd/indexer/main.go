// File: cmd/indexer/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/chain-event-indexer/internal/alert"
	"github.com/smartdevs17/chain-event-indexer/internal/chain"
	"github.com/smartdevs17/chain-event-indexer/internal/config"
	"github.com/smartdevs17/chain-event-indexer/internal/decoder"
	"github.com/smartdevs17/chain-event-indexer/internal/handler"
	"github.com/smartdevs17/chain-event-indexer/internal/indexer"
	"github.com/smartdevs17/chain-event-indexer/internal/metrics"
	"github.com/smartdevs17/chain-event-indexer/internal/models"
	"github.com/smartdevs17/chain-event-indexer/internal/server"
	"github.com/smartdevs17/chain-event-indexer/internal/storage"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the indexer's components together
type Application struct {
	config         *config.Config
	chain          *chain.Manager
	storage        storage.Storage
	supervisor     *indexer.Supervisor
	server         *server.HTTPServer
	metricsManager *metrics.Manager
}

// NewApplication creates a fully wired application from configuration
func NewApplication(cfg *config.Config) (*Application, error) {
	logCfg := cfg.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{config: cfg}

	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing application components")

	app.metricsManager = metrics.NewManager()

	// Storage
	storageCfg := &storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
		RetryCap:         app.config.Indexer.MaxRetries,
	}
	store, err := storage.NewStorage(storageCfg)
	if err != nil {
		return err
	}
	store.SetMetricsManager(app.metricsManager)
	if err := store.Connect(); err != nil {
		return err
	}
	if err := store.Migrate(); err != nil {
		return err
	}
	app.storage = store

	// Chain access
	app.chain = chain.NewManager(app.config.Chain, app.metricsManager)

	// Sources
	sources, err := app.config.SourceConfigs()
	if err != nil {
		return err
	}

	// Decoders and business handlers
	registry := decoder.NewRegistry()

	router := handler.NewRouter()
	tokenSale := handler.NewTokenSaleHandler(store)
	router.Register(models.SchemaERC20, tokenSale)
	// The payment schema carries both gateway payments and token sale events
	router.Register(models.SchemaPayment, tokenSale)
	router.Register(models.SchemaPayment, handler.NewPaymentHandler(store))

	// Supervisor
	app.supervisor = indexer.NewSupervisor(indexer.SupervisorOptions{
		Config:         app.config.Indexer,
		Sources:        sources,
		Reader:         app.chain,
		Storage:        store,
		Decoder:        registry,
		Router:         router,
		Alerter:        alert.NewAlerter(app.config.Alerts),
		MetricsManager: app.metricsManager,
	})

	// Operator API
	app.server = server.NewHTTPServer(&app.config.Server, store, app.supervisor, app.metricsManager)

	logger.Info("All components initialized successfully")
	return nil
}

// Start brings the indexer and operator API up
func (app *Application) Start(ctx context.Context) error {
	logger := utils.GetLogger()
	logger.WithField("version", AppVersion).Info("Starting chain event indexer")

	if _, err := app.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start indexer: %w", err)
	}

	if err := app.server.Start(); err != nil {
		app.supervisor.Stop()
		return err
	}

	logger.Info("Chain event indexer started")
	return nil
}

// Stop shuts everything down in reverse order of startup
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping chain event indexer")

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.supervisor != nil {
		app.supervisor.Stop()
	}

	if app.chain != nil {
		if err := app.chain.Close(); err != nil {
			logger.WithError(err).Error("Failed to close chain connections")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			logger.WithError(err).Error("Failed to close storage")
		}
	}

	logger.Info("Chain event indexer stopped successfully")
	return nil
}

// CLI Commands

var rootCmd = &cobra.Command{
	Use:     "chain-event-indexer",
	Short:   "Incremental chain event indexer",
	Long:    `An incremental indexer that tracks confirmed smart contract events across networks, stores them durably and dispatches them to business handlers.`,
	Version: AppVersion,
	RunE:    runIndexer,
}

func runIndexer(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Chain Event Indexer %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		sources, err := cfg.SourceConfigs()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Networks: %d\n", len(cfg.Chain.Networks))
		fmt.Printf("Sources: %d\n", len(sources))
		fmt.Printf("Database: %s\n", cfg.Storage.Type)

		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Testing chain event indexer connectivity...")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
			RetryCap:         cfg.Indexer.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("Storage connection successful")

		fmt.Printf("Testing chain connectivity (%d networks)...\n", len(cfg.Chain.Networks))
		manager := chain.NewManager(cfg.Chain, nil)
		defer manager.Close()
		if err := manager.HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("chain connectivity check failed: %w", err)
		}
		fmt.Println("Chain connectivity successful")

		fmt.Println("\nAll connectivity tests passed!")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
