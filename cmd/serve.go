package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"lattis/internal/api"
	"lattis/internal/broker"
	"lattis/internal/ingest"
	"lattis/internal/inventory"
	"lattis/internal/logger"
	"lattis/internal/realtime"
	"lattis/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Lattis backend daemon",
	Long: `Starts the full backend: broker subscription, topic workers,
stock reconciliation, the REST API and the realtime push channel.
Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log := logger.GetLogger("serve")
		log.Info().
			Str("db_path", cfg.Database.Path).
			Str("broker_sub", cfg.Broker.SubEndpoint).
			Str("broker_pub", cfg.Broker.PubEndpoint).
			Str("api_address", cfg.Server.Address).
			Str("log_level", cfg.Logging.Level).
			Msg("Starting Lattis backend daemon")

		st, err := store.NewStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()

		broadcaster := realtime.NewBroadcaster()
		alerts := inventory.NewAlertGuard(st, broadcaster)
		reconciler := inventory.NewReconciler(st, alerts)
		credentials := inventory.NewCredentialIssuer(
			cfg.Credentials.SecretKey, cfg.Credentials.Issuer, cfg.Credentials.Dir)
		provisioner := inventory.NewProvisioner(st, credentials, cfg.Shelf.Floors, cfg.Shelf.Columns)

		handlers, err := ingest.NewHandlers(st, reconciler, alerts)
		if err != nil {
			return fmt.Errorf("failed to initialize handlers: %w", err)
		}

		router := ingest.NewRouter(cfg.Broker.QueueSize)
		handlers.RegisterAll(router, ingest.TopicSet{
			LoadCellQuantity:  broker.TopicLoadCellQuantity,
			SensorEnvironment: broker.TopicSensorEnvironment,
			ShelfStatus:       broker.TopicShelfStatus,
			UnpaidCustomer:    broker.TopicUnpaidCustomer,
			PaymentNotify:     broker.TopicPaymentNotify,
			ProductAdded:      broker.TopicProductAdded,
		})
		router.Start()

		identity := fmt.Sprintf("%s-%s", cfg.Broker.ClientID, uuid.New().String()[:8])
		client := broker.NewClient(
			cfg.Broker.SubEndpoint, cfg.Broker.PubEndpoint,
			identity, cfg.GetReconnectInterval(), router)

		apiServer := api.NewServer(st, reconciler, provisioner, broadcaster, client)

		var wg sync.WaitGroup
		errChan := make(chan error, 2)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Start(); err != nil {
				errChan <- fmt.Errorf("broker client error: %w", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(cfg.Server.Address, cfg.GetServerTimeout()); err != nil {
				errChan <- fmt.Errorf("API server error: %w", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
		case err := <-errChan:
			log.Error().Err(err).Msg("Service error")
			return err
		}

		log.Info().Msg("Shutting down backend services")

		if err := apiServer.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping API server")
		}

		if err := client.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping broker client")
		}

		router.Stop()
		broadcaster.Close()
		wg.Wait()

		log.Info().Msg("Backend daemon stopped")
		return nil
	},
}
