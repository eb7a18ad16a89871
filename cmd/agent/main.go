package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
	"github.com/pizza-nz/print-agent/internal/daemon"
	"github.com/pizza-nz/print-agent/internal/db"
	"github.com/pizza-nz/print-agent/internal/db/repository"
	"github.com/pizza-nz/print-agent/internal/logging"
	"github.com/pizza-nz/print-agent/internal/models"
	"github.com/pizza-nz/print-agent/internal/notify"
	"github.com/pizza-nz/print-agent/internal/registry"
	"github.com/pizza-nz/print-agent/internal/router"
	"github.com/pizza-nz/print-agent/internal/service"
	"github.com/pizza-nz/print-agent/internal/ticket"
	"github.com/pizza-nz/print-agent/internal/transport"
	"github.com/pizza-nz/print-agent/internal/websockets"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	debug := pflag.Bool("debug", false, "log at debug level")
	addr := pflag.String("addr", "", "HTTP listen address, overrides server.address")
	hashPIN := pflag.String("hash-pin", "", "print the bcrypt hash of a PIN for auth.pin_hash and exit")
	pflag.Parse()

	if *hashPIN != "" {
		hash, err := service.HashPIN(*hashPIN)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("print agent stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Initialize database
	database, err := db.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	repos := repository.NewRepositories(database)
	if cfg.Printing.HistoryRetention > 0 {
		cutoff := time.Now().Add(-cfg.Printing.HistoryRetention)
		if n, err := repos.PrintJob.DeleteBefore(context.Background(), cutoff); err != nil {
			logger.Warn("failed to prune print history", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned print history", zap.Int64("jobs", n))
		}
	}

	// Transports
	central := transport.NewBluetoothCentral()
	newTransport := func(kind models.BackendKind) (transport.Transport, error) {
		switch kind {
		case models.BackendBLE:
			return transport.NewBLE(central, cfg.BLE, logger), nil
		case models.BackendSerial:
			return transport.NewSerial(cfg.Serial, logger), nil
		default:
			return nil, fmt.Errorf("%w: %s", transport.ErrUnavailable, kind)
		}
	}

	devices := registry.New(registry.Options{
		Store: repos.Preference,
		Discoverers: []transport.Discoverer{
			transport.NewBLEDiscoverer(central, cfg.BLE),
			transport.NewSerialDiscoverer(cfg.Serial),
		},
		NewTransport: newTransport,
		Backends:     cfg.Printing.Roles,
		Timeout:      cfg.Printing.OperationTimeout,
		Logger:       logger,
	})
	browser := transport.NewBrowser(cfg.Browser, ticket.PlainText, logger)

	// Services
	auth := service.NewAuthService(cfg.Auth.PinHash, service.JWTConfig{
		Secret:    cfg.JWT.Secret,
		ExpiresIn: cfg.JWT.ExpiresIn,
	})
	backendToken := auth.ServiceToken
	if cfg.Backend.Token != "" {
		backendToken = func() (string, error) { return cfg.Backend.Token, nil }
	}
	orders := service.NewOrderService(
		service.NewHTTPOrderClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, backendToken),
		logger,
	)
	printer := service.NewPrinterService(devices, browser, cfg.Printing.AutoPrint, cfg.Printing.AutoPrintRole, logger)
	printer.SetJournal(repos.PrintJob)

	// Initialize WebSocket hub
	hub := websockets.NewHub(logger)
	hub.SetSnapshot(printer.Statuses)
	devices.AddListener(hub)
	printer.SetPublisher(hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	// Push notifications
	token, err := backendToken()
	if err != nil {
		return fmt.Errorf("failed to get service token: %w", err)
	}
	source, err := notify.New(cfg.Notify, token, logger)
	if err != nil {
		return err
	}
	printDaemon := daemon.New(source, orders, printer, logger)
	if err := printDaemon.Start(ctx); err != nil {
		return err
	}

	go devices.AutoConnect(ctx)

	// Create HTTP server
	server := &http.Server{
		Addr: cfg.Server.Address,
		Handler: router.New(router.Deps{
			Auth:        auth,
			Devices:     devices,
			Preferences: repos.Preference,
			Jobs:        repos.PrintJob,
			Printer:     printer,
			Hub:         hub,
			Health:      database,
			Logger:      logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serverErr:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	printDaemon.Stop()
	devices.Close(shutdownCtx)

	logger.Info("print agent exited")
	return err
}
