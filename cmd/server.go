package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	app "easybox-network/internal"
	"easybox-network/internal/access"
	"easybox-network/internal/cleanup"
	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/device"
	"easybox-network/internal/email"
	"easybox-network/internal/geo"
	"easybox-network/internal/jwt"
	"easybox-network/internal/nonce"
	"easybox-network/internal/registration"
	"easybox-network/internal/reservation"
	"easybox-network/internal/routes"
	"easybox-network/internal/search"
	"easybox-network/internal/storage"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the easybox backend",
	Run: func(cmd *cobra.Command, args []string) {
		initLogger(cfg)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := ServerMain(ctx, cfg, provider); err != nil {
			fail("Server stopped", err)
		}
	},
}

// Initialize logger
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		println("Invalid log level in config, defaulting to INFO")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Debug("Logger initialized", "level", level.String())
	return logger
}

// devices is the locker side of the backend: the broker connection and the
// replay guard for signed events.
type devices struct {
	channel *device.Channel
	nonces  nonce.Store
}

func (d *devices) Close() {
	d.channel.Close()
	d.nonces.Close()
}

func connectDevices(cfg *config.Config, store storage.Provider, clk clock.Clock) (*devices, error) {
	nonces, err := nonce.NewStore(cfg.NonceStore, store, clk, time.Minute)
	if err != nil {
		return nil, err
	}
	transport, err := device.NewMQTTTransport(cfg.MQTT)
	if err != nil {
		nonces.Close()
		return nil, err
	}
	channel := device.NewChannel(transport, cfg.MQTT, store, nonces)
	return &devices{channel: channel, nonces: nonces}, nil
}

func newEngine(cfg *config.Config, store storage.Provider, clk clock.Clock, opts ...reservation.Option) *reservation.Engine {
	searcher := search.NewSearcher(store, geo.NewNominatim(cfg.Geocoder), clk)
	return reservation.NewEngine(store, searcher, clk, cfg.Reservation, opts...)
}

// ServerMain runs the backend until ctx is canceled.
func ServerMain(ctx context.Context, cfg *config.Config, store storage.Provider) error {
	if store == nil {
		return errors.New("storage provider is nil")
	}
	clk := clock.Real{}

	dev, err := connectDevices(cfg, store, clk)
	if err != nil {
		return fmt.Errorf("device channel: %w", err)
	}
	defer dev.Close()

	opts := []reservation.Option{reservation.WithCommander(dev.channel)}
	if cfg.Email.Enabled() {
		client, err := email.NewClient(cfg.Email)
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		opts = append(opts, reservation.WithNotifier(email.NewNotifier(client, store)))
	} else {
		slog.Warn("email.host is not set, bakeries will not be notified")
	}

	geocoder := geo.NewNominatim(cfg.Geocoder)
	searcher := search.NewSearcher(store, geocoder, clk)
	engine := reservation.NewEngine(store, searcher, clk, cfg.Reservation, opts...)

	dev.channel.OnScan(engine.ScanHandler())
	dev.channel.OnAck(engine.AckHandler())
	if err := dev.channel.Start(); err != nil {
		return err
	}

	rbac := access.NewRBAC()
	if err := rbac.LoadPolicy(cfg.RBAC.PolicyFile); err != nil {
		return fmt.Errorf("load rbac policy %q: %w", cfg.RBAC.PolicyFile, err)
	}

	api := routes.NewAPI(routes.Services{
		Store:     store,
		Engine:    engine,
		Searcher:  searcher,
		Registrar: registration.NewRegistrar(store, geocoder, dev.channel, clk, cfg.Registration, cfg.MQTT.SyncRetries),
		Issuer:    jwt.NewIssuer(cfg.Secret, time.Duration(cfg.TokenTTL)*time.Second),
		RBAC:      rbac,
		Clock:     clk,
		Presence:  dev.channel,
		Admins:    cfg.RBAC.Admins,
	})

	scheduler := cleanup.NewScheduler(engine, clk, cfg.Cleanup)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.HTTPServer(cfg, api),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
