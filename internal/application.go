package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tilegrid/internal/config"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
	"github.com/rocketscienceinc/tilegrid/internal/fanout"
	"github.com/rocketscienceinc/tilegrid/internal/repository/storage"
	redistransport "github.com/rocketscienceinc/tilegrid/internal/transport/redis"
	"github.com/rocketscienceinc/tilegrid/internal/usecase"
	"github.com/rocketscienceinc/tilegrid/transport/rest"
	"github.com/rocketscienceinc/tilegrid/transport/websocket"
)

var ErrUnknownFill = errors.New("unknown grid fill policy")

type publisher interface {
	Publish(ctx context.Context, msg string) error
}

// RunApp - runs the authority until SIGINT/SIGTERM.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	grid, err := NewGrid(conf.Grid)
	if err != nil {
		return fmt.Errorf("could not create grid: %w", err)
	}

	// the hub and the mutation service outlive the transports so in-flight requests can finish
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	hub := fanout.NewHub(logger, conf.Client.SubscriberBuffer)
	go hub.Run(hubCtx)

	var pub publisher = hub

	if conf.Redis.Enabled {
		redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr())
		if err != nil {
			return fmt.Errorf("could not connect to redis storage: %w", err)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()

		broker := redistransport.NewBroker(logger, redisStorage.Connection, conf.Redis.Channel)

		relay, err := broker.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("could not subscribe to redis channel: %w", err)
		}
		defer relay.Close()

		go func() {
			if relayErr := relay.Forward(hubCtx, hub); relayErr != nil {
				log.Error("redis relay stopped", "error", relayErr)
			}
		}()

		pub = broker
		log.Info("Broadcasting through redis", "channel", conf.Redis.Channel)
	}

	managerCtx, stopManager := context.WithCancel(context.Background())
	defer stopManager()

	manager := usecase.NewGridManager(logger, grid, pub)
	managerDone := make(chan struct{})
	go func() {
		manager.Run(managerCtx)
		close(managerDone)
	}()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		httpErrCh <- rest.Start(ctx, conf.HTTPPort, rest.NewHandlers(logger, manager, hub))
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.Authority.Port)
		wsServer := websocket.New(logger, manager, hub, websocket.Options{
			ReadHeaderTimeout: conf.Authority.ReadTimeout,
			WriteTimeout:      conf.Authority.WriteTimeout,
			ShutdownTimeout:   conf.Authority.ShutdownTimeout,
		})
		wsErrCh <- wsServer.Start(ctx, conf.Authority.ListenAddr())
	}()

	var runErr error
	select {
	case err = <-wsErrCh:
		cancel()
		runErr = errors.Join(wrap("WebSocket server error", err), wrap("HTTP server error", <-httpErrCh))
	case err = <-httpErrCh:
		cancel()
		runErr = errors.Join(wrap("HTTP server error", err), wrap("WebSocket server error", <-wsErrCh))
	}

	stopManager()
	<-managerDone
	stopHub()

	log.Info("Application stopped")

	return runErr
}

// NewGrid - builds the initial authoritative grid from configuration.
func NewGrid(conf config.Grid) (*entity.Grid, error) {
	switch conf.Fill {
	case config.FillZero, "":
		return entity.NewGrid(conf.Rows, conf.Columns)
	case config.FillRandom:
		return entity.NewRandomGrid(conf.Rows, conf.Columns, conf.Seed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFill, conf.Fill)
	}
}

func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", msg, err)
}
