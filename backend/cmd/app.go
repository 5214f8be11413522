package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/chatroom-relay/backend/model"
	httpServer "github.com/adwski/chatroom-relay/backend/server/http"
	websocketServer "github.com/adwski/chatroom-relay/backend/server/websocket"
	"github.com/adwski/chatroom-relay/backend/service"
	store "github.com/adwski/chatroom-relay/backend/storage/memory"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.ConsoleLog {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	svc, err := service.NewService(service.Config{
		RoomStore:     store.NewMemStore(),
		Logger:        &logger,
		DefaultRoomID: model.RoomID(cfg.RoomID),
		InboxSize:     cfg.InboxSize,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     cfg.WSListenAddr,
		MaxMessageSize: cfg.MaxMessageSize,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		SendBufferSize: cfg.SendBufferSize,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 3)
	)
	wg.Add(3)
	go svc.Run(ctx, wg, errc)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
