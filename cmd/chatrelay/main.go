package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/chatrelay/chatrelay/internal/bus"
	"github.com/chatrelay/chatrelay/internal/relay"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/upstream"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings

	redisClient     *redis.Client
	pubsub          *redis.PubSub
	bridge          *bus.Bridge
	index           *relay.Index
	websocketServer *server.WebSocketServer
	healthServer    *server.HealthServer
}

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) *App {
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: settings.RedisAddr,
	})
	pubsub := redisClient.Subscribe(ctx)

	bridge := bus.NewBridge(logger, pubsub)
	index := relay.NewIndex(logger, bridge)

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	identity := upstream.NewIdentityClient(httpClient, settings.APIBaseURL, settings.APISecret)
	directory := upstream.NewDirectoryClient(httpClient, settings.APIBaseURL, settings.APISecret)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		index,
		identity,
		directory,
	)
	healthServer := server.NewHealthServer(logger, redisClient)

	return &App{
		logger:          logger,
		settings:        settings,
		redisClient:     redisClient,
		pubsub:          pubsub,
		bridge:          bridge,
		index:           index,
		websocketServer: websocketServer,
		healthServer:    healthServer,
	}
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	go a.bridge.Run(notifyCtx, a.index)

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.healthServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	if err := a.pubsub.Close(); err != nil {
		a.logger.Warn("failed to close bus subscription", zap.Error(err))
	}

	if err := a.redisClient.Close(); err != nil {
		a.logger.Warn("failed to close redis client", zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	bootstrapLogger, _ := zap.NewDevelopment()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		bootstrapLogger.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		bootstrapLogger.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	app := NewApp(ctx, logger, settings)
	app.run(ctx)
}
