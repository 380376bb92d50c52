package server

import (
	"net/http"

	"github.com/chatrelay/chatrelay/internal/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	registry  session.Registry
	identity  session.IdentityVerifier
	directory session.ChannelDirectory
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	registry session.Registry,
	identity session.IdentityVerifier,
	directory session.ChannelDirectory,
) *WebSocketServer {
	return &WebSocketServer{
		logger:    logger,
		upgrader:  upgrader,
		registry:  registry,
		identity:  identity,
		directory: directory,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))

			return
		}

		connectionId := gonanoid.Must()
		logger := s.logger.With(zap.String("connectionId", connectionId))

		logger.Info("websocket connection established")

		client := newClient(logger, conn)
		go client.writePump()

		sess := session.New(logger, client, client, s.registry, s.identity, s.directory)
		sess.Run(r.Context())

		logger.Info("websocket connection closed")
	})
}
