package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthServer answers liveness probes from the load balancer in front of
// the websocket instances.
type HealthServer struct {
	logger      *zap.Logger
	redisClient redis.UniversalClient
}

func NewHealthServer(
	logger *zap.Logger,
	redisClient redis.UniversalClient,
) *HealthServer {
	return &HealthServer{
		logger:      logger,
		redisClient: redisClient,
	}
}

func (s *HealthServer) Register(router *mux.Router) {
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			s.logger.Warn("health check redis ping failed", zap.Error(err))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")
}
