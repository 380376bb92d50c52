package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthServer(t *testing.T) {
	t.Run("reports unhealthy when the bus is unreachable", func(t *testing.T) {
		redisClient := redis.NewClient(&redis.Options{
			Addr: "127.0.0.1:1", // nothing listens here
		})
		defer redisClient.Close()

		healthServer := NewHealthServer(zap.NewNop(), redisClient)

		router := mux.NewRouter()
		healthServer.Register(router)

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	})
}
