package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/MoneyMitra/internal/handler"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/auth"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	service "github.com/honeynil/MoneyMitra/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Ledger         service.LedgerService
	Advice         service.AdviceService
	Verifier       auth.TokenVerifier
	Redis          redis.RedisClient
	IdempotencyTTL time.Duration
}

func SetupRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, metricsMiddleware)

	r.HandleFunc("/healthz", handler.Healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Защищённые роуты с JWT
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(
		auth.AuthMiddleware(d.Verifier),
		IdempotencyMiddleware(d.Redis, d.IdempotencyTTL),
	)
	handler.NewHandler(d.Ledger, d.Advice).RegisterRoutes(protected)

	return r
}
