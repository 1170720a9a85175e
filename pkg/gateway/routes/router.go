package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/smarthospital/vitals/pkg/gateway/middleware"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
)

type RouterConfig struct {
	Health         *HealthHandler
	Devices        *DeviceHandler
	Vitals         *VitalHandler
	Guard          middleware.Authorizer
	Metrics        *metrics.Metrics
	MaxRequestBody int64
}

// NewRouter mounts health and metrics at the root and the domain routes under /api/v1.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging, middleware.Recovery, middleware.Instrument(cfg.Metrics))

	cfg.Health.Register(router)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if cfg.MaxRequestBody > 0 {
		api.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	}

	auth := middleware.RequireCredential(cfg.Guard, cfg.Metrics)
	cfg.Devices.Register(api, auth)
	cfg.Vitals.Register(api, auth)

	return router
}
