package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"flowly/internal/shared/config"
	"flowly/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RouteMetrics)

	r.HandleFunc("/health", deps.HealthHandler.HandleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.ServiceAuth(cfg.API.Token))

	api.HandleFunc("/sync", deps.SyncHandler.HandleTriggerPass).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id}/sync", deps.SyncHandler.HandleSyncConnection).Methods(http.MethodPost)
	api.HandleFunc("/link/token", deps.LinkHandler.HandleCreateLinkToken).Methods(http.MethodPost)
	api.HandleFunc("/link/exchange", deps.LinkHandler.HandleExchange).Methods(http.MethodPost)
	api.HandleFunc("/users/{userId}/accounts/{accountId}", deps.AccountHandler.HandleUnlinkAccount).Methods(http.MethodDelete)

	var handler http.Handler = r
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Recover(logger)(handler)
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(cfg.Telemetry.ServiceName)(handler)
	}
	return handler
}
