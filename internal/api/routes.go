package api

import (
	"net/http"

	"chatgate/internal/models"
	"chatgate/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
// Health, docs and any extra skipPaths (the gateway's long-lived upgrade)
// are not traced.
func WithOTelMiddleware(serviceName string, skipPaths ...string) RouteOption {
	skip := map[string]bool{
		"/health":        true,
		"/api/v1/health": true,
		"/metrics":       true,
		"/docs":          true,
	}
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return !skip[r.URL.Path]
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes. checker may be nil, which disables
// rate limiting; gateway is mounted at config.Gateway.Path when non-nil.
func SetupRoutes(handlers *Handlers, gateway http.Handler, checker ratelimit.Checker, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	trustProxy := config.Server.TrustProxyHeaders
	limited := func(bucket string, h http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(checker, bucket, ratelimit.DefaultCost, trustProxy)(h)
	}
	docs := handlers.Docs()

	router.Handle("/", limited(models.BucketInfo, handlers.InstanceInfo)).Methods("GET")
	docs.AddRoute(RouteDoc{
		Method:    "GET",
		Path:      "/",
		Summary:   "Describe this instance, its gateway and its rate limits",
		Category:  "Instance",
		RateLimit: models.BucketInfo,
	}, nil, models.InstanceInfoResponse{})

	router.Handle("/messages", limited(models.BucketMessageCreate, handlers.CreateMessage)).Methods("POST")
	docs.AddRoute(RouteDoc{
		Method:    "POST",
		Path:      "/messages",
		Summary:   "Create a message and broadcast it to every gateway session",
		Category:  "Messaging",
		RateLimit: models.BucketMessageCreate,
	}, models.CreateMessageRequest{}, models.CreateMessageResponse{})

	if gateway != nil {
		router.Handle(config.Gateway.Path, gateway).Methods("GET")
		docs.AddRoute(RouteDoc{
			Method:    "GET",
			Path:      config.Gateway.Path,
			Summary:   "Open a gateway websocket; optional ?v=<version>",
			Category:  "Gateway",
			RateLimit: models.BucketGatewayConnect,
		}, nil, nil)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")
	docs.AddRoute(RouteDoc{
		Method:   "GET",
		Path:     "/health",
		Summary:  "Report store, bus and gateway health",
		Category: "Operations",
	}, nil, models.HealthCheckResponse{})

	router.HandleFunc("/docs", handlers.ServeDocs).Methods("GET")
	docs.AddRoute(RouteDoc{
		Method:   "GET",
		Path:     "/docs",
		Summary:  "This document; ?format=yaml for YAML",
		Category: "Operations",
	}, nil, nil)

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}
