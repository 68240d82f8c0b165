package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/fetchrig/internal/api/models"
	"github.com/smazurov/fetchrig/internal/command"
	"github.com/smazurov/fetchrig/internal/display"
	"github.com/smazurov/fetchrig/internal/events"
	"github.com/smazurov/fetchrig/internal/input"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/smazurov/fetchrig/internal/metrics"
	"github.com/smazurov/fetchrig/internal/rig"
	"github.com/smazurov/fetchrig/internal/router"
	"github.com/smazurov/fetchrig/internal/version"
)

// Rig is the part of the running rig the API controls.
type Rig interface {
	Status() rig.Status
	Dispatch(cmd command.Command)
	Tap(b input.Button)
	Bindings() []router.Binding
	Preview() *display.Latest
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	Rig          Rig
	EventBus     *events.Bus
	// FFmpegBinary and EncoderCodec back the encoder listing.
	FFmpegBinary string
	EncoderCodec string
	// PrometheusHandler serves /metrics when set.
	PrometheusHandler http.Handler
}

// Server is the control API of the rig.
type Server struct {
	api      huma.API
	mux      *http.ServeMux
	rig      Rig
	eventBus *events.Bus
	options  *Options
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		unauthorized := func(msg string, errs ...error) {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="FetchRig API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
		}

		// SSE clients cannot set headers, so they may pass ?auth=<base64>
		encoded := ctx.Query("auth")
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				unauthorized("Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		}
		if encoded == "" {
			unauthorized("Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			unauthorized("Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			unauthorized("Invalid credentials format")
			return
		}
		if user != username || pass != password {
			unauthorized("Invalid credentials")
			return
		}

		next(ctx)
	}
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("FetchRig API", version.String())
	config.Info.Description = "Control and status API for the dual-camera rig"
	// Empty servers list makes OpenAPI use relative paths
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}
	server := &Server{
		api:      api,
		mux:      mux,
		rig:      opts.Rig,
		eventBus: eventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop. Returns http.ErrServerClosed once
// stopped, also when Stop came first.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting FetchRig API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")
	return srv.ListenAndServe()
}

// Stop closes the listener and every open connection, SSE streams included.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// sseDropped counts events a slow stream client missed.
func (s *Server) sseDropped() {
	metrics.IncQueueDropped("sse")
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerControlRoutes()
	s.registerPreviewRoutes()
	s.registerDeviceRoutes()
	s.registerLogRoutes()
	s.registerSSERoutes()
	s.registerStatusStreamRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
