package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-orm/internal/audit"
	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-orm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-orm/internal/persistence"
	"github.com/nerrad567/gray-orm/internal/staff"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Factory   *persistence.Factory
	Employees *staff.EmployeeRepository
	Companies *staff.CompanyRepository
	Projects  *persistence.Repository[*staff.Project]
	Audit     audit.Repository // optional: audit endpoints return 503 without it
	MQTT      *mqtt.Client     // optional: reported by /metrics only
	DB        *database.DB     // optional: defaults to the factory's database

	// ExternalHub is used instead of creating a hub, so that a
	// persistence listener can broadcast on it before the server starts.
	ExternalHub *Hub
	Version     string
}

// Server is the HTTP API server for Gray ORM.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	factory     *persistence.Factory
	employees   *staff.EmployeeRepository
	companies   *staff.CompanyRepository
	projects    *persistence.Repository[*staff.Project]
	auditRepo   audit.Repository
	mqtt        *mqtt.Client
	db          *database.DB
	version     string
	startTime   time.Time
	tickets     *ticketStore
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its hub exists
// from here on so listeners can be attached to it.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Factory == nil {
		return nil, fmt.Errorf("persistence factory is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		factory:   deps.Factory,
		employees: deps.Employees,
		companies: deps.Companies,
		projects:  deps.Projects,
		auditRepo: deps.Audit,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}

	if s.db == nil {
		s.db = deps.Factory.DB()
	}

	var err error
	if s.employees == nil {
		if s.employees, err = staff.NewEmployeeRepository(deps.Factory); err != nil {
			return nil, fmt.Errorf("employee repository: %w", err)
		}
	}
	if s.companies == nil {
		if s.companies, err = staff.NewCompanyRepository(deps.Factory); err != nil {
			return nil, fmt.Errorf("company repository: %w", err)
		}
	}
	if s.projects == nil {
		if s.projects, err = persistence.NewRepository[*staff.Project](deps.Factory); err != nil {
			return nil, fmt.Errorf("project repository: %w", err)
		}
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub the server broadcasts on.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), the ticket cleanup loop and
// the HTTP listener in background goroutines. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and its database answers.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	if err := s.factory.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	return nil
}
