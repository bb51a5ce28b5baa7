// Package api provides the local HTTP control API: peer status, the inbox,
// frame rejections, sending packets and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/logging"
	"github.com/ZentaChain/gerti-client/pkg/network"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
	"github.com/ZentaChain/gerti-client/pkg/storage"
)

// PeerPool is the part of network.Pool the API drives.
type PeerPool interface {
	Status() []network.PeerStatus
	Write(peer string, pkt *protocol.Packet) error
	Broadcast(pkt *protocol.Packet) (int, error)
}

// Inbox is the part of storage.Inbox the API reads.
type Inbox interface {
	ListPackets(limit int) ([]*storage.StoredPacket, error)
	CountPackets() (int, error)
	RejectionCounts() (map[string]int, error)
}

// Config holds server configuration
type Config struct {
	Addr         string
	EnableCORS   bool
	RateLimit    int // Requests per minute per client, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "127.0.0.1:8741",
		EnableCORS:   false,
		RateLimit:    600,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP control API.
type Server struct {
	config   *Config
	identity *protocol.Identity
	pool     PeerPool
	inbox    Inbox
	gatherer prometheus.Gatherer
	log      *zap.Logger
	router   *gin.Engine
	started  time.Time

	httpServer *http.Server
}

// Deps are the components the server reads from and writes to.
type Deps struct {
	Identity *protocol.Identity
	Pool     PeerPool
	Inbox    Inbox
	Gatherer prometheus.Gatherer // nil disables /metrics
	Logger   *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(deps Deps, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Identity == nil || deps.Pool == nil || deps.Inbox == nil {
		return nil, errors.New("api: identity, pool and inbox are required")
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		identity: deps.Identity,
		pool:     deps.Pool,
		inbox:    deps.Inbox,
		gatherer: deps.Gatherer,
		log:      logging.OrNop(deps.Logger).Named("api"),
		router:   gin.New(),
		started:  time.Now(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.log))

	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimit)))
	}
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/inbox", s.handleInbox)
		v1.GET("/rejections", s.handleRejections)
		v1.POST("/send", s.handleSend)
	}

	s.router.GET("/health", s.handleHealth)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API listening", zap.String("addr", ln.Addr().String()))
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
