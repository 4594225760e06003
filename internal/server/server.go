package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/config"
	"github.com/gravitas-games/flowfield/internal/nav"
	"github.com/gravitas-games/flowfield/internal/snapshot"
)

// Server exposes the navigation engine over WebSocket
type Server struct {
	config       *config.Config
	logger       *zap.Logger
	engine       *nav.Engine
	bus          nav.EventBus
	session      *Session
	upgrader     websocket.Upgrader
	httpSrv      *http.Server
	jwtValidator *JWTValidator
	redis        *redis.Client
	snapshots    *snapshot.Store

	// Connection tracking
	connections map[*Connection]bool
	connMu      sync.RWMutex

	// Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server for engine. bus must be the bus the engine
// publishes on.
func New(cfg *config.Config, engine *nav.Engine, bus nav.EventBus, logger *zap.Logger) (*Server, error) {
	logger.Info("Initializing server")

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:      cfg,
		logger:      logger,
		engine:      engine,
		bus:         bus,
		session:     NewSession("main", cfg.Cache.TTL, logger),
		connections: make(map[*Connection]bool),
		ctx:         ctx,
		cancel:      cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: check against an allowed origin list once the web client has a fixed host
				return true
			},
		},
	}

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("Connected to Redis", zap.String("address", cfg.Redis.Address))

		srv.redis = redisClient
		srv.snapshots = snapshot.NewStore(redisClient, cfg.Redis.SnapshotPrefix, cfg.Cache.TTL,
			engine.Dimensions().Resolution, logger)
		bus.Subscribe("snapshots", srv.snapshots.Handle)
	}

	jwtValidator, err := NewJWTValidator(ctx, cfg, srv.redis, logger)
	if err != nil {
		srv.closeRedis()
		cancel()
		return nil, fmt.Errorf("failed to initialize JWT validator: %w", err)
	}
	srv.jwtValidator = jwtValidator

	bus.Subscribe("sessions", srv.session.Handle)

	logger.Info("Server initialized")
	return srv, nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Server listening",
		zap.String("websocket", fmt.Sprintf("ws://%s/ws", addr)),
		zap.String("health", fmt.Sprintf("http://%s/health", addr)))

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")

	s.bus.Unsubscribe("sessions")
	s.bus.Unsubscribe("snapshots")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
	}

	s.connMu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connMu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}

	s.closeRedis()

	s.logger.Info("Server shutdown complete")
	return nil
}

func (s *Server) closeRedis() {
	if s.redis == nil {
		return
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("Redis close error", zap.Error(err))
	}
}

// handleWebSocket authenticates and upgrades a connection request
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenString := extractTokenFromHeader(r)
	if tokenString == "" {
		s.logger.Debug("Missing JWT token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	client, err := s.jwtValidator.ValidateToken(r.Context(), tokenString)
	if err != nil {
		s.logger.Info("Rejected JWT token", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client.Connected = true
	client.ConnectedAt = time.Now()
	conn := NewConnection(ws, s, client)

	s.connMu.Lock()
	s.connections[conn] = true
	s.connMu.Unlock()
	s.session.AddClient(client, conn)

	s.logger.Info("WebSocket connection established",
		zap.String("client", client.ID),
		zap.String("username", client.Username),
		zap.String("remote", r.RemoteAddr))

	conn.Handle()

	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()

	s.logger.Info("WebSocket connection closed", zap.String("client", client.ID))
}

// handleHealth reports liveness and session counters
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":            "ok",
		"session":           s.session.Status(),
		"pending_mutations": s.engine.PendingMutations(),
		"queued_builds":     s.engine.QueuedBuilds(),
	})
}
