package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/cache"
	"github.com/profilekit/accounts/internal/db"
	"github.com/profilekit/accounts/internal/events"
	"github.com/profilekit/accounts/internal/handlers"
	"github.com/profilekit/accounts/internal/metrics"
	"github.com/profilekit/accounts/internal/mq"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/internal/storage"
	"github.com/profilekit/accounts/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the use-cases the HTTP API is built on.
type Dependencies struct {
	Auth     handlers.Authenticator
	Profiles handlers.ProfileStore
	Avatars  handlers.AvatarStore
	Logger   *zap.Logger
}

// NewRouter builds the API routes and middleware.
func NewRouter(deps Dependencies) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	authHandler := handlers.NewAuthHandler(deps.Auth, logger)
	profileHandler := handlers.NewProfileHandler(deps.Profiles, logger)
	avatarHandler := handlers.NewAvatarHandler(deps.Avatars, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(logger),
		metrics.Middleware,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/profiles", func(r chi.Router) {
		handlers.ProfileRouter(r, profileHandler, authHandler.RequireAuth)
	})
	router.Route("/storage/avatars", func(r chi.Router) {
		handlers.AvatarRouter(r, avatarHandler, authHandler.RequireAuth)
	})
	return router
}

// Option configures a Server.
type Option func(*Server)

// WithWorker runs the avatar janitor alongside the HTTP server.
func WithWorker(enabled bool) Option {
	return func(s *Server) { s.runWorker = enabled }
}

// Server wraps the HTTP server and the backing connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	cache      *cache.ProfileCache
	mq         *mq.MQ
	janitor    *events.AvatarJanitor
	logger     *zap.Logger
	runWorker  bool
}

// New connects to every configured backend and builds the API.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Server, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	s := &Server{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	defer func() {
		if err != nil {
			s.closeBackends()
		}
	}()

	s.db, err = db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.cache, err = cache.NewProfileCache(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	s.mq, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}

	authService := services.NewAuthService(
		store.NewUserRepository(s.db),
		store.NewSessionRepository(s.db),
		jwtSecret,
		cfg.Auth.TokenTTL,
	)

	avatarService := services.NewAvatarService(objects, store.NewAvatarRepository(s.db))
	profileOpts := []services.ProfileOption{
		services.WithProfileLogger(logger),
		services.WithAvatarOwnership(avatarService),
		services.WithProfileEvents(events.NewPublisher(s.mq)),
	}
	if s.cache != nil {
		profileOpts = append(profileOpts, services.WithProfileCache(s.cache))
	}
	profileService := services.NewProfileService(store.NewProfileRepository(s.db), profileOpts...)

	if s.runWorker {
		if s.mq == nil {
			logger.Warn("worker requested but MQ_DRIVER is none; avatar janitor disabled")
		} else {
			s.janitor = events.NewAvatarJanitor(avatarService, logger.Named("janitor"))
		}
	}

	s.router = NewRouter(Dependencies{
		Auth:     authService,
		Profiles: profileService,
		Avatars:  avatarService,
		Logger:   logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start serves HTTP (and the janitor, when enabled) until ctx is cancelled
// or one of them fails, then shuts everything down.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.janitor != nil {
		g.Go(func() error {
			if err := s.janitor.Run(ctx, s.mq); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("avatar janitor: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown drains in-flight requests and closes the backends.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.closeBackends()
	return err
}

func (s *Server) closeBackends() {
	if s.mq != nil {
		if err := s.mq.Close(); err != nil {
			s.logger.Warn("close mq failed", zap.Error(err))
		}
		s.mq = nil
	}
	if s.cache != nil {
		_ = s.cache.Close()
		s.cache = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}
