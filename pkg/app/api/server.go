// Package api implements app.Runner for the contributor server process.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	apphttp "github.com/chainsafe/icco-contributor/pkg/app/http"
	"github.com/chainsafe/icco-contributor/pkg/auth"
	"github.com/chainsafe/icco-contributor/pkg/config"
	"github.com/chainsafe/icco-contributor/pkg/contributor"
	"github.com/chainsafe/icco-contributor/pkg/contributor/service"
	"github.com/chainsafe/icco-contributor/pkg/contributor/store/pg"
	"github.com/chainsafe/icco-contributor/pkg/dispatcher"
	"github.com/chainsafe/icco-contributor/pkg/pgutil"
	"github.com/chainsafe/icco-contributor/pkg/vaa"
)

// Server holds cfg to init the contributor server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes new contributor server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("contributor config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ICCO contributor",
		zap.Uint16("chain_id", cfg.Chain.ChainID),
		zap.Uint16("conductor_chain", cfg.Conductor.ChainID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	db, err := pgutil.ConnectDB(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	guardians, err := vaa.NewGuardianSet(cfg.Bridge.GuardianSetIndex, cfg.Bridge.Guardians)
	if err != nil {
		return fmt.Errorf("load guardian set: %w", err)
	}

	store := pg.NewStore(db)
	svc := service.NewLog(service.NewService(store, guardians, logger), logger)

	deployment, err := DeploymentConfig(cfg)
	if err != nil {
		return err
	}
	if err := svc.Instantiate(ctx, deployment); err != nil {
		return fmt.Errorf("instantiate contributor: %w", err)
	}

	stopDispatcher := s.startDispatcher(ctx, store, logger)
	// Called explicitly after ServeAndWait for deterministic shutdown order.
	defer stopDispatcher()

	router := s.setupRouter(db, svc, logger)
	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	stopDispatcher()
	return err
}

// DeploymentConfig builds the immutable contributor config from the file config.
func DeploymentConfig(cfg *config.Config) (*contributor.Config, error) {
	conductor, err := config.DecodeAddress32(cfg.Conductor.Address)
	if err != nil {
		return nil, fmt.Errorf("conductor address: %w", err)
	}
	return &contributor.Config{
		ChainID:             vaa.ChainID(cfg.Chain.ChainID),
		BridgeEndpoint:      cfg.Bridge.CoreContract,
		TokenBridgeEndpoint: cfg.Bridge.TokenBridge,
		ConductorChain:      vaa.ChainID(cfg.Conductor.ChainID),
		ConductorAddress:    conductor,
		Owner:               common.HexToAddress(cfg.Chain.Owner),
	}, nil
}

// DispatcherConfig maps the escrow settings onto the outbox dispatcher.
func DispatcherConfig(escrow config.EscrowConfig) dispatcher.Config {
	return dispatcher.Config{
		PollInterval:    escrow.PollInterval,
		BatchSize:       escrow.BatchSize,
		MaxAttempts:     escrow.MaxAttempts,
		InitialInterval: escrow.InitialInterval,
	}
}

func (s *Server) startDispatcher(ctx context.Context, store contributor.InstructionStore, logger *zap.Logger) func() {
	escrow := s.cfg.Escrow
	if escrow.WebhookURL == "" {
		logger.Warn("Escrow webhook not configured, instructions stay pending in the outbox")
		return func() {}
	}

	d := dispatcher.New(
		store,
		dispatcher.NewWebhookExecutor(escrow.WebhookURL, escrow.RequestTimeout),
		DispatcherConfig(escrow),
		logger,
	)

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Run(runCtx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (s *Server) setupRouter(db *bun.DB, svc service.Service, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	validator := auth.NewJWTValidator(s.cfg.Escrow.JWTSecret, s.cfg.Escrow.JWKSURL, s.cfg.Escrow.JWTIssuer)
	service.RegisterRoutes(r, svc, auth.RequireEscrowToken(validator), logger)

	return r
}
