package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"nervix/rpc"
	"nervix/services/escrow-mirror/middleware"
	"nervix/services/escrow-mirror/models"
	"nervix/services/escrow-mirror/nodeclient"
	"nervix/services/escrow-mirror/watcher"
)

const (
	routeRead = "read"
	routeTx   = "tx"

	scopeTx = "escrow:tx"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Network     string
	Node        nodeclient.NodeClient
	Watcher     *watcher.Watcher
	Store       *models.Store
	NodeTimeout time.Duration
	// FundBuffer and DefaultBuffer are minor-unit values added to built
	// transactions.
	FundBuffer    *big.Int
	DefaultBuffer *big.Int
	PreviewAudit  bool

	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
}

// Server exposes the read-only mirror API and the payload builders.
type Server struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	router http.Handler
}

func New(cfg Config) *Server {
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = 5 * time.Second
	}
	if cfg.FundBuffer == nil {
		cfg.FundBuffer = big.NewInt(15_000_000)
	}
	if cfg.DefaultBuffer == nil {
		cfg.DefaultBuffer = big.NewInt(50_000_000)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Auth == nil {
		cfg.Auth = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = middleware.NewRateLimiter(nil, cfg.Logger)
	}
	if cfg.Observability == nil {
		cfg.Observability = middleware.NewObservability(middleware.ObservabilityConfig{}, cfg.Logger)
	}
	s := &Server{cfg: cfg, logger: cfg.Logger, now: time.Now}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	obs := s.cfg.Observability
	limiter := s.cfg.RateLimiter

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/v1/escrow", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(limiter.Middleware(routeRead))
			read.With(obs.Middleware("info")).Get("/info", s.handleInfo)
			read.With(obs.Middleware("preview")).Get("/preview", s.handlePreview)
			read.With(obs.Middleware("treasury")).Get("/treasury", s.handleTreasury)
			read.With(obs.Middleware("owner")).Get("/owner", s.handleOwner)
			read.With(obs.Middleware("discount")).Get("/discount", s.handleDiscount)
			read.With(obs.Middleware("events")).Get("/events", s.handleEvents)
			read.With(obs.Middleware("escrow")).Get("/{id}", s.handleEscrow)
		})
		api.Group(func(tx chi.Router) {
			tx.Use(limiter.Middleware(routeTx))
			tx.Use(s.cfg.Auth.Middleware(scopeTx))
			tx.With(obs.Middleware("tx.create")).Post("/tx/create", s.handleBuildCreate)
			tx.With(obs.Middleware("tx.fund")).Post("/tx/fund", s.handleBuildFund)
			tx.With(obs.Middleware("tx.release")).Post("/tx/release", s.handleBuildRelease)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{"status": "ok", "network": s.cfg.Network}
	if s.cfg.Watcher != nil {
		body["eventCursor"] = s.cfg.Watcher.Cursor()
		if snap, ok := s.cfg.Watcher.Snapshot(); ok {
			body["snapshotObservedAt"] = snap.ObservedAt
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) nodeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.NodeTimeout)
}

// contractInfo prefers the watcher snapshot and falls back to a live read.
func (s *Server) contractInfo(ctx context.Context) (rpc.ContractInfoResult, time.Time, error) {
	if s.cfg.Watcher != nil {
		if snap, ok := s.cfg.Watcher.Snapshot(); ok {
			return snap.Info, snap.ObservedAt, nil
		}
	}
	callCtx, cancel := s.nodeContext(ctx)
	defer cancel()
	info, err := s.cfg.Node.ContractInfo(callCtx)
	if err != nil {
		return rpc.ContractInfoResult{}, time.Time{}, err
	}
	return *info, s.now().UTC(), nil
}

// writeUnknown reports a failed ledger read. Nothing is defaulted.
func (s *Server) writeUnknown(w http.ResponseWriter, r *http.Request, what string, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	s.logger.Warn("ledger read failed",
		slog.String("read", what),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.Any("error", err))
	writeJSON(w, status, map[string]string{
		"state": "unknown",
		"error": what + " unavailable",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
