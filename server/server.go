// Package server exposes the HTTP API: signed settlement operations, public
// epoch and account reads, and the internal tick endpoints the scheduler
// drives.
package server

import (
	"net/http"

	"spinvault/auth"
	"spinvault/cache"
	"spinvault/config"
	"spinvault/service"

	"github.com/gin-gonic/gin"
)

type Server struct {
	engine     *gin.Engine
	accounts   service.AccountService
	spins      service.SpinService
	claims     service.ClaimService
	epochs     service.EpochService
	transfers  service.TransferService
	reconciler service.ReconcilerService
	verifier   *auth.Verifier
	cache      *cache.Cache
}

type Deps struct {
	Accounts   service.AccountService
	Spins      service.SpinService
	Claims     service.ClaimService
	Epochs     service.EpochService
	Transfers  service.TransferService
	Reconciler service.ReconcilerService
	Verifier   *auth.Verifier
	Cache      *cache.Cache
}

func New(deps Deps) *Server {
	cfg := config.Get()
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:     gin.New(),
		accounts:   deps.Accounts,
		spins:      deps.Spins,
		claims:     deps.Claims,
		epochs:     deps.Epochs,
		transfers:  deps.Transfers,
		reconciler: deps.Reconciler,
		verifier:   deps.Verifier,
		cache:      deps.Cache,
	}

	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes(cfg.CronSecret)
	return s
}

func (s *Server) registerRoutes(cronSecret string) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.POST("/spin", s.handleSpin)
		api.POST("/claim", s.handleClaim)
		api.POST("/deposit", s.handleDeposit)
		api.POST("/withdraw", s.handleWithdraw)
		api.PUT("/account/username", s.handleUpdateUsername)

		api.GET("/epoch/current", s.handleCurrentEpoch)
		api.GET("/epoch/recent", s.handleRecentEpochs)
		api.GET("/epoch/:sequence", s.handleEpoch)
		api.GET("/epoch/:sequence/verify", s.handleVerifyEpoch)
		api.GET("/outcomes/recent", s.handleRecentOutcomes)

		api.GET("/account/:address", s.handleGetAccount)
		api.GET("/account/:address/positions", s.handlePositions)
		api.GET("/account/:address/claimable", s.handleClaimable)
		api.GET("/account/:address/history", s.handleHistory)
	}

	internal := s.engine.Group("/internal", cronAuth(cronSecret))
	{
		internal.POST("/tick/epoch", s.handleEpochTick)
		internal.POST("/tick/reconcile", s.handleReconcileTick)
	}
}

// Handler returns the HTTP handler for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}
