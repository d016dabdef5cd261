package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"spinvault/apperrors"
	"spinvault/cache"
	"spinvault/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)

	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
		message = "internal error"
	}

	c.JSON(status, gin.H{
		"error": message,
		"code":  apperrors.CodeOf(err),
	})
}

type signedRequest struct {
	Address   string `json:"address" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) verifySigned(c *gin.Context, req signedRequest, action string, params ...string) bool {
	err := s.verifier.Verify(req.Address, req.Signature, req.Timestamp, time.Now(), action, params...)
	if err != nil {
		respondError(c, err)
		return false
	}
	return true
}

type spinRequest struct {
	signedRequest
	StakeAmount int64  `json:"stake_amount" binding:"required"`
	ClientSeed  string `json:"client_seed" binding:"required"`
}

func (s *Server) handleSpin(c *gin.Context) {
	var req spinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !s.verifySigned(c, req.signedRequest, "spin", strconv.FormatInt(req.StakeAmount, 10), req.ClientSeed) {
		return
	}

	result, err := s.spins.Spin(c.Request.Context(), req.Address, req.StakeAmount, req.ClientSeed)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"position_id":    result.Position.ID,
		"nonce":          result.Position.Nonce,
		"tier":           result.Tier,
		"duration_hours": result.Duration,
		"multiplier":     result.Multiplier,
		"stake_amount":   result.Position.StakeAmount,
		"fee_amount":     result.Position.FeeAmount,
		"principal":      result.Position.Principal,
		"bonus_eligible": result.Position.BonusEligible,
		"unlocks_at":     result.UnlocksAt,
		"new_balance":    result.NewBalance,
	})
}

type claimRequest struct {
	signedRequest
	PositionID int64 `json:"position_id" binding:"required"`
}

func (s *Server) handleClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !s.verifySigned(c, req.signedRequest, "claim", strconv.FormatInt(req.PositionID, 10)) {
		return
	}

	result, err := s.claims.Claim(c.Request.Context(), req.Address, req.PositionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"principal":   result.Principal,
		"bonus":       result.Bonus,
		"new_balance": result.NewBalance,
	})
}

type depositRequest struct {
	signedRequest
	TxSignature string `json:"tx_signature" binding:"required"`
	MinExpected int64  `json:"min_expected"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !s.verifySigned(c, req.signedRequest, "deposit", req.TxSignature) {
		return
	}

	result, err := s.transfers.Deposit(c.Request.Context(), req.Address, req.TxSignature, req.MinExpected)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      result.Status,
		"amount":      result.Amount,
		"new_balance": result.NewBalance,
	})
}

type withdrawRequest struct {
	signedRequest
	Amount int64 `json:"amount" binding:"required"`
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !s.verifySigned(c, req.signedRequest, "withdraw", strconv.FormatInt(req.Amount, 10)) {
		return
	}

	result, err := s.transfers.Withdraw(c.Request.Context(), req.Address, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference":   result.Reference,
		"signature":   result.Signature,
		"new_balance": result.NewBalance,
	})
}

type usernameRequest struct {
	signedRequest
	Username string `json:"username" binding:"required"`
}

func (s *Server) handleUpdateUsername(c *gin.Context) {
	var req usernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !s.verifySigned(c, req.signedRequest, "set_username", req.Username) {
		return
	}

	// The signature proves key ownership, so a wallet may name itself
	// before its first deposit.
	if _, err := s.accounts.GetOrCreateAccount(c.Request.Context(), req.Address); err != nil {
		respondError(c, err)
		return
	}

	if err := s.accounts.UpdateUsername(c.Request.Context(), req.Address, req.Username); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": req.Username})
}

func (s *Server) handleCurrentEpoch(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := s.cache.GetActiveEpoch(ctx); err == nil && cached != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	info, err := s.epochs.ActiveEpochInfo(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.cache.SetActiveEpoch(ctx, info); err != nil {
		log.WithError(err).Warn("Failed to cache active epoch")
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) handleEpoch(c *gin.Context) {
	sequence, err := strconv.ParseInt(c.Param("sequence"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence"})
		return
	}

	info, err := s.epochs.EpochInfo(c.Request.Context(), sequence)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleRecentEpochs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	infos, err := s.epochs.RecentEpochs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"epochs": infos})
}

func (s *Server) handleVerifyEpoch(c *gin.Context) {
	sequence, err := strconv.ParseInt(c.Param("sequence"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence"})
		return
	}

	verification, err := s.epochs.VerifyEpoch(c.Request.Context(), sequence)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, verification)
}

func (s *Server) handleRecentOutcomes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	outcomes, err := s.cache.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		log.WithError(err).Warn("Failed to read outcome feed")
	}
	if outcomes == nil {
		outcomes = []cache.RecentOutcome{}
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func (s *Server) handleGetAccount(c *gin.Context) {
	account, err := s.accounts.GetAccount(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	if account == nil {
		respondError(c, apperrors.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":         account.Address,
		"username":        account.Username,
		"balance":         account.Balance,
		"total_deposited": account.TotalDeposited,
		"total_withdrawn": account.TotalWithdrawn,
		"total_wagered":   account.TotalWagered,
		"total_won":       account.TotalWon,
		"created_at":      account.CreatedAt,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	positions, err := s.accounts.Positions(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positionViews(positions)})
}

func (s *Server) handleClaimable(c *gin.Context) {
	positions, err := s.accounts.Claimable(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positionViews(positions)})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.accounts.History(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		views = append(views, gin.H{
			"entry_type":     entry.EntryType,
			"status":         entry.Status,
			"amount":         entry.Amount,
			"balance_before": entry.BalanceBefore,
			"balance_after":  entry.BalanceAfter,
			"reference":      entry.Reference,
			"created_at":     entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": views})
}

func (s *Server) handleEpochTick(c *gin.Context) {
	epoch, err := s.epochs.Tick(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_sequence": epoch.Sequence, "ends_at": epoch.EndsAt})
}

func (s *Server) handleReconcileTick(c *gin.Context) {
	if err := s.reconciler.Tick(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func positionViews(positions []*models.Position) []gin.H {
	views := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		view := gin.H{
			"id":             p.ID,
			"nonce":          p.Nonce,
			"tier":           p.Tier,
			"stake_amount":   p.StakeAmount,
			"principal":      p.Principal,
			"duration_hours": p.DurationHours,
			"multiplier":     p.Multiplier(),
			"bonus_eligible": p.BonusEligible,
			"status":         p.Status,
			"locked_at":      p.LockedAt,
			"unlocks_at":     p.UnlocksAt,
		}
		if p.BonusAmount != nil {
			view["bonus_amount"] = *p.BonusAmount
		}
		if p.ClaimedAt != nil {
			view["claimed_at"] = *p.ClaimedAt
		}
		views = append(views, view)
	}
	return views
}
