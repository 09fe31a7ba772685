// Package http serves the wallet operations over a JSON API built on gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/journal"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// KeySource derives signing keys by account index
type KeySource interface {
	Derive(index uint32) (solana.PrivateKey, error)
}

// ServerConfig wires a Server
type ServerConfig struct {
	Wallet *spltransfer.Wallet
	Keys   KeySource

	// Journal answers the /v1/transfers/:requestId routes. Optional.
	Journal *journal.Journal

	// RequestTimeout bounds each request. Zero means no bound.
	RequestTimeout time.Duration
}

// Server exposes Wallet over HTTP
type Server struct {
	wallet  *spltransfer.Wallet
	keys    KeySource
	journal *journal.Journal
	timeout time.Duration
	engine  *gin.Engine
}

// NewServer creates a server and registers its routes
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key source is required")
	}

	s := &Server{
		wallet:  cfg.Wallet,
		keys:    cfg.Keys,
		journal: cfg.Journal,
		timeout: cfg.RequestTimeout,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/healthz", s.health)
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/transfers", s.transfer)
		v1.GET("/transfers/:requestId", s.getTransfer)
		v1.POST("/transfers/:requestId/release", s.releaseTransfer)
		v1.POST("/accounts", s.ensureAccount)
		v1.GET("/balances/:owner", s.balances)
	}
	return s, nil
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	log.Info("http server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("http request")
	}
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), s.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) transfer(c *gin.Context) {
	var body TransferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, err)
		return
	}

	req, err := s.transferRequest(body)
	if err != nil {
		abortBadRequest(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.wallet.Transfer(ctx, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTransferResponse(result))
}

func (s *Server) transferRequest(body TransferBody) (spltransfer.TransferRequest, error) {
	to, err := svm.ParsePublicKey("to", body.To)
	if err != nil {
		return spltransfer.TransferRequest{}, err
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return spltransfer.TransferRequest{}, fmt.Errorf("invalid amount %q: %w", body.Amount, err)
	}
	from, err := s.keys.Derive(body.FromIndex)
	if err != nil {
		return spltransfer.TransferRequest{}, fmt.Errorf("failed to derive key %d: %w", body.FromIndex, err)
	}

	req := spltransfer.TransferRequest{
		RequestID: body.RequestID,
		From:      from,
		To:        to,
		Amount:    amount,
	}
	if body.Mint != "" {
		mint, err := svm.ParsePublicKey("mint", body.Mint)
		if err != nil {
			return spltransfer.TransferRequest{}, err
		}
		req.Mint = &mint
	}
	return req, nil
}

func (s *Server) getTransfer(c *gin.Context) {
	if s.journal == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "transfer journal is disabled"})
		return
	}

	entry, err := s.journal.Lookup(c.Request.Context(), c.Param("requestId"))
	if errors.Is(err, journal.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: err.Error()})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// releaseTransfer reopens a request id whose outcome was unknown. The caller
// must have established that the recorded transaction never landed.
func (s *Server) releaseTransfer(c *gin.Context) {
	if s.journal == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "transfer journal is disabled"})
		return
	}

	ctx := c.Request.Context()
	requestID := c.Param("requestId")
	err := s.journal.Release(ctx, requestID)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: err.Error()})
		return
	case errors.Is(err, journal.ErrNotReleasable):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Code: CodeConflict, Message: err.Error()})
		return
	case err != nil:
		abortWithError(c, err)
		return
	}

	log.WithField("request_id", requestID).Warn("transfer released for retry")
	entry, err := s.journal.Lookup(ctx, requestID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) ensureAccount(c *gin.Context) {
	var body EnsureAccountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, err)
		return
	}
	owner, err := svm.ParsePublicKey("owner", body.Owner)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	mint, err := svm.ParsePublicKey("mint", body.Mint)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	payer, err := s.keys.Derive(body.PayerIndex)
	if err != nil {
		abortBadRequest(c, fmt.Errorf("failed to derive key %d: %w", body.PayerIndex, err))
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	account, err := s.wallet.EnsureAccount(ctx, owner, mint, payer)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewAccountResponse(*account))
}

func (s *Server) balances(c *gin.Context) {
	owner, err := svm.ParsePublicKey("owner", c.Param("owner"))
	if err != nil {
		abortBadRequest(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	balances, err := s.wallet.GetBalances(ctx, owner)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewBalancesResponse(balances))
}
