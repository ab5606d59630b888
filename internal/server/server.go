package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/yield-vault/aavevault/internal/logger"
	"github.com/yield-vault/aavevault/internal/metrics"
	"github.com/yield-vault/aavevault/internal/protocol"
	"github.com/yield-vault/aavevault/internal/vault"
)

const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second

	// maxBodyBytes bounds request bodies; every request is a few fields.
	maxBodyBytes = 64 << 10
)

// Devnet drives the simulated venue. It is nil against a real venue.
type Devnet interface {
	Fund(ctx context.Context, account common.Address, amount *uint256.Int) error
	AccrueYield(bps uint64)
	AccrueRewards(amount *uint256.Int)
}

// Server exposes a vault over HTTP and JSON-RPC
type Server struct {
	vault      *vault.Vault
	devnet     Devnet
	router     *mux.Router
	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
	log        zerolog.Logger
}

func NewServer(v *vault.Vault, devnet Devnet) *Server {
	s := &Server{
		vault:  v,
		devnet: devnet,
		router: mux.NewRouter(),
		log:    logger.GetForComponent("server"),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with request metrics.
func (s *Server) Handler() http.Handler {
	return metrics.InstrumentHandler(s.router)
}

func (s *Server) setupRoutes() {
	// Queries
	s.router.HandleFunc("/total-assets", s.handleTotalAssets).Methods("GET")
	s.router.HandleFunc("/total-shares", s.handleTotalShares).Methods("GET")
	s.router.HandleFunc("/balance/{address}", s.handleGetBalance).Methods("GET")
	s.router.HandleFunc("/convert/to-shares/{amount}", s.handleConvertToShares).Methods("GET")
	s.router.HandleFunc("/convert/to-assets/{shares}", s.handleConvertToAssets).Methods("GET")
	s.router.HandleFunc("/holders", s.handleHolders).Methods("GET")
	s.router.HandleFunc("/rewards/accrued", s.handleAccruedRewards).Methods("GET")

	// Operations
	s.router.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	s.router.HandleFunc("/redeem", s.handleRedeem).Methods("POST")
	s.router.HandleFunc("/redeem-assets", s.handleRedeemAssets).Methods("POST")

	// Owner-only
	s.router.HandleFunc("/admin/claim-rewards", s.handleClaimRewards).Methods("POST")
	s.router.HandleFunc("/admin/owner", s.handleSetOwner).Methods("POST")

	// Receipts and events
	s.router.HandleFunc("/receipts/{id}", s.handleGetReceipt).Methods("GET")
	s.router.HandleFunc("/events", s.handleEvents).Methods("GET")

	if s.devnet != nil {
		s.router.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
		s.router.HandleFunc("/devnet/accrue-yield", s.handleAccrueYield).Methods("POST")
		s.router.HandleFunc("/devnet/accrue-rewards", s.handleAccrueRewards).Methods("POST")
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// JSON-RPC
	s.router.HandleFunc("/", s.handleJSONRPC).Methods("POST")
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Str("vault", s.vault.Address().Hex()).Msg("vault server starting")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a running server; a later Start returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps a vault error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, protocol.ErrDivisionByZero) {
		return http.StatusConflict
	}
	precondition, ok := protocol.PreconditionOf(err)
	if !ok {
		if errors.Is(err, vault.ErrBinding) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
	switch precondition {
	case protocol.PreconditionAmount, protocol.PreconditionBalance:
		return http.StatusBadRequest
	case protocol.PreconditionAuthorization:
		return http.StatusForbidden
	case protocol.PreconditionVenue:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := protocol.ErrorResponse{Error: err.Error()}
	if ve, ok := protocol.AsVaultError(err); ok {
		resp.Code = ve.Code
		resp.Precondition = ve.Precondition
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "BadRequest"})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.InfoResponse{
		Name:                s.vault.Name(),
		Symbol:              s.vault.Symbol(),
		Decimals:            s.vault.Decimals(),
		Vault:               s.vault.Address().Hex(),
		Asset:               s.vault.Asset().Hex(),
		ReceiptToken:        s.vault.ReceiptToken().Hex(),
		IncentiveController: s.vault.IncentiveController().Hex(),
		Registry:            s.vault.Registry().Hex(),
		Owner:               s.vault.Owner().Hex(),
	})
}

func (s *Server) handleTotalAssets(w http.ResponseWriter, r *http.Request) {
	total, err := s.vault.TotalAssets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AmountResponse{Amount: total.Dec()})
}

func (s *Server) handleTotalShares(w http.ResponseWriter, r *http.Request) {
	total, err := s.vault.TotalShares()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AmountResponse{Amount: total.Dec()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := protocol.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	shares, err := s.vault.BalanceOf(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	assets, err := s.vault.ConvertToAssets(r.Context(), shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.BalanceResponse{
		Address: addr.Hex(),
		Shares:  shares.Dec(),
		Assets:  assets.Dec(),
	})
}

func (s *Server) handleConvertToShares(w http.ResponseWriter, r *http.Request) {
	amount, err := protocol.ParseAmount(mux.Vars(r)["amount"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	shares, err := s.vault.ConvertToShares(r.Context(), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AmountResponse{Amount: shares.Dec()})
}

func (s *Server) handleConvertToAssets(w http.ResponseWriter, r *http.Request) {
	shares, err := protocol.ParseAmount(mux.Vars(r)["shares"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	assets, err := s.vault.ConvertToAssets(r.Context(), shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AmountResponse{Amount: assets.Dec()})
}

func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.vault.Holders()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]protocol.HolderBalance, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, protocol.HolderBalance{Address: h.Holder.Hex(), Shares: h.Shares.Dec()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccruedRewards(w http.ResponseWriter, r *http.Request) {
	amount, ok, err := s.vault.AccruedRewards(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "incentive controller does not report accrued rewards"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.AmountResponse{Amount: amount.Dec()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req protocol.DepositRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, err := protocol.ParseAddress(req.From)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := protocol.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.vault.DepositFor(r.Context(), from, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.DepositResponse{
		ReceiptID: res.Receipt.ID.String(),
		Amount:    res.Amount.Dec(),
		Shares:    res.Shares.Dec(),
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req protocol.RedeemRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, recipient, err := parsePair(req.From, req.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	shares, err := protocol.ParseAmount(req.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.vault.RedeemFor(r.Context(), from, shares, recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse(res))
}

func (s *Server) handleRedeemAssets(w http.ResponseWriter, r *http.Request) {
	var req protocol.RedeemAssetsRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, recipient, err := parsePair(req.From, req.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := protocol.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.vault.RedeemAssetsFor(r.Context(), from, amount, recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse(res))
}

func redeemResponse(res *vault.Result) protocol.RedeemResponse {
	return protocol.RedeemResponse{
		ReceiptID: res.Receipt.ID.String(),
		Shares:    res.Shares.Dec(),
		Amount:    res.Amount.Dec(),
	}
}

// parsePair parses a caller and a counterparty address.
func parsePair(a, b string) (common.Address, common.Address, error) {
	first, err := protocol.ParseAddress(a)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	second, err := protocol.ParseAddress(b)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return first, second, nil
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimRewardsRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, recipient, err := parsePair(req.From, req.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.vault.ClaimRewards(r.Context(), from, recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.ClaimRewardsResponse{
		ReceiptID: res.Receipt.ID.String(),
		Claimed:   res.Amount.Dec(),
	})
}

func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req protocol.SetOwnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, newOwner, err := parsePair(req.From, req.NewOwner)
	if err != nil {
		s.writeError(w, err)
		return
	}

	previous := s.vault.Owner()
	receipt, err := s.vault.SetOwner(r.Context(), from, newOwner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.SetOwnerResponse{
		ReceiptID:     receipt.ID.String(),
		PreviousOwner: previous.Hex(),
		Owner:         newOwner.Hex(),
	})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "invalid receipt id", Code: "BadRequest"})
		return
	}
	receipt := s.vault.Receipt(id)
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "receipt not found"})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleEvents lists emitted logs, optionally filtered with ?event=<name>.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var topic common.Hash
	if name := r.URL.Query().Get("event"); name != "" {
		ev, ok := protocol.EventByName(name)
		if !ok {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: fmt.Sprintf("unknown event %q", name), Code: "BadRequest"})
			return
		}
		topic = ev.ID
	}
	logs := s.vault.Events(topic)
	if logs == nil {
		logs = []*types.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req protocol.FaucetRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := protocol.ParseAddress(req.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := protocol.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.devnet.Fund(r.Context(), addr, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Debug().Str("address", addr.Hex()).Str("amount", amount.Dec()).Msg("faucet")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAccrueYield(w http.ResponseWriter, r *http.Request) {
	var req protocol.AccrueYieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.devnet.AccrueYield(req.Bps)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAccrueRewards(w http.ResponseWriter, r *http.Request) {
	var req protocol.AccrueRewardsRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := protocol.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.devnet.AccrueRewards(amount)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
