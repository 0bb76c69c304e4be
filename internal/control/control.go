// Package control implements the engine's out-of-core operator surface
// (spec.md §6): activate/deactivate/kill/unkill, copy-watch/unwatch,
// backtest-run, status/wallet-state queries, a metrics passthrough, and a
// health endpoint — thin handlers mirroring the teacher's
// internal/api/server.go route/handler split, auth'd by JWT session
// tokens.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"craftstrat-engine/internal/backtest"
)

// Engine is the subset of the engine orchestrator the control surface
// drives. Kept minimal and interface-shaped so this package never
// imports internal/engine (which imports this package).
type Engine interface {
	Activate(walletID, strategyID uint64, graph json.RawMessage, markets []string, maxPositionUSDC float64, isPaper bool, privateKeyEnc, safeAddress string) error
	Deactivate(walletID, strategyID uint64) error
	Kill(walletID, strategyID uint64) error
	Unkill(walletID, strategyID uint64) error
	Watch(address string) error
	Unwatch(address string) error
	DeploySafe(ctx context.Context, walletID uint64, privateKeyEnc string) (safeAddress string, err error)
	Status() StatusReport
	RunBacktest(ctx context.Context, req backtest.Request) (*backtest.Result, error)
}

// StatusReport is the engine-status query's response shape.
type StatusReport struct {
	ActiveWallets     int `json:"active_wallets"`
	ActiveAssignments int `json:"active_assignments"`
	QueueDepth        int `json:"queue_depth"`
	WatchedAddresses  int `json:"watched_addresses"`
}

// Server is the control-surface HTTP server.
type Server struct {
	engine    Engine
	jwtSecret []byte
	logger    *slog.Logger
	httpSrv   *http.Server
}

// NewServer builds the control server bound to addr, validating every
// non-health request against jwtSecret.
func NewServer(port int, engine Engine, jwtSecret string, logger *slog.Logger) *Server {
	s := &Server{engine: engine, jwtSecret: []byte(jwtSecret), logger: logger.With("component", "control")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/activate", s.auth(s.handleActivate))
	mux.HandleFunc("/deactivate", s.auth(s.handleDeactivate))
	mux.HandleFunc("/kill", s.auth(s.handleKill))
	mux.HandleFunc("/unkill", s.auth(s.handleUnkill))
	mux.HandleFunc("/copy-watch", s.auth(s.handleWatch))
	mux.HandleFunc("/copy-unwatch", s.auth(s.handleUnwatch))
	mux.HandleFunc("/safe/deploy", s.auth(s.handleDeploySafe))
	mux.HandleFunc("/backtest", s.auth(s.handleBacktest))
	mux.HandleFunc("/status", s.auth(s.handleStatus))

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run starts the control server and blocks until ctx is cancelled or it
// fails. Unable to bind the control port is fatal per spec.md §7.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth validates a Bearer JWT before delegating to the wrapped handler.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		if tokenStr == "" || tokenStr == header {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		})
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r)
	}
}

type activateRequest struct {
	WalletID        uint64          `json:"wallet"`
	StrategyID      uint64          `json:"strategy"`
	Graph           json.RawMessage `json:"graph"`
	Markets         []string        `json:"markets"`
	MaxPositionUSDC float64         `json:"max_position_usdc"`
	IsPaper         bool            `json:"is_paper"`
	// PrivateKeyEnc is the base64(iv‖tag‖ciphertext) signer key, loaded into
	// the wallet key store on activation (spec.md §4.12). Optional: omitted
	// once a wallet's key has already been loaded by a prior activation.
	PrivateKeyEnc string `json:"private_key_enc"`
	SafeAddress   string `json:"safe_address"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Markets) == 0 || req.MaxPositionUSDC <= 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "markets must be non-empty and max_position_usdc must be positive"})
		return
	}
	if err := s.engine.Activate(req.WalletID, req.StrategyID, req.Graph, req.Markets, req.MaxPositionUSDC, req.IsPaper, req.PrivateKeyEnc, req.SafeAddress); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

type assignmentRequest struct {
	WalletID   uint64 `json:"wallet"`
	StrategyID uint64 `json:"strategy"`
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.assignmentAction(w, r, s.engine.Deactivate, "deactivated")
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.assignmentAction(w, r, s.engine.Kill, "killed")
}

func (s *Server) handleUnkill(w http.ResponseWriter, r *http.Request) {
	s.assignmentAction(w, r, s.engine.Unkill, "unkilled")
}

func (s *Server) assignmentAction(w http.ResponseWriter, r *http.Request, action func(uint64, uint64) error, verb string) {
	var req assignmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := action(req.WalletID, req.StrategyID); err != nil {
		if isNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": verb})
}

type watchRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Address == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "address is required"})
		return
	}
	if err := s.engine.Watch(req.Address); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "watching"})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Unwatch(req.Address); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unwatched"})
}

type deploySafeRequest struct {
	WalletID      uint64 `json:"wallet_id"`
	PrivateKeyEnc string `json:"private_key_enc"`
}

// handleDeploySafe deploys (or resolves the already-deployed address of) a
// wallet's Safe smart-contract wallet via the relayer, mirroring
// original_source's api/handlers/safe.rs deploy_safe handler.
func (s *Server) handleDeploySafe(w http.ResponseWriter, r *http.Request) {
	var req deploySafeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PrivateKeyEnc == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "private_key_enc is required"})
		return
	}
	safeAddress, err := s.engine.DeploySafe(r.Context(), req.WalletID, req.PrivateKeyEnc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"safe_address": safeAddress})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.engine.RunBacktest(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found") || strings.Contains(strings.ToLower(err.Error()), "unknown assignment")
}
