// Package rpc implements the JSON-RPC 2.0 server of the fundraiser node.
//
// The server speaks a Solana-compatible dialect so existing tooling can
// read accounts and submit transactions, and adds methods that decode the
// fundraiser program's records.
//
// Supported methods:
//   - Account: getAccountInfo, getBalance, getMultipleAccounts, getMinimumBalanceForRentExemption
//   - Fundraiser: getFundraiser, getContributor
//   - Transaction: sendTransaction, simulateTransaction, getTransaction, getSignaturesForAddress, requestAirdrop
//   - Cluster: getSlot, getHealth, getVersion, getIdentity
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/journal"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool

	// Identity is the node identity pubkey.
	Identity types.Pubkey
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 50 * 1024, // 50KB
		EnableCORS:     true,
	}
}

// Runtime is the read side of the transaction runtime.
type Runtime interface {
	Simulate(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, error)
	Slot() uint64
	Rent() invoke.Rent
}

// Submitter executes and journals transactions.
type Submitter interface {
	Process(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, *journal.Receipt, error)
}

// History answers transaction history queries.
type History interface {
	Get(sig types.Signature) (*journal.Receipt, error)
	SignaturesForAddress(address types.Pubkey, limit int, before *types.Signature) ([]journal.SignatureInfo, error)
}

// Faucet funds accounts on request.
type Faucet interface {
	Airdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error)
}

// Backend bundles the components the server reads and writes. History and
// Faucet may be nil, which disables the methods that need them. Clock
// defaults to the wall clock.
type Backend struct {
	Accounts  accounts.DB
	Runtime   Runtime
	Submitter Submitter
	History   History
	Faucet    Faucet
	Clock     svm.TimeSource
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config  Config
	backend Backend
	log     zerolog.Logger

	healthy  bool
	healthMu sync.RWMutex

	server *http.Server

	handlers map[string]handlerFunc

	mu      sync.Mutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server.
func New(config Config, backend Backend, logger zerolog.Logger) *Server {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	s := &Server{
		config:   config,
		backend:  backend,
		log:      logger.With().Str("component", "rpc").Logger(),
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMultipleAccounts"] = s.getMultipleAccounts
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption

	// Fundraiser methods
	s.handlers["getFundraiser"] = s.getFundraiser
	s.handlers["getContributor"] = s.getContributor

	// Transaction methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["simulateTransaction"] = s.simulateTransaction
	s.handlers["getTransaction"] = s.getTransaction
	s.handlers["getSignaturesForAddress"] = s.getSignaturesForAddress
	s.handlers["requestAirdrop"] = s.requestAirdrop

	// Cluster methods
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getIdentity"] = s.getIdentity
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves requests on ln until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("JSON-RPC server listening")

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler serving JSON-RPC on /.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, solana-client")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		s.writeJSON(w, errorResponse(nil, ErrInvalidRequest))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}
	s.writeJSON(w, s.serve(r.Context(), req))
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}
	if len(requests) == 0 {
		s.writeJSON(w, errorResponse(nil, ErrInvalidRequest))
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = s.serve(ctx, req)
	}
	s.writeJSON(w, responses)
}

func (s *Server) serve(ctx context.Context, req Request) Response {
	if req.JSONRPC != JSONRPCVersion {
		return errorResponse(req.ID, ErrInvalidRequest)
	}

	start := time.Now()
	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
	if s.config.LogRequests {
		ev := s.log.Debug().Str("method", req.Method).Interface("id", req.ID).Dur("took", time.Since(start))
		if rpcErr != nil {
			ev = ev.Int("code", rpcErr.Code)
		}
		ev.Msg("rpc request")
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
	return handler(ctx, params)
}

func errorResponse(id interface{}, err *RPCError) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("write response")
	}
}
