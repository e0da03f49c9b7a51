package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"trustlance/core"
	"trustlance/observability"
)

const (
	defaultMaxRequestBytes = 1 << 20
	defaultReadTimeout     = 10 * time.Second
	shutdownTimeout        = 5 * time.Second
)

// ServerConfig tunes the JSON-RPC server. Zero values fall back to defaults;
// a zero rate limit disables throttling and an empty JWT secret disables the
// admin methods. X-Forwarded-For is ignored unless the peer is listed in
// TrustedProxies.
type ServerConfig struct {
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	TrustedProxies     []string
	MaxBodyBytes       int64
	ReadTimeout        time.Duration
	// MaxConnections caps concurrently accepted connections; zero is unlimited.
	MaxConnections int

	Logger   *slog.Logger
	Metrics  *observability.EscrowMetrics
	Gatherer prometheus.Gatherer
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	metrics *observability.EscrowMetrics
	limiter *rateLimiter
	// trustedProxies holds canonical peer IPs allowed to set X-Forwarded-For.
	trustedProxies map[string]struct{}
	admin          *adminAuth
	handlers       map[string]handlerFunc
}

func NewServer(node *core.Node, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBytes
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:           node,
		cfg:            cfg,
		logger:         logger,
		metrics:        cfg.Metrics,
		limiter:        newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		trustedProxies: newTrustedProxies(cfg.TrustedProxies),
		admin:          newAdminAuth(cfg.JWTSecret, cfg.JWTIssuer),
	}
	s.handlers = map[string]handlerFunc{
		"escrow_create":          s.handleEscrowCall,
		"escrow_fund":            s.handleEscrowCall,
		"escrow_release":         s.handleEscrowCall,
		"escrow_refund":          s.handleEscrowCall,
		"escrow_requestRevision": s.handleEscrowCall,
		"escrow_raiseDispute":    s.handleEscrowCall,
		"escrow_get":             s.handleEscrowGet,
		"escrow_status":          s.handleEscrowStatus,
		"escrow_count":           s.handleEscrowCount,
		"escrow_listByParty":     s.handleEscrowListByParty,
		"ledger_balance":         s.handleLedgerBalance,
		"ledger_nonce":           s.handleLedgerNonce,
		"ledger_custody":         s.handleLedgerCustody,
		"ledger_mint":            s.requireAdmin(scopeMint, s.handleLedgerMint),
	}
	return s, nil
}

// Handler returns the HTTP surface: JSON-RPC on POST /, health, metrics and
// the committed event stream.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws/events", s.handleEventsWS)
	r.With(s.rateLimit).Post("/", s.handle)
	return otelhttp.NewHandler(r, "trustlance-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := s.listen(addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", ln.Addr().String()), slog.Int("max_connections", s.cfg.MaxConnections))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// listen opens the TCP listener, capping concurrent connections when
// MaxConnections is set.
func (s *Server) listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	return ln, nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.handlers[method]
	if !ok {
		s.metrics.ObserveRPC("unknown", true)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", method)
		return
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(rec, r, req)
	s.metrics.ObserveRPC(method, rec.status >= http.StatusBadRequest)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
