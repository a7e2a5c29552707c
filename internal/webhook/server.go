// Package webhook receives agent status pushes over HTTP and hands them to
// the reconciler.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/promptline/promptline/internal/dispatch"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the body>" when a secret is configured
	SignatureHeader = "X-Promptline-Signature"
	// RequestIDHeader is echoed on every response
	RequestIDHeader = "X-Request-Id"

	maxBodyBytes = 1 << 20
)

// Reconciler applies a status push
type Reconciler interface {
	Reconcile(ctx context.Context, push dispatch.Push) (*dispatch.ReconcileResult, error)
}

// Options configures a Server
type Options struct {
	// Secret enables signature verification when non-empty
	Secret string
	Logger *zap.Logger
}

// Server is the webhook HTTP server
type Server struct {
	reconciler Reconciler
	secret     []byte
	logger     *zap.Logger
	handler    http.Handler
	httpSrv    *http.Server
	ln         net.Listener
	addr       string
}

// New creates a Server. Call Listen then Serve, or mount Handler elsewhere.
func New(r Reconciler, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		reconciler: r,
		logger:     opts.Logger.Named("webhook"),
	}
	if opts.Secret != "" {
		s.secret = []byte(opts.Secret)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /webhooks/{provider}", s.handlePush)
	s.handler = mux
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the server to addr ("127.0.0.1:0" picks a free port)
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.addr
}

// Serve handles requests until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("webhook server is not listening")
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("webhook server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("webhook server listening", zap.String("addr", s.addr))
	err := s.httpSrv.Serve(s.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server failed: %w", err)
	}
	<-stopped
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// payload is the status push body
type payload struct {
	AgentID           string `json:"agentId"`
	ID                string `json:"id"`
	Status            string `json:"status"`
	Branch            string `json:"branch"`
	PullRequestURL    string `json:"pullRequestUrl"`
	PullRequestNumber *int   `json:"pullRequestNumber"`
	Error             string `json:"error"`
	Timestamp         string `json:"timestamp"`
}

func (p payload) push(provider types.Provider) (dispatch.Push, error) {
	push := dispatch.Push{
		Provider:          provider,
		AgentID:           p.AgentID,
		Status:            p.Status,
		Branch:            p.Branch,
		PullRequestURL:    p.PullRequestURL,
		PullRequestNumber: p.PullRequestNumber,
		Error:             p.Error,
	}
	if push.AgentID == "" {
		push.AgentID = p.ID
	}
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return push, &types.ValidationError{Field: "timestamp", Message: "timestamp must be RFC 3339"}
		}
		push.Timestamp = ts
	}
	return push, nil
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	provider := types.Provider(r.PathValue("provider"))
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("provider", string(provider)))
	if !provider.IsAgentProvider() {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !s.verify(r.Header.Get(SignatureHeader), body) {
		logger.Warn("rejected webhook with bad signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	push, err := p.push(provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.reconciler.Reconcile(r.Context(), push)
	switch {
	case err == nil:
	case types.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, types.ErrNotFound):
		logger.Info("webhook for unknown agent", zap.String("agent_id", push.AgentID))
		writeError(w, http.StatusNotFound, "agent not found")
		return
	default:
		logger.Error("failed to reconcile webhook", zap.String("agent_id", push.AgentID), zap.Error(err))
		// 5xx so the sender retries; the delivery was not recorded
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]interface{}{"duplicate": true})
		return
	}
	logger.Info("webhook reconciled",
		zap.String("agent_id", push.AgentID),
		zap.String("raw_status", push.Status),
		zap.String("status", string(res.Mapping.Status)),
		zap.Bool("applied", res.Applied))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"promptId": res.Prompt.ID,
		"status":   res.Prompt.Status,
		"applied":  res.Applied,
	})
}

// verify checks the body signature. Without a secret every body is accepted.
func (s *Server) verify(header string, body []byte) bool {
	if len(s.secret) == 0 {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(s.secret, body))
}

// Sign returns the HMAC-SHA256 of body under secret
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureValue formats the header value for body
func SignatureValue(secret, body []byte) string {
	return "sha256=" + hex.EncodeToString(Sign(secret, body))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
