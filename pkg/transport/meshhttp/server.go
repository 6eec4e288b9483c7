// Package meshhttp implements the mesh HTTP endpoint: the discovery probe
// and challenge responders, the unicast message endpoint, and mount points
// for the duplex stream upgrade and metrics.
package meshhttp

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/handshake"
	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/transport"
)

// InboundFunc hands one decoded envelope to the integrating layer (the
// router) and returns the receiver's verdict.
type InboundFunc func(context.Context, *message.Message) transport.DeliveryResult

// VerifyFunc authenticates one inbound envelope before it reaches the
// router. A non-nil error drops the message.
type VerifyFunc func(*message.Message) error

// ServerOptions configure the mesh endpoint.
type ServerOptions struct {
	// Addr is the listen address, e.g. ":7735".
	Addr string
	// NodeID is echoed in probe responses.
	NodeID string
	// Priv answers discovery challenges; nil disables the challenge route.
	Priv ed25519.PrivateKey
	// Inbound receives every accepted unicast envelope.
	Inbound InboundFunc
	// Verify, when set, gates every inbound envelope (secure mode).
	Verify VerifyFunc
	// Stream, when set, is mounted at the duplex endpoint.
	Stream http.Handler
	// Metrics is optional; when set, /metrics is served.
	Metrics *observability.Metrics
}

// Server is the node's mesh-facing HTTP endpoint. Binding errors surface
// from Start, never as a runtime panic.
type Server struct {
	opts ServerOptions
	srv  *http.Server
	ln   net.Listener
}

func NewServer(opts ServerOptions) *Server {
	s := &Server{opts: opts}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Post("/mesh/v1/probe", s.handleProbe)
	r.Post("/mesh/v1/challenge", s.handleChallenge)
	r.Post("/mesh/v1/message", s.handleMessage)
	if opts.Stream != nil {
		r.Handle("/mesh/v1/stream", opts.Stream)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("bind mesh endpoint %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	go func() {
		if serr := s.srv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			zap.L().Error("mesh endpoint serve", zap.Error(serr))
		}
	}()
	zap.L().Info("mesh endpoint listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address (nil before Start).
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Port returns the bound TCP port (0 before Start).
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req handshake.ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad probe", http.StatusBadRequest)
		return
	}
	if req.ProtocolVersion != handshake.ProtocolVersion || req.Service != handshake.DefaultService {
		http.Error(w, "protocol mismatch", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, handshake.ProbeResponse{
		PeerID:          s.opts.NodeID,
		ProtocolVersion: handshake.ProtocolVersion,
		Service:         handshake.DefaultService,
	})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if s.opts.Priv == nil {
		http.Error(w, "challenge not supported", http.StatusNotFound)
		return
	}
	var req handshake.ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Nonce) == 0 {
		http.Error(w, "bad challenge", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, handshake.Answer(req, s.opts.Priv))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, message.MaxFrameBytes)
	defer body.Close()
	buf, err := io.ReadAll(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.DeliveryResult{Reason: "oversized or unreadable frame"})
		return
	}
	m, err := message.DecodeFrame(buf)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.DeliveryResult{Reason: "malformed envelope"})
		return
	}
	if s.opts.Verify != nil {
		if verr := s.opts.Verify(m); verr != nil {
			zap.L().Warn("rejected unverified envelope",
				zap.String("msg_id", m.ID),
				zap.String("sender", m.Sender),
				zap.Error(verr))
			s.opts.Metrics.ObserveAuthFailure()
			writeJSON(w, http.StatusUnauthorized, transport.DeliveryResult{Reason: "signature invalid"})
			return
		}
	}
	if s.opts.Inbound == nil {
		writeJSON(w, http.StatusOK, transport.DeliveryResult{Reason: "no inbound handler"})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Inbound(r.Context(), m))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

