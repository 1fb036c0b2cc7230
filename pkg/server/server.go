// Package server exposes the governor over HTTP. Requests and responses
// are JSON; the caller's principal is supplied by an authenticating front
// end and read through a PrincipalResolver.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relves/vaultgate/pkg/governor"
	"github.com/relves/vaultgate/pkg/types"
)

// Server serves the governor API.
type Server struct {
	svc       *governor.Service
	resolver  PrincipalResolver
	validator RequestValidator
	cfg       *Config
	logger    *slog.Logger
}

// NewServer creates a server.
func NewServer(opts ...Option) (*Server, error) {
	cfg := applyOptions(opts...)
	if cfg.Service == nil {
		return nil, errors.New("server: governor service is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = HeaderPrincipal(DefaultPrincipalHeader)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		svc:       cfg.Service,
		resolver:  cfg.Resolver,
		validator: cfg.Validator,
		cfg:       cfg,
		logger:    cfg.Logger,
	}, nil
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /resources", s.handleList)
	mux.HandleFunc("POST /resources/{id}", s.authed("init", http.StatusCreated, s.handleInit))
	mux.HandleFunc("GET /resources/{id}", s.public("status", s.handleStatus))

	mux.HandleFunc("POST /resources/{id}/proposals", s.authed("propose", http.StatusCreated, s.handlePropose))
	mux.HandleFunc("GET /resources/{id}/proposals", s.public("proposals", s.handleProposals))
	mux.HandleFunc("GET /resources/{id}/proposals/{pid}", s.public("proposal", s.handleProposal))
	mux.HandleFunc("POST /resources/{id}/proposals/{pid}/approve", s.authed("approve", http.StatusOK, s.handleApprove))
	mux.HandleFunc("POST /resources/{id}/proposals/{pid}/cancel", s.authed("cancel", http.StatusOK, s.handleCancel))
	mux.HandleFunc("POST /resources/{id}/proposals/{pid}/execute", s.authed("execute", http.StatusOK, s.handleExecute))

	mux.HandleFunc("POST /resources/{id}/config", s.authed("apply_config", http.StatusOK, s.handleApplyConfig))
	mux.HandleFunc("POST /resources/{id}/freeze", s.authed("freeze", http.StatusOK, s.handleFreeze))

	mux.HandleFunc("GET /resources/{id}/pause", s.public("pause_status", s.handlePauseStatus))
	mux.HandleFunc("POST /resources/{id}/pause/votes", s.authed("vote_pause", http.StatusOK, s.handleVotePause))
	mux.HandleFunc("DELETE /resources/{id}/pause/votes", s.authed("cancel_pause_vote", http.StatusOK, s.handleCancelPauseVote))
	mux.HandleFunc("POST /resources/{id}/pause/resume", s.authed("vote_resume", http.StatusOK, s.handleVoteResume))
	mux.HandleFunc("POST /resources/{id}/pause/expire", s.public("check_expiry", s.handleCheckExpiry))

	mux.HandleFunc("GET /resources/{id}/events", s.public("events", s.handleEvents))
	mux.HandleFunc("GET /resources/{id}/events/{cid}", s.public("event", s.handleEvent))
	if s.cfg.Hub != nil {
		mux.HandleFunc("GET /resources/{id}/events/stream", s.handleStream)
	}

	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
}

// RequestIDHeader carries the id of a request. A caller supplied id is
// echoed back; otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// call is the parsed context of one request.
type call struct {
	ctx       context.Context
	id        types.ResourceID
	principal types.Principal
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, c call) (any, error)

// authed wraps fn for operations that need a caller.
func (s *Server) authed(op string, status int, fn handlerFunc) http.HandlerFunc {
	return s.wrap(op, status, true, fn)
}

// public wraps fn for operations anyone may call.
func (s *Server) public(op string, fn handlerFunc) http.HandlerFunc {
	return s.wrap(op, http.StatusOK, false, fn)
}

func (s *Server) wrap(op string, status int, needPrincipal bool, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, rid))

		id, err := types.ParseResourceID(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, op, err)
			return
		}
		c := call{ctx: r.Context(), id: id}

		if needPrincipal {
			if c.principal, err = s.resolver(r); err != nil {
				s.writeError(w, r, op, err)
				return
			}
		}
		if s.validator != nil {
			if err := s.validator.ValidateRequest(c.ctx, op, id, c.principal); err != nil {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					err = NewValidationError("VALIDATION_ERROR", err.Error())
				}
				s.writeError(w, r, op, err)
				return
			}
		}

		out, err := fn(w, r, c)
		if err != nil {
			s.writeError(w, r, op, err)
			return
		}
		writeJSON(w, status, out)
	}
}
