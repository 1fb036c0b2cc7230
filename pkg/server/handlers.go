package server

import (
	"net/http"
	"slices"

	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/types"
)

// ResourcesResponse is the response for GET /resources.
type ResourcesResponse struct {
	Resources []types.ResourceID `json:"resources"`
}

// ReasonRequest is the body of freeze and pause votes.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ApplyConfigRequest is the body of POST /resources/{id}/config.
type ApplyConfigRequest struct {
	Proof uint64 `json:"proof"`
}

// FreezeResponse is the response for POST /resources/{id}/freeze.
type FreezeResponse struct {
	Frozen bool `json:"frozen"`
}

// ExpiryResponse is the response for POST /resources/{id}/pause/expire.
type ExpiryResponse struct {
	Lifted bool `json:"lifted"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.Resources()
	if err != nil {
		s.writeError(w, r, "list", err)
		return
	}
	if ids == nil {
		ids = []types.ResourceID{}
	}
	writeJSON(w, http.StatusOK, ResourcesResponse{Resources: ids})
}

// handleInit creates a resource. The caller must be one of its members.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request, c call) (any, error) {
	var params types.Params
	if err := decodeJSON(w, r, &params); err != nil {
		return nil, err
	}
	members, err := parseMembers(params.Members)
	if err != nil {
		return nil, err
	}
	params.Members = members
	if !slices.Contains(members, c.principal) {
		return nil, types.ErrNotAMember
	}
	return s.svc.Init(c.ctx, c.id, params)
}

func parseMembers(in []types.Principal) ([]types.Principal, error) {
	ss := make([]string, len(in))
	for i, p := range in {
		ss[i] = string(p)
	}
	return types.ParsePrincipals(ss)
}

func (s *Server) handleStatus(_ http.ResponseWriter, _ *http.Request, c call) (any, error) {
	return s.svc.Status(c.ctx, c.id)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request, c call) (any, error) {
	var payload types.Payload
	if err := decodeJSON(w, r, &payload); err != nil {
		return nil, err
	}
	if payload.Transfer != nil && payload.Transfer.To != "" {
		to, err := types.ParsePrincipal(string(payload.Transfer.To))
		if err != nil {
			return nil, err
		}
		payload.Transfer.To = to
	}
	if payload.Config != nil && payload.Config.Members != nil {
		members, err := parseMembers(payload.Config.Members)
		if err != nil {
			return nil, err
		}
		payload.Config.Members = members
	}
	return s.svc.Propose(c.ctx, c.id, c.principal, payload)
}

func (s *Server) handleProposals(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	from, limit, err := page(r)
	if err != nil {
		return nil, err
	}
	return s.svc.Proposals(c.ctx, c.id, from, limit)
}

func (s *Server) handleProposal(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	pid, err := pathProposal(r)
	if err != nil {
		return nil, err
	}
	return s.svc.Proposal(c.ctx, c.id, pid)
}

func (s *Server) handleApprove(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	pid, err := pathProposal(r)
	if err != nil {
		return nil, err
	}
	return s.svc.Approve(c.ctx, c.id, c.principal, pid)
}

func (s *Server) handleCancel(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	pid, err := pathProposal(r)
	if err != nil {
		return nil, err
	}
	return s.svc.Cancel(c.ctx, c.id, c.principal, pid)
}

func (s *Server) handleExecute(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	pid, err := pathProposal(r)
	if err != nil {
		return nil, err
	}
	return s.svc.Execute(c.ctx, c.id, c.principal, pid)
}

func (s *Server) handleApplyConfig(w http.ResponseWriter, r *http.Request, c call) (any, error) {
	var req ApplyConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	return s.svc.ApplyConfig(c.ctx, c.id, c.principal, req.Proof)
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request, c call) (any, error) {
	var req ReasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	if err := s.svc.Freeze(c.ctx, c.id, c.principal, req.Reason); err != nil {
		return nil, err
	}
	return FreezeResponse{Frozen: true}, nil
}

func (s *Server) handlePauseStatus(_ http.ResponseWriter, _ *http.Request, c call) (any, error) {
	return s.svc.PauseStatus(c.ctx, c.id)
}

func (s *Server) handleVotePause(w http.ResponseWriter, r *http.Request, c call) (any, error) {
	var req ReasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	return s.svc.VotePause(c.ctx, c.id, c.principal, req.Reason)
}

func (s *Server) handleCancelPauseVote(_ http.ResponseWriter, _ *http.Request, c call) (any, error) {
	return s.svc.CancelPauseVote(c.ctx, c.id, c.principal)
}

func (s *Server) handleVoteResume(_ http.ResponseWriter, _ *http.Request, c call) (any, error) {
	return s.svc.VoteResume(c.ctx, c.id, c.principal)
}

func (s *Server) handleCheckExpiry(_ http.ResponseWriter, _ *http.Request, c call) (any, error) {
	lifted, err := s.svc.CheckExpiry(c.ctx, c.id)
	if err != nil {
		return nil, err
	}
	return ExpiryResponse{Lifted: lifted}, nil
}

func (s *Server) handleEvents(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	from, limit, err := page(r)
	if err != nil {
		return nil, err
	}
	recs, err := s.svc.Events(c.ctx, c.id, from, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []events.Record{}
	}
	return recs, nil
}

func (s *Server) handleEvent(_ http.ResponseWriter, r *http.Request, c call) (any, error) {
	return s.svc.Event(c.ctx, c.id, r.PathValue("cid"))
}
