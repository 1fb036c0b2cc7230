package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/authority"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/gate"
	"github.com/relves/vaultgate/pkg/pause"
	"github.com/relves/vaultgate/pkg/ratelimit"
	"github.com/relves/vaultgate/pkg/types"
)

// NewResource validates params and builds the initial state of resource id.
func NewResource(id types.ResourceID, params types.Params, now time.Time) (*types.Resource, error) {
	if _, err := types.ParseResourceID(string(id)); err != nil {
		return nil, err
	}
	if !params.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKind, params.Kind)
	}
	if params.Kind != types.KindEmergency &&
		(params.PauseThreshold != 0 || params.MaxPauseDuration != 0 || params.PauseCooldown != 0) {
		return nil, types.ErrPauseParamsNotAllowed
	}
	if params.ProposalWindow < 0 || params.WindowLen < 0 || params.MaxPauseDuration < 0 || params.PauseCooldown < 0 {
		return nil, fmt.Errorf("%w: negative duration", types.ErrInvalidDuration)
	}
	params.ApplyDefaults()

	members := make([]types.Principal, len(params.Members))
	for i, m := range params.Members {
		p, err := types.ParsePrincipal(string(m))
		if err != nil {
			return nil, err
		}
		members[i] = p
	}
	group, err := authority.New(members, params.Threshold, authority.PolicyFor(params.Kind))
	if err != nil {
		return nil, err
	}

	res := &types.Resource{
		ID:             id,
		Kind:           params.Kind,
		Group:          group,
		ProposalWindow: params.ProposalWindow,
		MaxProposals:   params.MaxProposals,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch params.Kind {
	case types.KindTreasury, types.KindGovernance:
		if params.Vault == "" {
			return nil, types.ErrMissingVault
		}
		if params.PerTxCap == 0 || params.DailyCap == 0 {
			return nil, fmt.Errorf("%w: caps must be positive", types.ErrInvalidSpendCap)
		}
		res.Vault = params.Vault
		res.PerTxCap = params.PerTxCap
		res.Spend = ratelimit.NewWindow(params.DailyCap, params.WindowLen, now)
	case types.KindEmergency:
		res.Pause = pause.NewState(params.MaxPauseDuration, params.PauseCooldown)
	}
	return res, nil
}

// Init creates resource id. A resource that already exists is left as it
// is and ErrAlreadyInitialized is returned, so repeating Init at start-up
// never resets persisted state.
func (s *Service) Init(ctx context.Context, id types.ResourceID, params types.Params) (*types.Resource, error) {
	var res *types.Resource
	ctx, span := s.startSpan(ctx, "init", id)
	err := s.init(ctx, id, params, &res)
	kind := params.Kind
	if res != nil {
		kind = res.Kind
	}
	endSpan(span, kind, err)
	s.observe(kind, "init", id, err)
	if err != nil {
		return nil, err
	}
	s.metrics.SetResource(res)
	s.deliver(ctx, []events.Event{{
		Type:     events.Initialized,
		Resource: id,
		At:       res.CreatedAt,
		Attrs: map[string]any{
			"kind":      string(res.Kind),
			"members":   res.Group.Members,
			"threshold": res.Group.Threshold,
		},
	}})
	return res, nil
}

func (s *Service) init(ctx context.Context, id types.ResourceID, params types.Params, out **types.Resource) error {
	res, err := NewResource(id, params, s.clock.Now())
	if err != nil {
		return err
	}
	if gate.Entered(ctx, id) {
		return types.ErrReentrantCall
	}
	store, err := s.stores.GetStore(id)
	if err != nil {
		return fmt.Errorf("open store %s: %w", id, err)
	}
	err = store.Update(ctx, func(tx storage.Tx) error {
		_, err := tx.Resource(ctx)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", types.ErrAlreadyInitialized, id)
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("load resource %s: %w", id, err)
		}
		return tx.PutResource(ctx, res)
	})
	if err != nil {
		return err
	}
	*out = res
	return nil
}
