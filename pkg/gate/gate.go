// Package gate executes approved transfer proposals. State is updated
// before the external transfer is made and restored if the transfer fails,
// so a proposal can never be paid twice and a failed payment leaves no trace.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	safemath "github.com/luxfi/math"

	"github.com/relves/vaultgate/pkg/authority"
	"github.com/relves/vaultgate/pkg/proposal"
	"github.com/relves/vaultgate/pkg/ratelimit"
	"github.com/relves/vaultgate/pkg/types"
	"github.com/relves/vaultgate/pkg/vault"
)

// DefaultTransferTimeout bounds a single call to the transferer.
const DefaultTransferTimeout = 30 * time.Second

// Gate drives transfers for executed proposals.
//
// Reentrancy is detected through the context handed to the transferer:
// a call made with that context, or one derived from it, is refused with
// REENTRANT_CALL. A transferer that calls back into the service by some
// other route, such as a custody webhook hitting the HTTP API, carries no
// such marker. Such a call blocks on the resource's single-writer lock
// until the transfer returns, so it can not observe or execute the
// proposal a second time; it then sees the proposal as executed. A
// transferer that waits for such a call to finish runs into its timeout
// and the execution is rolled back.
type Gate struct {
	transferer vault.Transferer
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithTransferTimeout sets the limit of one transfer call. Non-positive
// values keep DefaultTransferTimeout.
func WithTransferTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// New creates a gate calling t. A nil logger uses slog.Default().
func New(t vault.Transferer, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{transferer: t, timeout: DefaultTransferTimeout, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type activeKey struct {
	id types.ResourceID
}

// Entered reports whether ctx descends from a transfer in progress for id.
func Entered(ctx context.Context, id types.ResourceID) bool {
	return ctx.Value(activeKey{id: id}) != nil
}

// Execute settles p on res. On success res and p hold the executed state;
// on any error they are unchanged.
func (g *Gate) Execute(ctx context.Context, res *types.Resource, p *types.Proposal, executor types.Principal, now time.Time) error {
	if Entered(ctx, res.ID) {
		return types.ErrReentrantCall
	}
	if err := authority.RequireMember(res.Group, executor); err != nil {
		return err
	}
	if p.Resource != res.ID {
		return fmt.Errorf("%w: %s", types.ErrWrongTarget, p.Resource)
	}
	if p.Payload.Kind != types.PayloadTransfer || p.Payload.Transfer == nil {
		return fmt.Errorf("%w: not a transfer", types.ErrWrongPayload)
	}
	if res.Frozen {
		return types.ErrResourceFrozen
	}
	if err := proposal.CheckExecutable(res, p, now); err != nil {
		return err
	}

	resBefore, propBefore := res.Clone(), p.Clone()
	restore := func() {
		*res = *resBefore
		*p = *propBefore
	}

	t := p.Payload.Transfer
	if err := ratelimit.New(res.PerTxCap, &res.Spend).Charge(now, t.Amount); err != nil {
		return err
	}
	executed, err := safemath.Add64(res.ExecutedCounter, 1)
	if err != nil {
		restore()
		return fmt.Errorf("%w: executed counter", types.ErrOverflow)
	}
	res.ExecutedCounter = executed
	res.UpdatedAt = now
	proposal.MarkExecuted(p, executor, now)

	// The outcome of the transfer must be recorded whatever happens to the
	// caller, so the call gets its own deadline instead of the caller's.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	callCtx = context.WithValue(callCtx, activeKey{id: res.ID}, true)
	callCtx = vault.WithReference(callCtx, fmt.Sprintf("%s/%d", res.ID, p.ID))
	if err := g.transferer.Transfer(callCtx, res.Vault, t.To, t.Amount); err != nil {
		restore()
		g.logger.Warn("transfer failed, execution rolled back",
			"resource", res.ID, "proposal", p.ID, "amount", t.Amount, "error", err)
		return fmt.Errorf("%w: %w", types.ErrTransferFailed, err)
	}
	return nil
}
