// Package governor binds the proposal, gate, pause and authority rules to
// persisted per-resource state. Every mutating operation loads the
// resource, applies the rules and writes the result inside one
// storage.Store.Update, so concurrent callers on the same resource are
// serialized and a failed operation leaves nothing behind. Events are
// emitted only after the change has been committed.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/clock"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/gate"
	"github.com/relves/vaultgate/pkg/metrics"
	"github.com/relves/vaultgate/pkg/types"
	"github.com/relves/vaultgate/pkg/vault"
)

// Config holds the collaborators of a Service.
type Config struct {
	// Stores is required.
	Stores storage.Manager
	// Transfer defaults to vault.Unavailable, which fails every transfer.
	Transfer vault.Transferer
	// Clock defaults to a monotonic system clock.
	Clock clock.Clock
	// Events defaults to events.Discard.
	Events events.Sink
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// TransferTimeout bounds each transfer call; zero uses
	// gate.DefaultTransferTimeout.
	TransferTimeout time.Duration
	// Tracer defaults to the global tracer provider's.
	Tracer trace.Tracer
	Logger *slog.Logger
}

const tracerName = "github.com/relves/vaultgate/pkg/governor"

// ApplyDefaults fills unset collaborators.
func (c *Config) ApplyDefaults() {
	if c.Transfer == nil {
		c.Transfer = vault.Unavailable{}
	}
	if c.Clock == nil {
		c.Clock = clock.NewMonotonic(clock.System{})
	}
	if c.Events == nil {
		c.Events = events.Discard
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the governor.
type Service struct {
	stores  storage.Manager
	gate    *gate.Gate
	clock   clock.Clock
	events  events.Sink
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Stores == nil {
		return nil, errors.New("governor: store manager is required")
	}
	cfg.ApplyDefaults()
	return &Service{
		stores:  cfg.Stores,
		gate:    gate.New(cfg.Transfer, cfg.Logger, gate.WithTransferTimeout(cfg.TransferTimeout)),
		clock:   cfg.Clock,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		logger:  cfg.Logger,
	}, nil
}

// errUnchanged aborts an update that had nothing to write.
var errUnchanged = errors.New("unchanged")

// op is the state a mutating operation works on.
type op struct {
	ctx     context.Context
	tx      storage.Tx
	res     *types.Resource
	now     time.Time
	pending []events.Event
}

// emit queues an event for delivery after commit.
func (o *op) emit(typ events.Type, actor types.Principal, attrs map[string]any) {
	o.pending = append(o.pending, events.Event{
		Type:     typ,
		Resource: o.res.ID,
		Actor:    actor,
		At:       o.now,
		Attrs:    attrs,
	})
}

// emitProposal queues an event about proposal pid.
func (o *op) emitProposal(typ events.Type, actor types.Principal, pid uint64, attrs map[string]any) {
	o.emit(typ, actor, attrs)
	last := &o.pending[len(o.pending)-1]
	*last = last.ForProposal(pid)
}

func (o *op) loadProposal(id uint64) (*types.Proposal, error) {
	p, err := o.tx.Proposal(o.ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", types.ErrProposalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	return p, nil
}

func (o *op) putProposal(p *types.Proposal) error {
	if err := o.tx.PutProposal(o.ctx, p); err != nil {
		return fmt.Errorf("store proposal %d: %w", p.ID, err)
	}
	return nil
}

// store returns the store of an existing resource. Only Init creates one.
func (s *Service) store(ctx context.Context, id types.ResourceID) (storage.Store, error) {
	if gate.Entered(ctx, id) {
		return nil, types.ErrReentrantCall
	}
	store, err := s.stores.LookupStore(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrResourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", id, err)
	}
	return store, nil
}

func loadResource(ctx context.Context, tx storage.Tx, id types.ResourceID) (*types.Resource, error) {
	res, err := tx.Resource(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrResourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load resource %s: %w", id, err)
	}
	return res, nil
}

// update runs fn against resource id inside one write transaction and
// delivers the events it queued once the transaction has committed.
func (s *Service) update(ctx context.Context, id types.ResourceID, name string, fn func(o *op) error) (err error) {
	var kind types.Kind
	ctx, span := s.startSpan(ctx, name, id)
	defer func() { endSpan(span, kind, err) }()

	store, err := s.store(ctx, id)
	if err == nil {
		var o *op
		err = store.Update(ctx, func(tx storage.Tx) error {
			res, err := loadResource(ctx, tx, id)
			if err != nil {
				return err
			}
			kind = res.Kind
			o = &op{ctx: ctx, tx: tx, res: res, now: s.clock.Now()}
			if err := fn(o); err != nil {
				return err
			}
			o.res.UpdatedAt = o.now
			if err := tx.PutResource(ctx, o.res); err != nil {
				return fmt.Errorf("store resource %s: %w", id, err)
			}
			return nil
		})
		if errors.Is(err, errUnchanged) {
			err = nil
		}
		if err == nil && o != nil {
			s.metrics.SetResource(o.res)
			s.deliver(ctx, o.pending)
		}
	}
	s.observe(kind, name, id, err)
	return err
}

// view runs fn against a read-only snapshot of resource id.
func (s *Service) view(ctx context.Context, id types.ResourceID, fn func(tx storage.Tx, res *types.Resource, now time.Time) error) (err error) {
	ctx, span := s.startSpan(ctx, "view", id)
	defer func() { endSpan(span, "", err) }()

	store, err := s.store(ctx, id)
	if err != nil {
		return err
	}
	return store.View(ctx, func(tx storage.Tx) error {
		res, err := loadResource(ctx, tx, id)
		if err != nil {
			return err
		}
		return fn(tx, res, s.clock.Now())
	})
}

func (s *Service) startSpan(ctx context.Context, name string, id types.ResourceID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "governor."+name, trace.WithAttributes(
		attribute.String("vaultgate.resource", string(id)),
	))
}

func endSpan(span trace.Span, kind types.Kind, err error) {
	if kind != "" {
		span.SetAttributes(attribute.String("vaultgate.kind", string(kind)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, types.CodeOf(err))
	}
	span.End()
}

func (s *Service) deliver(ctx context.Context, pending []events.Event) {
	// Delivery must not be cut short by the caller going away after commit.
	ctx = context.WithoutCancel(ctx)
	for _, e := range pending {
		s.events.Emit(ctx, e)
	}
}

func (s *Service) observe(kind types.Kind, name string, id types.ResourceID, err error) {
	if kind == "" {
		kind = "unknown"
	}
	s.metrics.Observe(kind, name, err)
	if err == nil {
		return
	}
	if types.ClassOf(err) == types.ClassInternal {
		s.logger.Error("operation failed", "operation", name, "resource", id, "error", err)
		return
	}
	s.logger.Debug("operation rejected", "operation", name, "resource", id, "code", types.CodeOf(err), "error", err)
}

// Resources lists every resource with persisted state.
func (s *Service) Resources() ([]types.ResourceID, error) {
	return s.stores.List()
}
