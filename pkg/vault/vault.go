// Package vault defines the value transfer capability the engine drives.
// Custody itself lives elsewhere; this package only calls it.
package vault

import (
	"context"
	"errors"

	"github.com/relves/vaultgate/pkg/types"
)

// Transferer moves amount from the vault named from to the principal to.
// A nil error means the transfer happened; any error means it did not.
type Transferer interface {
	Transfer(ctx context.Context, from string, to types.Principal, amount uint64) error
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, from string, to types.Principal, amount uint64) error

func (f TransferFunc) Transfer(ctx context.Context, from string, to types.Principal, amount uint64) error {
	return f(ctx, from, to, amount)
}

// ErrNotConfigured is returned by Unavailable.
var ErrNotConfigured = errors.New("no transfer backend configured")

// Unavailable refuses every transfer.
type Unavailable struct{}

func (Unavailable) Transfer(context.Context, string, types.Principal, uint64) error {
	return ErrNotConfigured
}

type referenceKey struct{}

// WithReference attaches a stable reference for the transfer being made,
// used by backends as an idempotency key.
func WithReference(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, referenceKey{}, ref)
}

// ReferenceFrom returns the reference attached by WithReference.
func ReferenceFrom(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(referenceKey{}).(string)
	return ref, ok
}

var (
	_ Transferer = TransferFunc(nil)
	_ Transferer = Unavailable{}
)
