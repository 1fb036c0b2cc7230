// Package typestest provides test helpers for vaultgate types
package typestest

import (
	"github.com/storacha/go-ucanto/principal/ed25519/signer"

	"github.com/relves/vaultgate/pkg/types"
)

// Principal generates a fresh did:key principal.
func Principal() types.Principal {
	s, err := signer.Generate()
	if err != nil {
		panic(err)
	}
	return types.Principal(s.DID().String())
}

// Principals generates n distinct did:key principals.
func Principals(n int) []types.Principal {
	out := make([]types.Principal, n)
	for i := range out {
		out[i] = Principal()
	}
	return out
}

// Ptr returns a pointer to v, for building config patches.
func Ptr[T any](v T) *T {
	return &v
}
