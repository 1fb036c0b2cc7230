// pkg/types/principal.go
package types

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/storacha/go-ucanto/did"
)

// Principal identifies an authenticated caller by its DID. Authentication
// happens upstream; the engine only compares identities.
type Principal string

// ParsePrincipal validates s as a DID and returns its canonical form.
func ParsePrincipal(s string) (Principal, error) {
	d, err := did.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPrincipal, s, err)
	}
	return Principal(d.String()), nil
}

// ParsePrincipals parses every entry of ss, preserving order.
func ParsePrincipals(ss []string) ([]Principal, error) {
	out := make([]Principal, 0, len(ss))
	for _, s := range ss {
		p, err := ParsePrincipal(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p Principal) String() string {
	return string(p)
}

// ResourceID names one governed resource. It doubles as a directory name
// for the sqlite engine, so the alphabet is restricted.
type ResourceID string

var resourceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// ParseResourceID validates s as a resource id.
func ParseResourceID(s string) (ResourceID, error) {
	if !resourceIDPattern.MatchString(s) || s == "." || s == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceID, s)
	}
	return ResourceID(s), nil
}

func (id ResourceID) String() string {
	return string(id)
}
