package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/relves/vaultgate/pkg/types"
)

// DefaultPrincipalHeader carries the caller's DID, set by the
// authenticating front end.
const DefaultPrincipalHeader = "X-Principal"

var errMissingPrincipal = errors.New("missing principal")

// PrincipalResolver returns the authenticated caller of r.
type PrincipalResolver func(r *http.Request) (types.Principal, error)

// HeaderPrincipal resolves the caller from the named header.
func HeaderPrincipal(header string) PrincipalResolver {
	return func(r *http.Request) (types.Principal, error) {
		v := strings.TrimSpace(r.Header.Get(header))
		if v == "" {
			return "", errMissingPrincipal
		}
		return types.ParsePrincipal(v)
	}
}

// RequestValidator validates incoming requests before processing.
// Implementations can check account status, rate limits, permissions, etc.
type RequestValidator interface {
	// ValidateRequest is called before each operation with the resolved
	// caller. Return nil to allow the request, or an error to reject it.
	// The error message will be returned to the client.
	ValidateRequest(ctx context.Context, op string, id types.ResourceID, principal types.Principal) error
}

// ValidatorFunc adapts a function to RequestValidator.
type ValidatorFunc func(ctx context.Context, op string, id types.ResourceID, principal types.Principal) error

func (f ValidatorFunc) ValidateRequest(ctx context.Context, op string, id types.ResourceID, principal types.Principal) error {
	return f(ctx, op, id, principal)
}

// ValidationError represents a validation failure with structured info.
type ValidationError struct {
	Code    string // Machine-readable error code (e.g., "ACCOUNT_SUSPENDED")
	Message string // Human-readable message
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}
