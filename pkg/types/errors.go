package types

import (
	"errors"
)

// Class groups error codes by the kind of failure they describe.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassAuthorization Class = "authorization"
	ClassLifecycle     Class = "lifecycle"
	ClassResource      Class = "resource"
	ClassExternal      Class = "external"
	ClassInternal      Class = "internal"
)

// Error is a domain failure carrying a stable machine-readable code.
// Callers match with errors.Is against the sentinels below; details are
// attached by wrapping with fmt.Errorf("%w: ...").
type Error struct {
	Code    string
	Class   Class
	Message string

	parent *Error
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is e's parent code. A specific config error
// such as ErrDuplicateMember therefore also matches ErrInvalidConfig.
func (e *Error) Is(target error) bool {
	if e.parent == nil {
		return false
	}
	return errors.Is(e.parent, target)
}

// NewError creates a domain error.
func NewError(class Class, code, message string) *Error {
	return &Error{Code: code, Class: class, Message: message}
}

func subError(parent *Error, code, message string) *Error {
	return &Error{Code: code, Class: parent.Class, Message: message, parent: parent}
}

// Validation failures.
var (
	ErrInvalidConfig = NewError(ClassValidation, "INVALID_CONFIG", "invalid configuration")

	ErrInsufficientMembers   = subError(ErrInvalidConfig, "INSUFFICIENT_MEMBERS", "too few members")
	ErrTooManyMembers        = subError(ErrInvalidConfig, "TOO_MANY_MEMBERS", "too many members")
	ErrDuplicateMember       = subError(ErrInvalidConfig, "DUPLICATE_MEMBER", "duplicate member")
	ErrThresholdTooLow       = subError(ErrInvalidConfig, "THRESHOLD_TOO_LOW", "threshold below minimum")
	ErrThresholdExceeds      = subError(ErrInvalidConfig, "THRESHOLD_EXCEEDS_MEMBERS", "threshold exceeds member count")
	ErrInvalidPrincipal      = subError(ErrInvalidConfig, "INVALID_PRINCIPAL", "invalid principal")
	ErrInvalidResourceID     = subError(ErrInvalidConfig, "INVALID_RESOURCE_ID", "invalid resource id")
	ErrInvalidKind           = subError(ErrInvalidConfig, "INVALID_KIND", "invalid resource kind")
	ErrInvalidSpendCap       = subError(ErrInvalidConfig, "INVALID_SPEND_CAP", "invalid spend cap")
	ErrInvalidDuration       = subError(ErrInvalidConfig, "INVALID_DURATION", "invalid duration")
	ErrEmptyPatch            = subError(ErrInvalidConfig, "EMPTY_PATCH", "config patch changes nothing")
	ErrMissingVault          = subError(ErrInvalidConfig, "MISSING_VAULT", "vault is required")
	ErrInvalidMaxProposals   = subError(ErrInvalidConfig, "INVALID_MAX_PROPOSALS", "max proposals must be positive")
	ErrPatchNotApplicable    = subError(ErrInvalidConfig, "PATCH_NOT_APPLICABLE", "patch field not applicable to resource kind")
	ErrPauseParamsNotAllowed = subError(ErrInvalidConfig, "PAUSE_PARAMS_NOT_ALLOWED", "pause parameters only apply to emergency resources")

	ErrZeroAmount         = NewError(ClassValidation, "ZERO_AMOUNT", "amount must be greater than zero")
	ErrMemoTooLong        = NewError(ClassValidation, "MEMO_TOO_LONG", "memo too long")
	ErrReasonTooLong      = NewError(ClassValidation, "REASON_TOO_LONG", "reason too long")
	ErrInvalidPayload     = NewError(ClassValidation, "INVALID_PAYLOAD", "invalid proposal payload")
	ErrTransferNotAllowed = NewError(ClassValidation, "TRANSFER_NOT_ALLOWED", "resource cannot move funds")
	ErrWrongPayload       = NewError(ClassValidation, "WRONG_PAYLOAD", "proposal payload does not fit this operation")
)

// Authorization failures.
var (
	ErrNotAMember  = NewError(ClassAuthorization, "NOT_A_MEMBER", "caller is not a member")
	ErrNotCreator  = NewError(ClassAuthorization, "NOT_CREATOR", "caller is not the proposal creator")
	ErrWrongTarget = NewError(ClassAuthorization, "WRONG_TARGET", "proof belongs to another resource")
)

// Lifecycle failures.
var (
	ErrAlreadyExecuted      = NewError(ClassLifecycle, "ALREADY_EXECUTED", "proposal already executed")
	ErrAlreadyCancelled     = NewError(ClassLifecycle, "ALREADY_CANCELLED", "proposal cancelled")
	ErrProposalExpired      = NewError(ClassLifecycle, "PROPOSAL_EXPIRED", "proposal expired")
	ErrAlreadyApproved      = NewError(ClassLifecycle, "ALREADY_APPROVED", "already approved")
	ErrInsufficientApproval = NewError(ClassLifecycle, "INSUFFICIENT_APPROVALS", "not enough approvals")
	ErrProposalNotFound     = NewError(ClassLifecycle, "PROPOSAL_NOT_FOUND", "proposal not found")
	ErrResourceNotFound     = NewError(ClassLifecycle, "RESOURCE_NOT_FOUND", "resource not found")
	ErrEventNotFound        = NewError(ClassLifecycle, "EVENT_NOT_FOUND", "event not found")
	ErrAlreadyInitialized   = NewError(ClassLifecycle, "ALREADY_INITIALIZED", "resource already initialized")
	ErrReentrantCall        = NewError(ClassLifecycle, "REENTRANT_CALL", "reentrant call on resource")
	ErrResourceFrozen       = NewError(ClassLifecycle, "RESOURCE_FROZEN", "resource is frozen")
	ErrAlreadyFrozen        = NewError(ClassLifecycle, "ALREADY_FROZEN", "resource already frozen")

	ErrAlreadyVoted        = NewError(ClassLifecycle, "ALREADY_VOTED", "already voted to pause")
	ErrAlreadyVotedResume  = NewError(ClassLifecycle, "ALREADY_VOTED_RESUME", "already voted to resume")
	ErrAlreadyPaused       = NewError(ClassLifecycle, "ALREADY_PAUSED", "already paused")
	ErrNotPaused           = NewError(ClassLifecycle, "NOT_PAUSED", "not paused")
	ErrCooldownActive      = NewError(ClassLifecycle, "COOLDOWN_ACTIVE", "pause cooldown active")
	ErrConfigLockedInPause = NewError(ClassLifecycle, "CONFIG_LOCKED_WHILE_PAUSED", "configuration locked while paused")
	ErrPauseNotSupported   = NewError(ClassLifecycle, "PAUSE_NOT_SUPPORTED", "resource has no guardian pause")
	ErrFreezeNotSupported  = NewError(ClassLifecycle, "FREEZE_NOT_SUPPORTED", "resource cannot be frozen")
)

// Resource-limit failures.
var (
	ErrExceedsSpendCap     = NewError(ClassResource, "EXCEEDS_SPEND_CAP", "amount exceeds per-transaction cap")
	ErrDailyCapExceeded    = NewError(ClassResource, "DAILY_CAP_EXCEEDED", "amount exceeds remaining window allowance")
	ErrOverflow            = NewError(ClassResource, "OVERFLOW", "arithmetic overflow")
	ErrMaxProposalsReached = NewError(ClassResource, "MAX_PROPOSALS_REACHED", "proposal limit reached")
)

// ErrExceedsPerTxCap is the name used by the treasury variant for the same check.
var ErrExceedsPerTxCap = ErrExceedsSpendCap

// External failures.
var (
	ErrTransferFailed = NewError(ClassExternal, "TRANSFER_FAILED", "value transfer failed")
)

// ClassOf returns the class of the first domain error in err's chain, or
// ClassInternal when there is none.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}

// CodeOf returns the code of the first domain error in err's chain, or
// "INTERNAL" when there is none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
