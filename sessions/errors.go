package sessions

import "errors"

// Kind is a stable error identifier surfaced in API responses and
// close reasons. Clients branch on the kind, never the message.
type Kind string

const (
	KindUnauthenticated        Kind = "Unauthenticated"
	KindForbidden              Kind = "Forbidden"
	KindNotFound               Kind = "NotFound"
	KindValidation             Kind = "ValidationError"
	KindConflict               Kind = "Conflict"
	KindCapacityReached        Kind = "CapacityReached"
	KindDomainNotAllowed       Kind = "DomainNotAllowed"
	KindOwnerMustTransfer      Kind = "OwnerMustTransferFirst"
	KindRoleAssignment         Kind = "RoleAssignmentForbidden"
	KindOwnerAssignment        Kind = "OwnerAssignmentForbidden"
	KindSelfInvite             Kind = "SelfInvite"
	KindNotInvited             Kind = "NotInvited"
	KindTargetNotParticipant   Kind = "TargetNotParticipant"
	KindCannotRemoveOwner      Kind = "CannotRemoveOwner"
	KindTooLarge               Kind = "TooLarge"
	KindUnsupportedMediaType   Kind = "UnsupportedMediaType"
	KindRateLimited            Kind = "RateLimited"
	KindInternal               Kind = "Internal"
)

// Error carries a kind alongside the human-readable message
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// E builds a kinded error
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the kind from err, defaulting to Internal for
// anything that is not a kinded error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
