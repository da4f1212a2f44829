package authz

// Reason explains why an operation was denied. Reasons are values, not
// errors: a denial is a normal outcome of evaluation.
type Reason string

const (
	ReasonNotOwner         Reason = "not_owner"
	ReasonNoSuchRecord     Reason = "no_such_record"
	ReasonInsufficientRole Reason = "insufficient_role"
	ReasonInvalidGrantee   Reason = "invalid_grantee"
	ReasonExpired          Reason = "expired"
)

// Decision is the outcome of evaluating an operation. A zero Reason
// accompanies every allowed decision.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny constructs a negative decision carrying a reason.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}
