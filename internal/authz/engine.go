package authz

import (
	"github.com/medvault/phr-access/pkg/types"
)

// RoleReader exposes the registry state the engine needs.
type RoleReader interface {
	GetRole(principal types.Principal) types.Role
	HasRole(principal types.Principal, role types.Role) bool
}

// RecordReader exposes the record store state the engine needs.
type RecordReader interface {
	Exists(id types.RecordID) bool
	Owner(id types.RecordID) (types.Principal, error)
	HasAccess(id types.RecordID, principal types.Principal) (bool, error)
	EmergencyStatus(id types.RecordID, principal types.Principal) (held bool, active bool, err error)
}

// Policy holds the configurable pieces of the rule set.
type Policy struct {
	// CreatorRoles are the roles allowed to create records.
	CreatorRoles []types.Role
	// GranteeRoles are the roles a principal must hold to receive a grant.
	GranteeRoles []types.Role
}

// Request describes one attempted operation for evaluation.
type Request struct {
	Principal types.Principal
	Operation Operation
	RecordID  types.RecordID
	// Grantee is set for grant operations only.
	Grantee types.Principal
}

// Engine is the single decision point for every operation. It never
// mutates state; it reads the registry and record store and produces a
// Decision.
type Engine struct {
	roles   RoleReader
	records RecordReader
	policy  Policy
}

// NewEngine creates an engine over the given state readers.
func NewEngine(roles RoleReader, records RecordReader, policy Policy) *Engine {
	return &Engine{roles: roles, records: records, policy: policy}
}

// Evaluate decides whether the request's principal may perform the
// operation. Denials come back as decisions, never as errors; the error
// return is reserved for evaluation failures.
func (e *Engine) Evaluate(req Request) (Decision, error) {
	switch req.Operation {
	case OpCreateRecord:
		return e.checkRoleIn(req.Principal, e.policy.CreatorRoles), nil

	case OpReadRecord:
		if !e.records.Exists(req.RecordID) {
			return Deny(ReasonNoSuchRecord), nil
		}
		has, err := e.records.HasAccess(req.RecordID, req.Principal)
		if err != nil {
			return Decision{}, err
		}
		if !has {
			// An emergency contact whose grant lapsed is told it expired
			// rather than being indistinguishable from a stranger.
			held, active, cErr := e.records.EmergencyStatus(req.RecordID, req.Principal)
			if cErr == nil && held && !active {
				return Deny(ReasonExpired), nil
			}
			return Deny(ReasonNotOwner), nil
		}
		return Allow, nil

	case OpUpdateTags, OpRevokeAccess, OpRevokeEmergency, OpViewGrantList:
		return e.checkOwner(req.Principal, req.RecordID)

	case OpGrantEmergency:
		decision, err := e.checkOwner(req.Principal, req.RecordID)
		if err != nil || !decision.Allowed {
			return decision, err
		}
		// Emergency contacts need not be registered, but naming yourself
		// as your own emergency contact is meaningless.
		if req.Grantee.IsZero() || req.Grantee == req.Principal {
			return Deny(ReasonInvalidGrantee), nil
		}
		return Allow, nil

	case OpGrantAccess:
		decision, err := e.checkOwner(req.Principal, req.RecordID)
		if err != nil || !decision.Allowed {
			return decision, err
		}
		return e.checkGrantee(req.Principal, req.Grantee), nil

	case OpSetRole, OpResolveRoleRequest:
		if !e.roles.HasRole(req.Principal, types.RoleAdmin) {
			return Deny(ReasonInsufficientRole), nil
		}
		return Allow, nil

	case OpAdminManageRecord:
		if !e.roles.HasRole(req.Principal, types.RoleAdmin) {
			return Deny(ReasonInsufficientRole), nil
		}
		if !e.records.Exists(req.RecordID) {
			return Deny(ReasonNoSuchRecord), nil
		}
		// The override bypasses ownership, not grant validity: a forced
		// grant to the record's own owner is still meaningless.
		if !req.Grantee.IsZero() {
			owner, err := e.records.Owner(req.RecordID)
			if err != nil {
				return Decision{}, err
			}
			if req.Grantee == owner {
				return Deny(ReasonInvalidGrantee), nil
			}
		}
		return Allow, nil

	default:
		return Deny(ReasonInsufficientRole), nil
	}
}

func (e *Engine) checkOwner(principal types.Principal, id types.RecordID) (Decision, error) {
	if !e.records.Exists(id) {
		return Deny(ReasonNoSuchRecord), nil
	}
	owner, err := e.records.Owner(id)
	if err != nil {
		return Decision{}, err
	}
	if owner != principal {
		return Deny(ReasonNotOwner), nil
	}
	return Allow, nil
}

func (e *Engine) checkRoleIn(principal types.Principal, allowed []types.Role) Decision {
	role := e.roles.GetRole(principal)
	for _, r := range allowed {
		if role == r {
			return Allow
		}
	}
	return Deny(ReasonInsufficientRole)
}

// checkGrantee validates the target of a grant: granting to yourself is
// meaningless, and the grantee must hold one of the policy's grantee
// roles so access cannot be handed to unregistered principals.
func (e *Engine) checkGrantee(owner, grantee types.Principal) Decision {
	if grantee.IsZero() || grantee == owner {
		return Deny(ReasonInvalidGrantee)
	}
	role := e.roles.GetRole(grantee)
	for _, r := range e.policy.GranteeRoles {
		if role == r {
			return Allow
		}
	}
	return Deny(ReasonInvalidGrantee)
}
