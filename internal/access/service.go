package access

import (
	"context"
	"io"

	"github.com/medvault/phr-access/internal/authz"
	"github.com/medvault/phr-access/internal/records"
	"github.com/medvault/phr-access/internal/registry"
	"github.com/medvault/phr-access/internal/rolereq"
	"github.com/medvault/phr-access/pkg/interfaces"
	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/monitoring"
	"github.com/medvault/phr-access/pkg/types"
)

// Service is the single entry point for every operation a principal can
// perform. Each call authorizes through the decision engine before
// touching state, so no transport layer can reach the stores directly.
type Service struct {
	registry *registry.Registry
	requests *rolereq.Workflow
	records  *records.Store
	engine   *authz.Engine
	content  interfaces.ContentStore
	log      *logger.Logger
	metrics  *monitoring.MetricsCollector
}

// New wires the service from its collaborators. metrics may be nil.
func New(reg *registry.Registry, requests *rolereq.Workflow, store *records.Store,
	engine *authz.Engine, content interfaces.ContentStore,
	log *logger.Logger, metrics *monitoring.MetricsCollector) *Service {
	return &Service{
		registry: reg,
		requests: requests,
		records:  store,
		engine:   engine,
		content:  content,
		log:      log,
		metrics:  metrics,
	}
}

// authorize evaluates the request and converts a denial into an
// AccessError. Every gated operation funnels through here so decisions
// are logged and counted in exactly one place.
func (s *Service) authorize(req authz.Request) error {
	decision, err := s.engine.Evaluate(req)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "authorization evaluation failed", err)
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(req.Operation.String(), decision.Allowed, string(decision.Reason))
	}
	if s.log != nil {
		s.log.Decision(req.Principal.String(), req.Operation.String(), uint64(req.RecordID),
			decision.Allowed, string(decision.Reason))
	}

	if decision.Allowed {
		return nil
	}
	return denialError(decision.Reason)
}

func denialError(reason authz.Reason) error {
	switch reason {
	case authz.ReasonNoSuchRecord:
		return types.NewNotFoundError(types.ErrCodeNoSuchRecord, "no record with that id")
	case authz.ReasonNotOwner:
		return types.NewAuthorizationError(types.ErrCodeNotOwner, "principal does not have access to this record")
	case authz.ReasonInsufficientRole:
		return types.NewAuthorizationError(types.ErrCodeInsufficientRole, "principal's role does not permit this operation")
	case authz.ReasonInvalidGrantee:
		return types.NewAuthorizationError(types.ErrCodeInvalidGrantee, "grantee is not a valid target for this grant")
	case authz.ReasonExpired:
		return types.NewAuthorizationError(types.ErrCodeExpired, "emergency access has expired")
	default:
		return types.NewAuthorizationError(types.ErrCodeInsufficientRole, "operation denied")
	}
}

// CreateRecord creates a record owned by principal pointing at an
// already-stored content reference.
func (s *Service) CreateRecord(ctx context.Context, principal types.Principal, contentRef string,
	category types.Category, tags []string, encrypted bool) (types.RecordID, error) {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpCreateRecord}); err != nil {
		return 0, err
	}
	return s.records.Create(ctx, principal, contentRef, category, tags, encrypted)
}

// GetRecord returns the record's metadata if principal has access.
func (s *Service) GetRecord(ctx context.Context, principal types.Principal, id types.RecordID) (types.Record, error) {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpReadRecord, RecordID: id}); err != nil {
		return types.Record{}, err
	}
	return s.records.Get(id)
}

// UpdateTags replaces the record's tags. Owner only.
func (s *Service) UpdateTags(ctx context.Context, principal types.Principal, id types.RecordID, tags []string) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpUpdateTags, RecordID: id}); err != nil {
		return err
	}
	return s.records.UpdateTags(ctx, id, tags)
}

// GrantAccess shares the record with grantee. Owner only; the grantee
// must hold a role the policy accepts.
func (s *Service) GrantAccess(ctx context.Context, principal types.Principal, id types.RecordID, grantee types.Principal) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpGrantAccess, RecordID: id, Grantee: grantee}); err != nil {
		return err
	}
	if err := s.records.Grant(ctx, id, grantee); err != nil {
		return err
	}
	s.audit(principal, "grant_access", id, map[string]interface{}{"grantee": grantee.String()})
	return nil
}

// RevokeAccess removes grantee's access to the record. Owner only.
func (s *Service) RevokeAccess(ctx context.Context, principal types.Principal, id types.RecordID, grantee types.Principal) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpRevokeAccess, RecordID: id}); err != nil {
		return err
	}
	if err := s.records.Revoke(ctx, id, grantee); err != nil {
		return err
	}
	s.audit(principal, "revoke_access", id, map[string]interface{}{"grantee": grantee.String()})
	return nil
}

// SharedWith returns who the record is shared with. Owner only.
func (s *Service) SharedWith(ctx context.Context, principal types.Principal, id types.RecordID) ([]types.Principal, error) {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpViewGrantList, RecordID: id}); err != nil {
		return nil, err
	}
	return s.records.SharedWith(id)
}

// GrantEmergency gives contact time-limited access to the record. Owner only.
func (s *Service) GrantEmergency(ctx context.Context, principal types.Principal, id types.RecordID,
	contact types.Principal, durationHours int64) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpGrantEmergency, RecordID: id, Grantee: contact}); err != nil {
		return err
	}
	if err := s.records.GrantEmergency(ctx, id, contact, durationHours); err != nil {
		return err
	}
	s.audit(principal, "grant_emergency", id, map[string]interface{}{
		"contact":        contact.String(),
		"duration_hours": durationHours,
	})
	return nil
}

// RevokeEmergency deactivates contact's emergency grant on the record.
// Owner only.
func (s *Service) RevokeEmergency(ctx context.Context, principal types.Principal, id types.RecordID, contact types.Principal) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpRevokeEmergency, RecordID: id}); err != nil {
		return err
	}
	if err := s.records.RevokeEmergency(ctx, id, contact); err != nil {
		return err
	}
	s.audit(principal, "revoke_emergency", id, map[string]interface{}{"contact": contact.String()})
	return nil
}

// EmergencyDetails returns the record's effectively active emergency
// grants. Owner only.
func (s *Service) EmergencyDetails(ctx context.Context, principal types.Principal, id types.RecordID) ([]types.EmergencyGrant, error) {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpViewGrantList, RecordID: id}); err != nil {
		return nil, err
	}
	return s.records.EmergencyDetails(id)
}

// ListOwned returns the ids of records principal owns. Self-scoped, no
// gate needed.
func (s *Service) ListOwned(principal types.Principal) []types.RecordID {
	return s.records.OwnedBy(principal)
}

// ListSharedWithMe returns the ids of records shared with principal.
func (s *Service) ListSharedWithMe(principal types.Principal) []types.RecordID {
	return s.records.SharedWithMe(principal)
}

// SetRole assigns role to target. Admin only.
func (s *Service) SetRole(ctx context.Context, principal, target types.Principal, role types.Role) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpSetRole}); err != nil {
		return err
	}
	if err := s.registry.SetRole(ctx, target, role); err != nil {
		return err
	}
	s.audit(principal, "set_role", 0, map[string]interface{}{
		"target": target.String(),
		"role":   role.String(),
	})
	return nil
}

// GetRole returns target's current role.
func (s *Service) GetRole(target types.Principal) types.Role {
	return s.registry.GetRole(target)
}

// ListByRole returns all principals holding role.
func (s *Service) ListByRole(role types.Role) []types.Principal {
	return s.registry.ListByRole(role)
}

// RequestRoleChange submits principal's request to hold role.
func (s *Service) RequestRoleChange(ctx context.Context, principal types.Principal, role types.Role) error {
	return s.requests.Request(ctx, principal, role)
}

// GetRoleRequest returns principal's own request slot.
func (s *Service) GetRoleRequest(principal types.Principal) (types.RoleChangeRequest, error) {
	return s.requests.Get(principal)
}

// ListPendingRequests returns all pending role-change requests. Admin only.
func (s *Service) ListPendingRequests(ctx context.Context, principal types.Principal) ([]types.RoleChangeRequest, error) {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpResolveRoleRequest}); err != nil {
		return nil, err
	}
	return s.requests.ListPending(ctx)
}

// ResolveRoleRequest approves or rejects requester's pending request.
// Admin only.
func (s *Service) ResolveRoleRequest(ctx context.Context, principal, requester types.Principal, approve bool) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpResolveRoleRequest}); err != nil {
		return err
	}
	return s.requests.Resolve(ctx, principal, requester, approve)
}

// SetProfile stores principal's own directory profile.
func (s *Service) SetProfile(ctx context.Context, principal types.Principal, name, specialization, institution string) error {
	return s.registry.SetProfile(ctx, types.UserProfile{
		Principal:      principal,
		Name:           name,
		Specialization: specialization,
		Institution:    institution,
	})
}

// GetProfile returns a principal's directory profile.
func (s *Service) GetProfile(target types.Principal) (types.UserProfile, error) {
	return s.registry.GetProfile(target)
}

// AdminGrantAccess forces a grant on any record regardless of ownership.
// Admin only; audited with an override marker so these stand out from
// owner actions.
func (s *Service) AdminGrantAccess(ctx context.Context, principal types.Principal, id types.RecordID, grantee types.Principal) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpAdminManageRecord, RecordID: id, Grantee: grantee}); err != nil {
		return err
	}
	if err := s.records.Grant(ctx, id, grantee); err != nil {
		return err
	}
	s.audit(principal, "admin_grant_access", id, map[string]interface{}{
		"grantee":        grantee.String(),
		"admin_override": true,
	})
	return nil
}

// AdminRevokeGrant removes a grant from any record. Admin only.
func (s *Service) AdminRevokeGrant(ctx context.Context, principal types.Principal, id types.RecordID, grantee types.Principal) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpAdminManageRecord, RecordID: id}); err != nil {
		return err
	}
	if err := s.records.Revoke(ctx, id, grantee); err != nil {
		return err
	}
	s.audit(principal, "admin_revoke_grant", id, map[string]interface{}{
		"grantee":        grantee.String(),
		"admin_override": true,
	})
	return nil
}

// AdminRevokeEmergency deactivates any record's emergency grant for
// contact. Admin only.
func (s *Service) AdminRevokeEmergency(ctx context.Context, principal types.Principal, id types.RecordID, contact types.Principal) error {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpAdminManageRecord, RecordID: id}); err != nil {
		return err
	}
	if err := s.records.RevokeEmergency(ctx, id, contact); err != nil {
		return err
	}
	s.audit(principal, "admin_revoke_emergency", id, map[string]interface{}{
		"contact":        contact.String(),
		"admin_override": true,
	})
	return nil
}

// PutContent stores content in the external store and returns its
// reference. The upload happens before any record exists, so it is open
// to any registered principal.
func (s *Service) PutContent(ctx context.Context, principal types.Principal, content io.Reader) (string, error) {
	if s.registry.GetRole(principal) == types.RoleNone {
		return "", types.NewAuthorizationError(types.ErrCodeInsufficientRole, "principal is not registered")
	}

	ref, err := s.content.Put(ctx, content)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordContentOperation("put", "error")
		}
		return "", types.NewExternalError(types.ErrCodeStorageUnavailable, "content store rejected the upload", err)
	}
	if s.metrics != nil {
		s.metrics.RecordContentOperation("put", "ok")
	}
	return ref, nil
}

// GetContent streams the record's content if principal has access. The
// access check runs first; the store round-trip happens outside any lock.
func (s *Service) GetContent(ctx context.Context, principal types.Principal, id types.RecordID) (io.ReadCloser, error) {
	if err := s.authorize(authz.Request{Principal: principal, Operation: authz.OpReadRecord, RecordID: id}); err != nil {
		return nil, err
	}

	rec, err := s.records.Get(id)
	if err != nil {
		return nil, err
	}

	body, err := s.content.Get(ctx, rec.ContentRef)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordContentOperation("get", "error")
		}
		return nil, types.NewExternalError(types.ErrCodeStorageUnavailable, "content store did not return the content", err)
	}
	if s.metrics != nil {
		s.metrics.RecordContentOperation("get", "ok")
	}
	return body, nil
}

func (s *Service) audit(principal types.Principal, action string, id types.RecordID, details map[string]interface{}) {
	if s.log == nil {
		return
	}
	resource := ""
	if id != 0 {
		resource = id.String()
	}
	s.log.Audit(principal.String(), action, resource, true, details)
}
