package rolereq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/phr-access/internal/registry"
	"github.com/medvault/phr-access/pkg/interfaces"
	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/types"
)

// EventRoleChangeRequested is appended to the event log whenever a
// principal submits a role-change request. The pending set is discovered
// by scanning these events and joining against current request state.
const EventRoleChangeRequested = "role_change.requested"

// Repository persists request state.
type Repository interface {
	SaveRequest(ctx context.Context, req types.RoleChangeRequest) error
	LoadRequests(ctx context.Context) (map[types.Principal]types.RoleChangeRequest, error)
}

// Workflow manages role-change requests. Each principal has a single
// request slot: submitting a new request overwrites any previous one,
// last writer wins.
type Workflow struct {
	mu       sync.RWMutex
	requests map[types.Principal]types.RoleChangeRequest

	registry *registry.Registry
	events   interfaces.EventLog
	repo     Repository
	log      *logger.Logger
	now      func() time.Time
}

// New creates a workflow. repo may be nil for in-memory operation.
func New(reg *registry.Registry, events interfaces.EventLog, repo Repository, log *logger.Logger) *Workflow {
	return &Workflow{
		requests: make(map[types.Principal]types.RoleChangeRequest),
		registry: reg,
		events:   events,
		repo:     repo,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the workflow's clock. Intended for tests.
func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

// LoadFrom restores request state from the repository.
func (w *Workflow) LoadFrom(ctx context.Context) error {
	if w.repo == nil {
		return nil
	}
	reqs, err := w.repo.LoadRequests(ctx)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to load role requests", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, req := range reqs {
		w.requests[p] = req
	}
	return nil
}

// Request records that requester wants role. Any previous request from the
// same principal, whatever its status, is replaced. The event announcing
// the request is appended after the slot is updated, outside the lock.
func (w *Workflow) Request(ctx context.Context, requester types.Principal, role types.Role) error {
	if !role.Assignable() {
		return types.NewValidationError(types.ErrCodeInvalidRole, "requested role is not assignable")
	}

	req := types.RoleChangeRequest{
		Requester:     requester,
		RequestedRole: role,
		RequestedAt:   w.now(),
		Status:        types.RequestPending,
	}

	w.mu.Lock()
	previous, existed := w.requests[requester]
	w.requests[requester] = req
	if w.repo != nil {
		if err := w.repo.SaveRequest(ctx, req); err != nil {
			if existed {
				w.requests[requester] = previous
			} else {
				delete(w.requests, requester)
			}
			w.mu.Unlock()
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist role request", err)
		}
	}
	w.mu.Unlock()

	event := interfaces.Event{
		ID:   uuid.NewString(),
		Type: EventRoleChangeRequested,
		Payload: map[string]interface{}{
			"requester": requester.String(),
			"role":      role.String(),
		},
		OccurredAt: req.RequestedAt,
	}
	if err := w.events.Append(ctx, event); err != nil {
		// The request slot is already authoritative. A failed append only
		// delays discovery, so log and carry on.
		if w.log != nil {
			w.log.WithError(err).WithField("requester", requester.String()).
				Warn("Failed to append role request event")
		}
	}

	if w.log != nil {
		w.log.WithFields(map[string]interface{}{
			"requester": requester.String(),
			"role":      role.String(),
		}).Info("Role change requested")
	}
	return nil
}

// Get returns the requester's current request.
func (w *Workflow) Get(requester types.Principal) (types.RoleChangeRequest, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	req, ok := w.requests[requester]
	if !ok {
		return types.RoleChangeRequest{}, types.NewNotFoundError(types.ErrCodeNoSuchRequest, "no role request for principal")
	}
	return req, nil
}

// ListPending returns all requests that are still pending, discovered by
// scanning request events and joining against the authoritative slot
// state. Events whose request has since been resolved or overwritten are
// skipped, so the result reflects current pending requests only, ordered
// by request time ascending.
func (w *Workflow) ListPending(ctx context.Context) ([]types.RoleChangeRequest, error) {
	events, err := w.events.Query(ctx, EventRoleChangeRequested, nil)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to query role request events", err)
	}

	w.mu.RLock()
	seen := make(map[types.Principal]bool)
	var out []types.RoleChangeRequest
	for _, e := range events {
		raw, _ := e.Payload["requester"].(string)
		requester := types.Principal(raw)
		if requester == "" || seen[requester] {
			continue
		}
		seen[requester] = true

		req, ok := w.requests[requester]
		if !ok || req.Status != types.RequestPending {
			continue
		}
		out = append(out, req)
	}
	w.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// Resolve approves or rejects requester's pending request. Only an admin
// may resolve. Approval assigns the requested role through the registry
// first; the slot is marked resolved only once the role assignment has
// committed, so a failed assignment leaves the request pending and the
// admin can retry.
func (w *Workflow) Resolve(ctx context.Context, admin, requester types.Principal, approve bool) error {
	if !w.registry.HasRole(admin, types.RoleAdmin) {
		return types.NewAuthorizationError(types.ErrCodeInsufficientRole, "only an admin may resolve role requests")
	}

	w.mu.Lock()
	req, ok := w.requests[requester]
	if !ok || req.Status != types.RequestPending {
		w.mu.Unlock()
		return types.NewNotFoundError(types.ErrCodeNoSuchRequest, "no pending role request for principal")
	}

	if approve {
		if err := w.registry.SetRole(ctx, requester, req.RequestedRole); err != nil {
			w.mu.Unlock()
			return err
		}
	}

	resolved := req
	if approve {
		resolved.Status = types.RequestApproved
	} else {
		resolved.Status = types.RequestRejected
	}
	w.requests[requester] = resolved

	if w.repo != nil {
		if err := w.repo.SaveRequest(ctx, resolved); err != nil {
			// The role may already be assigned. Keeping the slot pending
			// lets the admin resolve again; SetRole is idempotent.
			w.requests[requester] = req
			w.mu.Unlock()
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist request resolution", err)
		}
	}
	w.mu.Unlock()

	if w.log != nil {
		w.log.Audit(admin.String(), "resolve_role_request", requester.String(), true,
			map[string]interface{}{
				"requested_role": req.RequestedRole.String(),
				"approved":       approve,
			})
	}
	return nil
}
