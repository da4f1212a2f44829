package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/types"
)

// Repository persists role assignments and user profiles. Implementations
// are called inside the registry's mutation boundary so that memory and
// storage cannot diverge.
type Repository interface {
	SaveRole(ctx context.Context, principal types.Principal, role types.Role) error
	SaveProfile(ctx context.Context, profile types.UserProfile) error
	LoadRoles(ctx context.Context) (map[types.Principal]types.Role, error)
	LoadProfiles(ctx context.Context) (map[types.Principal]types.UserProfile, error)
}

// Registry maintains the authoritative role assignment for every principal.
// A principal holds at most one role at a time and assigning a role
// atomically replaces any previous one.
type Registry struct {
	mu       sync.RWMutex
	roles    map[types.Principal]types.Role
	profiles map[types.Principal]types.UserProfile

	repo Repository
	log  *logger.Logger
	now  func() time.Time
}

// New creates an empty registry. repo may be nil for in-memory operation.
func New(repo Repository, log *logger.Logger) *Registry {
	return &Registry{
		roles:    make(map[types.Principal]types.Role),
		profiles: make(map[types.Principal]types.UserProfile),
		repo:     repo,
		log:      log,
		now:      time.Now,
	}
}

// LoadFrom restores registry state from the repository. Call once at startup
// before the registry is shared.
func (r *Registry) LoadFrom(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	roles, err := r.repo.LoadRoles(ctx)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to load roles", err)
	}
	profiles, err := r.repo.LoadProfiles(ctx)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to load profiles", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for p, role := range roles {
		r.roles[p] = role
	}
	for p, profile := range profiles {
		r.profiles[p] = profile
	}
	return nil
}

// SetRole assigns role to principal, replacing any existing assignment.
// The transition is atomic: readers never observe the principal holding
// both the old and the new role.
func (r *Registry) SetRole(ctx context.Context, principal types.Principal, role types.Role) error {
	if !role.Assignable() {
		return types.NewValidationError(types.ErrCodeInvalidRole, "role is not assignable")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.roles[principal]
	r.roles[principal] = role

	if r.repo != nil {
		if err := r.repo.SaveRole(ctx, principal, role); err != nil {
			// Roll back the in-memory assignment so state stays consistent.
			if previous == types.RoleNone {
				delete(r.roles, principal)
			} else {
				r.roles[principal] = previous
			}
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist role assignment", err)
		}
	}

	if r.log != nil {
		r.log.WithFields(map[string]interface{}{
			"principal":     principal.String(),
			"role":          role.String(),
			"previous_role": previous.String(),
		}).Info("Role assigned")
	}
	return nil
}

// GetRole returns the principal's current role, or RoleNone if unassigned.
func (r *Registry) GetRole(principal types.Principal) types.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[principal]
}

// HasRole reports whether principal currently holds role.
func (r *Registry) HasRole(principal types.Principal, role types.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[principal] == role
}

// ListByRole returns all principals currently holding role, sorted for
// deterministic output.
func (r *Registry) ListByRole(role types.Role) []types.Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Principal
	for p, assigned := range r.roles {
		if assigned == role {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetProfile stores or replaces the principal's profile.
func (r *Registry) SetProfile(ctx context.Context, profile types.UserProfile) error {
	if profile.Principal.IsZero() {
		return types.NewValidationError(types.ErrCodeInvalidPrincipal, "profile principal is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile.UpdatedAt = r.now()
	previous, existed := r.profiles[profile.Principal]
	r.profiles[profile.Principal] = profile

	if r.repo != nil {
		if err := r.repo.SaveProfile(ctx, profile); err != nil {
			if existed {
				r.profiles[profile.Principal] = previous
			} else {
				delete(r.profiles, profile.Principal)
			}
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist profile", err)
		}
	}
	return nil
}

// GetProfile returns the principal's profile.
func (r *Registry) GetProfile(principal types.Principal) (types.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[principal]
	if !ok {
		return types.UserProfile{}, types.NewNotFoundError(types.ErrCodeNoSuchProfile, "no profile for principal")
	}
	return profile, nil
}
