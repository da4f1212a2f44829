package records

import (
	"context"
	"sort"
	"time"

	"github.com/medvault/phr-access/pkg/types"
)

// GrantEmergency gives contact time-limited read access to the record.
// The grant expires durationHours from now. Granting to a contact that
// already holds a grant replaces it entirely, including its expiry.
func (s *Store) GrantEmergency(ctx context.Context, id types.RecordID, contact types.Principal, durationHours int64) error {
	if durationHours <= 0 {
		return types.NewValidationError(types.ErrCodeInvalidDuration, "duration must be a positive number of hours")
	}
	if contact.IsZero() {
		return types.NewValidationError(types.ErrCodeInvalidPrincipal, "emergency contact is required")
	}

	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	grant := types.EmergencyGrant{
		RecordID:  id,
		Contact:   contact,
		ExpiresAt: s.now().Add(time.Duration(durationHours) * time.Hour),
		IsActive:  true,
	}
	if st.emergency == nil {
		st.emergency = make(map[types.Principal]*types.EmergencyGrant)
	}
	previous, hadPrevious := st.emergency[contact]
	st.emergency[contact] = &grant

	if s.repo != nil {
		if err := s.repo.SaveEmergency(ctx, grant); err != nil {
			if hadPrevious {
				st.emergency[contact] = previous
			} else {
				delete(st.emergency, contact)
			}
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist emergency grant", err)
		}
	}

	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"record_id":  uint64(id),
			"contact":    contact.String(),
			"expires_at": grant.ExpiresAt,
		}).Info("Emergency access granted")
	}
	return nil
}

// RevokeEmergency deactivates contact's emergency grant on the record.
// Revoking a contact that holds no grant is a no-op.
func (s *Store) RevokeEmergency(ctx context.Context, id types.RecordID, contact types.Principal) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	eg, ok := st.emergency[contact]
	if !ok || !eg.IsActive {
		return nil
	}
	eg.IsActive = false

	if s.repo != nil {
		if err := s.repo.DeleteEmergency(ctx, id, contact); err != nil {
			eg.IsActive = true
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist emergency revocation", err)
		}
	}
	return nil
}

// EmergencyStatus reports whether principal holds an emergency grant on
// the record and whether that grant is effectively active right now.
// Unlike EmergencyDetails it reports lapsed and revoked grants too, so
// callers can tell an expired contact apart from a stranger.
func (s *Store) EmergencyStatus(id types.RecordID, principal types.Principal) (bool, bool, error) {
	st, err := s.state(id)
	if err != nil {
		return false, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	eg, ok := st.emergency[principal]
	if !ok {
		return false, false, nil
	}
	return true, eg.EffectiveActive(s.now()), nil
}

// EmergencyDetails returns the record's effectively active emergency
// grants, ordered by contact. Expiry is evaluated lazily at read time:
// grants past their expiry are omitted even though they were never
// explicitly revoked.
func (s *Store) EmergencyDetails(id types.RecordID) ([]types.EmergencyGrant, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := s.now()
	var out []types.EmergencyGrant
	for _, eg := range st.emergency {
		if eg.EffectiveActive(now) {
			out = append(out, *eg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contact < out[j].Contact })
	return out, nil
}
