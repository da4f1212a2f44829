package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/types"
)

// Repository persists records, grants and emergency grants. Grant writes
// are invoked inside the affected record's mutation boundary; SaveRecord
// runs before the record becomes visible to readers.
type Repository interface {
	SaveRecord(ctx context.Context, record types.Record) error
	SaveTags(ctx context.Context, id types.RecordID, tags []string) error
	SaveGrant(ctx context.Context, id types.RecordID, grantee types.Principal) error
	DeleteGrant(ctx context.Context, id types.RecordID, grantee types.Principal) error
	SaveEmergency(ctx context.Context, grant types.EmergencyGrant) error
	DeleteEmergency(ctx context.Context, id types.RecordID, contact types.Principal) error
	LoadAll(ctx context.Context) ([]types.Record, map[types.RecordID][]types.Principal, []types.EmergencyGrant, error)
}

type recordState struct {
	mu        sync.Mutex
	record    types.Record
	grantees  []types.Principal // insertion order
	emergency map[types.Principal]*types.EmergencyGrant
}

// Store holds all records, their access grants and emergency grants. Record
// identifiers are assigned from a monotonic counter and are never reused.
// Mutations to a single record are serialized by a per-record lock.
type Store struct {
	mu      sync.RWMutex
	records map[types.RecordID]*recordState
	nextID  types.RecordID

	repo Repository
	log  *logger.Logger
	now  func() time.Time
}

// New creates an empty store. repo may be nil for in-memory operation.
func New(repo Repository, log *logger.Logger) *Store {
	return &Store{
		records: make(map[types.RecordID]*recordState),
		nextID:  1,
		repo:    repo,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// LoadFrom restores store state from the repository. Call once at startup
// before the store is shared.
func (s *Store) LoadFrom(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	records, grants, emergencies, err := s.repo.LoadAll(ctx)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to load records", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		st := &recordState{record: rec, grantees: grants[rec.ID]}
		s.records[rec.ID] = st
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	for _, eg := range emergencies {
		if st, ok := s.records[eg.RecordID]; ok {
			g := eg
			if st.emergency == nil {
				st.emergency = make(map[types.Principal]*types.EmergencyGrant)
			}
			st.emergency[g.Contact] = &g
		}
	}
	return nil
}

// Create adds a new record owned by owner and returns its identifier.
// Ownership is fixed at creation and never changes.
func (s *Store) Create(ctx context.Context, owner types.Principal, contentRef string, category types.Category, tags []string, encrypted bool) (types.RecordID, error) {
	if owner.IsZero() {
		return 0, types.NewValidationError(types.ErrCodeInvalidPrincipal, "record owner is required")
	}
	if contentRef == "" {
		return 0, types.NewValidationError(types.ErrCodeInvalidInput, "content reference is required")
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	rec := types.Record{
		ID:          id,
		Owner:       owner,
		ContentRef:  contentRef,
		CreatedAt:   s.now(),
		Category:    category,
		Tags:        append([]string(nil), tags...),
		IsEncrypted: encrypted,
	}

	// Persist before the record becomes visible, and outside the store
	// lock so an insert does not stall reads of other records. A failed
	// persist burns the id, which is fine: ids are never reused.
	if s.repo != nil {
		if err := s.repo.SaveRecord(ctx, rec); err != nil {
			return 0, types.NewInternalError(types.ErrCodeInternalError, "failed to persist record", err)
		}
	}

	s.mu.Lock()
	s.records[id] = &recordState{record: rec}
	s.mu.Unlock()

	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"record_id": uint64(id),
			"owner":     owner.String(),
			"category":  string(category),
		}).Info("Record created")
	}
	return id, nil
}

// Exists reports whether a record with the given id exists.
func (s *Store) Exists(id types.RecordID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Get returns a copy of the record.
func (s *Store) Get(id types.RecordID) (types.Record, error) {
	st, err := s.state(id)
	if err != nil {
		return types.Record{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	rec := st.record
	rec.Tags = append([]string(nil), st.record.Tags...)
	return rec, nil
}

// Owner returns the record's owner.
func (s *Store) Owner(id types.RecordID) (types.Principal, error) {
	st, err := s.state(id)
	if err != nil {
		return "", err
	}
	// Owner is immutable, no need for the record lock.
	return st.record.Owner, nil
}

// UpdateTags replaces the record's tags.
func (s *Store) UpdateTags(ctx context.Context, id types.RecordID, tags []string) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	previous := st.record.Tags
	st.record.Tags = append([]string(nil), tags...)

	if s.repo != nil {
		if err := s.repo.SaveTags(ctx, id, st.record.Tags); err != nil {
			st.record.Tags = previous
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist tags", err)
		}
	}
	return nil
}

// Grant adds grantee to the record's access list. Granting to a principal
// that already has access is a no-op.
func (s *Store) Grant(ctx context.Context, id types.RecordID, grantee types.Principal) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.grantees {
		if existing == grantee {
			return nil
		}
	}
	st.grantees = append(st.grantees, grantee)

	if s.repo != nil {
		if err := s.repo.SaveGrant(ctx, id, grantee); err != nil {
			st.grantees = st.grantees[:len(st.grantees)-1]
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist grant", err)
		}
	}
	return nil
}

// Revoke removes grantee from the record's access list. Revoking a
// principal that has no grant is a no-op.
func (s *Store) Revoke(ctx context.Context, id types.RecordID, grantee types.Principal) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	idx := -1
	for i, existing := range st.grantees {
		if existing == grantee {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	removed := st.grantees[idx]
	st.grantees = append(st.grantees[:idx], st.grantees[idx+1:]...)

	if s.repo != nil {
		if err := s.repo.DeleteGrant(ctx, id, grantee); err != nil {
			st.grantees = append(st.grantees, removed)
			return types.NewInternalError(types.ErrCodeInternalError, "failed to persist revocation", err)
		}
	}
	return nil
}

// SharedWith returns the record's grantees in the order grants were made.
func (s *Store) SharedWith(id types.RecordID) ([]types.Principal, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]types.Principal(nil), st.grantees...), nil
}

// HasAccess reports whether principal can read the record: the owner
// always can, grantees can, and an emergency contact can while its
// grant is effectively active.
func (s *Store) HasAccess(id types.RecordID, principal types.Principal) (bool, error) {
	st, err := s.state(id)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.record.Owner == principal {
		return true, nil
	}
	for _, g := range st.grantees {
		if g == principal {
			return true, nil
		}
	}
	if eg, ok := st.emergency[principal]; ok && eg.EffectiveActive(s.now()) {
		return true, nil
	}
	return false, nil
}

// OwnedBy returns the ids of all records owned by principal, in creation
// order.
func (s *Store) OwnedBy(principal types.Principal) []types.RecordID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.RecordID
	for id, st := range s.records {
		if st.record.Owner == principal {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SharedWithMe returns the ids of all records principal has been granted
// access to, directly or through an active emergency grant, in creation
// order. Records the principal owns are excluded.
func (s *Store) SharedWithMe(principal types.Principal) []types.RecordID {
	s.mu.RLock()
	states := make(map[types.RecordID]*recordState, len(s.records))
	for id, st := range s.records {
		states[id] = st
	}
	s.mu.RUnlock()

	var out []types.RecordID
	for id, st := range states {
		st.mu.Lock()
		if st.record.Owner != principal {
			granted := false
			for _, g := range st.grantees {
				if g == principal {
					granted = true
					break
				}
			}
			if !granted {
				if eg, ok := st.emergency[principal]; ok && eg.EffectiveActive(s.now()) {
					granted = true
				}
			}
			if granted {
				out = append(out, id)
			}
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) state(id types.RecordID) (*recordState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.records[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeNoSuchRecord, "no record with that id")
	}
	return st, nil
}
