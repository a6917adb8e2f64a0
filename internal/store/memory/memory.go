// Package memory implements the store interfaces in process memory.
// It backs development mode (DATABASE_URL=memory://) and the core tests.
// Each build carries its own lock; the store-wide lock only guards the indexes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

// Store is an in-memory store.Store.
type Store struct {
	mu         sync.RWMutex
	builds     map[uuid.UUID]*buildState
	byNumber   map[string]uuid.UUID
	failures   map[uuid.UUID]uuid.UUID // failure id -> build id
	references map[store.ReferenceKind]map[string]struct{}
	principals map[string]store.Principal // api key hash -> principal

	nextEntryID atomic.Int64
}

type buildState struct {
	mu        sync.Mutex
	build     store.Build
	ledger    []store.CheckpointEntry
	failures  []store.FailureRecord
	artifacts []store.Artifact
	variables map[string]store.Variable
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		builds:     make(map[uuid.UUID]*buildState),
		byNumber:   make(map[string]uuid.UUID),
		failures:   make(map[uuid.UUID]uuid.UUID),
		references: make(map[store.ReferenceKind]map[string]struct{}),
		principals: make(map[string]store.Principal),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) state(id uuid.UUID) (*buildState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.builds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st, nil
}

// Builds

func (s *Store) CreateBuild(ctx context.Context, b *store.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byNumber[b.BuildNumber]; ok {
		return fmt.Errorf("build number %s: %w", b.BuildNumber, store.ErrDuplicate)
	}
	if _, ok := s.builds[b.ID]; ok {
		return fmt.Errorf("build %s: %w", b.ID, store.ErrDuplicate)
	}

	s.builds[b.ID] = &buildState{build: *b, variables: make(map[string]store.Variable)}
	s.byNumber[b.BuildNumber] = b.ID
	return nil
}

func (s *Store) GetBuild(ctx context.Context, id uuid.UUID) (*store.Build, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	b := st.build
	return &b, nil
}

func (s *Store) GetBuildByNumber(ctx context.Context, number string) (*store.Build, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetBuild(ctx, id)
}

func (s *Store) snapshot() []*buildState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*buildState, 0, len(s.builds))
	for _, st := range s.builds {
		states = append(states, st)
	}
	return states
}

func (s *Store) ListBuilds(ctx context.Context, filter store.BuildFilter) ([]store.Build, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	wanted := make(map[store.BuildStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		wanted[st] = true
	}

	var builds []store.Build
	for _, st := range s.snapshot() {
		st.mu.Lock()
		b := st.build
		st.mu.Unlock()

		if len(wanted) > 0 && !wanted[b.Status] {
			continue
		}
		if filter.Platform != "" && b.Platform != filter.Platform {
			continue
		}
		builds = append(builds, b)
	}

	sort.Slice(builds, func(i, j int) bool {
		return builds[i].CreatedAt.After(builds[j].CreatedAt)
	})

	if filter.Offset >= len(builds) {
		return nil, nil
	}
	builds = builds[filter.Offset:]
	if len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

func applyUpdate(b *store.Build, update store.BuildUpdate) error {
	if b.Version != update.ExpectedVersion {
		return store.ErrVersionConflict
	}
	b.CurrentCheckpoint = update.CurrentCheckpoint
	b.Status = update.Status
	b.EndTime = update.EndTime
	b.UpdatedAt = update.UpdatedAt
	b.Version++
	return nil
}

func (s *Store) UpdateBuild(ctx context.Context, update store.BuildUpdate) error {
	st, err := s.state(update.ID)
	if err != nil {
		return store.ErrVersionConflict
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return applyUpdate(&st.build, update)
}

func (s *Store) CountBuildsByStatus(ctx context.Context) (map[store.BuildStatus]int64, error) {
	counts := make(map[store.BuildStatus]int64)
	for _, st := range s.snapshot() {
		st.mu.Lock()
		counts[st.build.Status]++
		st.mu.Unlock()
	}
	return counts, nil
}

// Ledger

func (s *Store) AppendTransition(ctx context.Context, entry *store.CheckpointEntry, update store.BuildUpdate) error {
	st, err := s.state(update.ID)
	if err != nil {
		return store.ErrVersionConflict
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := applyUpdate(&st.build, update); err != nil {
		return err
	}

	entry.ID = s.nextEntryID.Add(1)
	st.ledger = append(st.ledger, *entry)
	return nil
}

func (s *Store) ListLedger(ctx context.Context, buildID uuid.UUID) ([]store.CheckpointEntry, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]store.CheckpointEntry(nil), st.ledger...), nil
}

// LatestEntry relies on ledger rows being appended in (created_at, id) order.
func (s *Store) LatestEntry(ctx context.Context, buildID uuid.UUID, checkpoint int) (*store.CheckpointEntry, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i := len(st.ledger) - 1; i >= 0; i-- {
		if st.ledger[i].Checkpoint == checkpoint {
			e := st.ledger[i]
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CountFailedEntries(ctx context.Context, buildID uuid.UUID, checkpoint int) (int, error) {
	st, err := s.state(buildID)
	if err != nil {
		return 0, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	count := 0
	for _, e := range st.ledger {
		if e.Checkpoint == checkpoint && e.Status == store.EntryStatusFailed {
			count++
		}
	}
	return count, nil
}

func (s *Store) HighestCompleted(ctx context.Context, buildID uuid.UUID, atOrBelow int) (int, error) {
	st, err := s.state(buildID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	highest := -1
	for _, e := range st.ledger {
		if e.Status == store.EntryStatusCompleted && e.Checkpoint <= atOrBelow && e.Checkpoint > highest {
			highest = e.Checkpoint
		}
	}
	if highest < 0 {
		return 0, store.ErrNotFound
	}
	return highest, nil
}

func (s *Store) LastFailedCheckpoint(ctx context.Context, buildID uuid.UUID) (int, error) {
	st, err := s.state(buildID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i := len(st.ledger) - 1; i >= 0; i-- {
		if st.ledger[i].Status == store.EntryStatusFailed {
			return st.ledger[i].Checkpoint, nil
		}
	}
	return 0, store.ErrNotFound
}

// Failures

func (s *Store) CreateFailure(ctx context.Context, f *store.FailureRecord) error {
	st, err := s.state(f.BuildID)
	if err != nil {
		return fmt.Errorf("build %s: %w", f.BuildID, err)
	}

	st.mu.Lock()
	st.failures = append(st.failures, *f)
	st.mu.Unlock()

	s.mu.Lock()
	s.failures[f.ID] = f.BuildID
	s.mu.Unlock()
	return nil
}

func (s *Store) failureState(id uuid.UUID) (*buildState, error) {
	s.mu.RLock()
	buildID, ok := s.failures[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.state(buildID)
}

func (s *Store) GetFailure(ctx context.Context, id uuid.UUID) (*store.FailureRecord, error) {
	st, err := s.failureState(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, f := range st.failures {
		if f.ID == id {
			return &f, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ResolveFailure(ctx context.Context, f *store.FailureRecord) error {
	st, err := s.failureState(f.ID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.failures {
		if st.failures[i].ID == f.ID {
			st.failures[i].Resolved = true
			st.failures[i].ResolutionNote = f.ResolutionNote
			st.failures[i].ResolvedAt = f.ResolvedAt
			st.failures[i].ResolvedBy = f.ResolvedBy
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListFailures(ctx context.Context, buildID uuid.UUID, unresolvedOnly bool) ([]store.FailureRecord, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var out []store.FailureRecord
	for i := len(st.failures) - 1; i >= 0; i-- {
		if unresolvedOnly && st.failures[i].Resolved {
			continue
		}
		out = append(out, st.failures[i])
	}
	return out, nil
}

// Artifacts

func (s *Store) CreateArtifact(ctx context.Context, a *store.Artifact) error {
	st, err := s.state(a.BuildID)
	if err != nil {
		return fmt.Errorf("build %s: %w", a.BuildID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.artifacts = append(st.artifacts, *a)
	return nil
}

func (s *Store) LatestArtifact(ctx context.Context, buildID uuid.UUID, checkpoint int, resumableOnly bool) (*store.Artifact, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i := len(st.artifacts) - 1; i >= 0; i-- {
		a := st.artifacts[i]
		if a.Checkpoint != checkpoint || (resumableOnly && !a.Resumable) {
			continue
		}
		return &a, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListArtifacts(ctx context.Context, buildID uuid.UUID, filter store.ArtifactFilter) ([]store.Artifact, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var out []store.Artifact
	for _, a := range st.artifacts {
		if filter.Checkpoint != nil && a.Checkpoint != *filter.Checkpoint {
			continue
		}
		if filter.Resumable != nil && a.Resumable != *filter.Resumable {
			continue
		}
		if filter.Final != nil && a.Final != *filter.Final {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Checkpoint < out[j].Checkpoint
	})
	return out, nil
}

// Variables

func (s *Store) UpsertVariable(ctx context.Context, v *store.Variable) error {
	st, err := s.state(v.BuildID)
	if err != nil {
		return fmt.Errorf("build %s: %w", v.BuildID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.variables[v.Key]; ok {
		v.CreatedAt = existing.CreatedAt
	}
	st.variables[v.Key] = *v
	return nil
}

func (s *Store) GetVariable(ctx context.Context, buildID uuid.UUID, key string) (*store.Variable, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.variables[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) ListVariables(ctx context.Context, buildID uuid.UUID, requiredOnly bool) ([]store.Variable, error) {
	st, err := s.state(buildID)
	if err != nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var out []store.Variable
	for _, v := range st.variables {
		if requiredOnly && !v.RequiredForResume {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Reference data

func (s *Store) ReferenceExists(ctx context.Context, kind store.ReferenceKind, name string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown reference kind %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.references[kind][name]
	return ok, nil
}

func (s *Store) CreateReference(ctx context.Context, kind store.ReferenceKind, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown reference kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.references[kind] == nil {
		s.references[kind] = make(map[string]struct{})
	}
	s.references[kind][name] = struct{}{}
	return nil
}

// Principals

func (s *Store) CreatePrincipal(ctx context.Context, p *store.Principal, hashedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[hashedKey]; ok {
		return store.ErrDuplicate
	}
	s.principals[hashedKey] = *p
	return nil
}

func (s *Store) GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*store.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}
