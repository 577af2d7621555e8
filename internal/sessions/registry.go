// Package sessions owns the registry of live simulation accounts. Each
// account's state is mutated by at most one cycle at a time: decision cycles,
// risk scans and settlement all serialize on the same per-session lock.
// Distinct sessions proceed fully in parallel.
package sessions

import (
	"context"
	"fmt"
	"sync"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"
)

// session pairs an account with its exclusivity lock and, once finished, the
// cached settlement report that makes a repeated finish idempotent.
type session struct {
	mu         sync.Mutex
	acct       *domain.Account
	settlement *domain.SettlementReport
}

// Registry is the process-wide map from session ID to account. It replaces
// any ambient global state: create one in the composition root and hand it to
// the services that need it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// Add registers a new account. Fails if the ID is already present.
func (r *Registry) Add(acct *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[acct.ID]; ok {
		return fmt.Errorf("%w: %s", ports.ErrSessionExists, acct.ID)
	}
	r.sessions[acct.ID] = &session{acct: acct}
	return nil
}

// IDs returns the identifiers of all registered sessions.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ActiveIDs returns the identifiers of sessions still accepting instructions.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		s.mu.Lock()
		active := s.acct.IsActive()
		s.mu.Unlock()
		if active {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) find(id string) (*session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrSessionNotFound, id)
	}
	return s, nil
}

// Txn holds exclusive access to one session for the duration of a callback.
type Txn struct {
	s *session
}

// Account returns the live account. Mutations outside Replace are not allowed.
func (t *Txn) Account() *domain.Account { return t.s.acct }

// Replace atomically swaps the committed working copy in as the live state.
func (t *Txn) Replace(acct *domain.Account) { t.s.acct = acct }

// Settlement returns the cached settlement report, if the session is finished.
func (t *Txn) Settlement() *domain.SettlementReport { return t.s.settlement }

// SetSettlement caches the settlement report produced by a finish.
func (t *Txn) SetSettlement(rep *domain.SettlementReport) { t.s.settlement = rep }

// WithSession runs fn holding the session's exclusive lock. The lock covers
// validation, execution and commit, so a risk scan and a decision cycle for
// the same account can never interleave. Context cancellation is checked
// before the callback runs; a commit in progress always runs to completion.
func (r *Registry) WithSession(ctx context.Context, id string, fn func(txn *Txn) error) error {
	s, err := r.find(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	return fn(&Txn{s: s})
}

// Snapshot returns a deep copy of the account state without retaining the lock.
func (r *Registry) Snapshot(ctx context.Context, id string) (*domain.Account, error) {
	var snap *domain.Account
	err := r.WithSession(ctx, id, func(txn *Txn) error {
		snap = txn.Account().Clone()
		return nil
	})
	return snap, err
}
