// Package approvals implements the process-wide, TTL'd approval store of
// §4.8: a tool awaiting external confirmation registers here and blocks on
// a per-id channel until approved, denied, or its TTL expires.
package approvals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/model"
)

// DefaultTTL is the spec's documented default approval lifetime.
const DefaultTTL = 30 * time.Minute

// Store is a mutex-guarded map keyed by approval_id, grounded on
// internal/auth/antigravity/server.go's channel-wait-with-timeout pattern,
// generalized from a single OAuth callback to an arbitrary number of
// pending approvals.
type Store struct {
	mu       sync.Mutex
	pending  map[string]*entry
	sweepInt time.Duration
	stop     chan struct{}
	stopped  bool
}

type entry struct {
	approval *model.Approval
	done     chan struct{}
}

// NewStore creates an approval store and starts its sweeper goroutine on the
// given interval.
func NewStore(sweepInterval time.Duration) *Store {
	s := &Store{
		pending:  make(map[string]*entry),
		sweepInt: sweepInterval,
		stop:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Register creates a new pending approval for a tool call and returns its id.
func (s *Store) Register(requestID, tool string, args map[string]any, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.pending[id] = &entry{
		approval: &model.Approval{
			ApprovalID: id,
			RequestID:  requestID,
			Tool:       tool,
			Args:       args,
			State:      model.ApprovalPending,
			Created:    time.Now(),
			TTL:        ttl,
		},
		done: make(chan struct{}),
	}
	s.mu.Unlock()
	return id
}

// Decide transitions a pending approval to approved or denied, waking any
// waiter. Returns false if the id is unknown or already resolved.
func (s *Store) Decide(id string, approved bool) bool {
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok || e.approval.State != model.ApprovalPending {
		s.mu.Unlock()
		return false
	}
	if approved {
		e.approval.State = model.ApprovalApproved
	} else {
		e.approval.State = model.ApprovalDenied
	}
	close(e.done)
	s.mu.Unlock()
	return true
}

// Await blocks until id is approved, denied, its TTL expires, or ctx is
// canceled, returning the terminal state (ApprovalPending if ctx was
// canceled first, ApprovalExpired for an unknown id).
func (s *Store) Await(ctx context.Context, id string) model.ApprovalState {
	s.mu.Lock()
	e, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return model.ApprovalExpired
	}

	deadline := e.approval.Created.Add(e.approval.TTL)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-e.done:
		s.mu.Lock()
		state := e.approval.State
		s.mu.Unlock()
		return state
	case <-timer.C:
		s.mu.Lock()
		if e.approval.State == model.ApprovalPending {
			e.approval.State = model.ApprovalExpired
			close(e.done)
		}
		state := e.approval.State
		s.mu.Unlock()
		return state
	case <-ctx.Done():
		return model.ApprovalPending
	}
}

// Get returns a snapshot of the approval, if known.
func (s *Store) Get(id string) (model.Approval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[id]
	if !ok {
		return model.Approval{}, false
	}
	return *e.approval, true
}

// Close stops the sweeper goroutine.
func (s *Store) Close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stop)
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInt)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweepExpired() {
	now := time.Now()
	s.mu.Lock()
	for id, e := range s.pending {
		if e.approval.State == model.ApprovalPending && now.After(e.approval.Created.Add(e.approval.TTL)) {
			e.approval.State = model.ApprovalExpired
			close(e.done)
			logging.Get(logging.CategoryApprovals).Info("approval %s expired via sweeper", id)
		}
	}
	s.mu.Unlock()
}
