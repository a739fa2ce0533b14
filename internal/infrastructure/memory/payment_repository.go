package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/Simply-Furaha/App/internal/domain/payment"
)

// PaymentRepository keeps payment requests in process memory. One mutex
// guards all indexes so Claim is atomic per target.
type PaymentRepository struct {
	mu            sync.RWMutex
	requests      map[string]*domain.Request
	byCorrelation map[string]string
	activeTargets map[string]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		requests:      make(map[string]*domain.Request),
		byCorrelation: make(map[string]string),
		activeTargets: make(map[string]string),
	}
}

func (r *PaymentRepository) Claim(ctx context.Context, req *domain.Request) error {
	_ = ctx
	if req == nil || req.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return domain.ErrConflict
	}
	key := req.Target.Key()
	if id, ok := r.activeTargets[key]; ok {
		return &domain.DuplicateRequestError{Existing: cloneRequest(r.requests[id])}
	}
	if req.CorrelationID != "" {
		if _, taken := r.byCorrelation[req.CorrelationID]; taken {
			return domain.ErrConflict
		}
		r.byCorrelation[req.CorrelationID] = req.ID
	}

	r.requests[req.ID] = cloneRequest(req)
	if req.State.IsActive() {
		r.activeTargets[key] = req.ID
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Request, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *PaymentRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Request, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCorrelation[correlationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(r.requests[id]), nil
}

func (r *PaymentRepository) FindActive(ctx context.Context, target domain.Target) (*domain.Request, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.activeTargets[target.Key()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(r.requests[id]), nil
}

func (r *PaymentRepository) Update(ctx context.Context, req *domain.Request) error {
	_ = ctx
	if req == nil || req.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.requests[req.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if current.State.IsTerminal() && req.State != current.State {
		return fmt.Errorf("%w: %s request cannot become %s", domain.ErrConflict, current.State, req.State)
	}
	if current.CorrelationID != "" && req.CorrelationID != current.CorrelationID {
		return fmt.Errorf("%w: correlation id is immutable", domain.ErrConflict)
	}
	if current.CorrelationID == "" && req.CorrelationID != "" {
		if _, taken := r.byCorrelation[req.CorrelationID]; taken {
			return fmt.Errorf("%w: correlation id already assigned", domain.ErrConflict)
		}
		r.byCorrelation[req.CorrelationID] = req.ID
	}

	r.requests[req.ID] = cloneRequest(req)
	key := req.Target.Key()
	if req.State.IsActive() {
		r.activeTargets[key] = req.ID
	} else if r.activeTargets[key] == req.ID {
		delete(r.activeTargets, key)
	}
	return nil
}

func (r *PaymentRepository) ListByMember(ctx context.Context, memberID string, limit int) ([]*domain.Request, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Request, 0)
	for _, req := range r.requests {
		if req.Target.MemberID == memberID {
			out = append(out, cloneRequest(req))
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRepository) ListByState(ctx context.Context, states ...domain.State) ([]*domain.Request, error) {
	_ = ctx

	want := make(map[domain.State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Request, 0)
	for _, req := range r.requests {
		if want[req.State] {
			out = append(out, cloneRequest(req))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *PaymentRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, req := range r.requests {
		if !req.State.IsTerminal() || req.CompletedAt.IsZero() || !req.CompletedAt.Before(cutoff) {
			continue
		}
		delete(r.requests, id)
		if req.CorrelationID != "" {
			delete(r.byCorrelation, req.CorrelationID)
		}
		n++
	}
	return n, nil
}

func sortNewestFirst(items []*domain.Request) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func cloneRequest(req *domain.Request) *domain.Request {
	if req == nil {
		return nil
	}
	clone := *req
	return &clone
}
