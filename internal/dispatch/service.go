package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"doctrack.org/internal/auth"
	"doctrack.org/internal/ids"
)

// Service defines the request lifecycle operations. Every call names its
// acting principal explicitly; there is no ambient current user.
type Service interface {
	Create(ctx context.Context, actor auth.Principal, requesterID string, in CreateInput) (Request, error)
	Get(ctx context.Context, actor auth.Principal, id string) (Request, error)
	ListVisibleTo(ctx context.Context, actor auth.Principal) ([]Request, error)
	Update(ctx context.Context, actor auth.Principal, id string, in UpdateInput) (Request, error)

	Approve(ctx context.Context, actor auth.Principal, id, trackingNumber, shippingVendor string) (Request, error)
	Reject(ctx context.Context, actor auth.Principal, id, feedback string) (Request, error)
	RequestRework(ctx context.Context, actor auth.Principal, id, feedback string) (Request, error)
	Resubmit(ctx context.Context, actor auth.Principal, id string, in UpdateInput) (Request, error)
	ConfirmDelivery(ctx context.Context, actor auth.Principal, id string) (Request, error)
}

// InMemory implements Service with in-process concurrency safety. It
// backs the API tests and local development; Postgres backs production.
type InMemory struct {
	mu   sync.RWMutex
	reqs map[string]*Request
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty request collection.
func NewInMemory() *InMemory {
	return &InMemory{reqs: make(map[string]*Request)}
}

func (s *InMemory) Create(ctx context.Context, actor auth.Principal, requesterID string, in CreateInput) (Request, error) {
	if err := ValidateCreate(in); err != nil {
		return Request{}, err
	}
	if requesterID == "" {
		requesterID = actor.ID
	}
	if err := GuardCreate(actor, requesterID); err != nil {
		return Request{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	r := &Request{
		ID:            ids.New(),
		CreatedAt:     now,
		UpdatedAt:     now,
		RequesterID:   requesterID,
		DocumentName:  in.DocumentName,
		ReceiverEmail: auth.NormalizeEmail(in.ReceiverEmail),
		FilePath:      in.FilePath,
		Status:        StatusPending,
	}
	s.reqs[r.ID] = r
	return *r, nil
}

func (s *InMemory) Get(ctx context.Context, actor auth.Principal, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reqs[id]
	if !ok || !VisibleTo(actor, *r) {
		// Invisible rows read as missing so existence does not leak.
		return Request{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return *r, nil
}

func (s *InMemory) ListVisibleTo(ctx context.Context, actor auth.Principal) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Request, 0, len(s.reqs))
	for _, r := range s.reqs {
		all = append(all, *r)
	}
	return FilterVisible(actor, all), nil
}

func (s *InMemory) Update(ctx context.Context, actor auth.Principal, id string, in UpdateInput) (Request, error) {
	if err := ValidateUpdate(in); err != nil {
		return Request{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	if err := GuardOwner(actor, *r); err != nil {
		return Request{}, err
	}
	if r.Status != StatusPending && r.Status != StatusRework {
		return Request{}, fmt.Errorf("%w: edits require status %q or %q, have %q",
			ErrInvalidTransition, StatusPending, StatusRework, r.Status)
	}
	applyEdits(r, in)
	r.UpdatedAt = time.Now().UTC()
	return *r, nil
}

func (s *InMemory) Approve(ctx context.Context, actor auth.Principal, id, trackingNumber, shippingVendor string) (Request, error) {
	if err := ValidateTracking(trackingNumber); err != nil {
		return Request{}, err
	}
	if err := GuardAdmin(actor); err != nil {
		return Request{}, err
	}
	return s.transition(id, ActionApprove, func(r *Request) {
		r.TrackingNumber = trackingNumber
		r.ShippingVendor = shippingVendor
		r.ApprovedBy = actor.ID
		r.Status = StatusApproved
	})
}

func (s *InMemory) Reject(ctx context.Context, actor auth.Principal, id, feedback string) (Request, error) {
	if err := ValidateFeedback(feedback); err != nil {
		return Request{}, err
	}
	if err := GuardAdmin(actor); err != nil {
		return Request{}, err
	}
	return s.transition(id, ActionReject, func(r *Request) {
		r.AdminFeedback = feedback
		r.ApprovedBy = actor.ID
		r.Status = StatusRejected
	})
}

func (s *InMemory) RequestRework(ctx context.Context, actor auth.Principal, id, feedback string) (Request, error) {
	if err := ValidateFeedback(feedback); err != nil {
		return Request{}, err
	}
	if err := GuardAdmin(actor); err != nil {
		return Request{}, err
	}
	return s.transition(id, ActionRework, func(r *Request) {
		r.AdminFeedback = feedback
		r.Status = StatusRework
	})
}

func (s *InMemory) Resubmit(ctx context.Context, actor auth.Principal, id string, in UpdateInput) (Request, error) {
	if err := ValidateUpdate(in); err != nil {
		return Request{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	if err := GuardOwner(actor, *r); err != nil {
		return Request{}, err
	}
	if !CanTransition(r.Status, ActionResubmit) {
		return Request{}, transitionErr(ActionResubmit, r.Status)
	}
	applyEdits(r, in)
	// Feedback belonged to the previous review round; a resubmitted
	// request goes back to the admin clean.
	r.AdminFeedback = ""
	r.Status = StatusPending
	r.UpdatedAt = time.Now().UTC()
	return *r, nil
}

func (s *InMemory) ConfirmDelivery(ctx context.Context, actor auth.Principal, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	if err := GuardReceiver(actor, *r); err != nil {
		return Request{}, err
	}
	if !CanTransition(r.Status, ActionDeliver) {
		return Request{}, transitionErr(ActionDeliver, r.Status)
	}
	r.IsDelivered = true
	r.Status = StatusCompleted
	r.UpdatedAt = time.Now().UTC()
	return *r, nil
}

// transition applies an admin-side transition whose guard does not need
// the row. Status precondition and effect run under one lock so a
// concurrent second actor observes the new status.
func (s *InMemory) transition(id string, action Action, effect func(*Request)) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reqs[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	if !CanTransition(r.Status, action) {
		return Request{}, transitionErr(action, r.Status)
	}
	effect(r)
	r.UpdatedAt = time.Now().UTC()
	return *r, nil
}

func applyEdits(r *Request, in UpdateInput) {
	if in.DocumentName != nil {
		r.DocumentName = *in.DocumentName
	}
	if in.ReceiverEmail != nil {
		r.ReceiverEmail = auth.NormalizeEmail(*in.ReceiverEmail)
	}
	if in.FilePath != nil {
		r.FilePath = *in.FilePath
	}
}
