package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"doctrack.org/internal/auth"
)

var (
	admin     = auth.Principal{ID: "adm-1", Email: "admin@corp.test", Role: auth.RoleAdmin, Name: "Admin"}
	requester = auth.Principal{ID: "req-1", Email: "u1@corp.test", Role: auth.RoleRequester, Name: "U1"}
	receiver  = auth.Principal{ID: "rcv-1", Email: "r@x.com", Role: auth.RoleReceiver, Name: "R"}
)

func newPending(t *testing.T, s *InMemory) Request {
	t.Helper()
	r, err := s.Create(context.Background(), requester, requester.ID, CreateInput{
		DocumentName:  "Invoice-1",
		ReceiverEmail: "r@x.com",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	r := newPending(t, s)
	got, err := s.Get(ctx, requester, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.IsDelivered {
		t.Fatal("new request must not be delivered")
	}
	if got.TrackingNumber != "" {
		t.Fatalf("new request must have no tracking number, got %q", got.TrackingNumber)
	}
	if got.RequesterID != requester.ID {
		t.Fatalf("unexpected owner: %s", got.RequesterID)
	}
}

func TestCreateValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Create(ctx, requester, requester.ID, CreateInput{DocumentName: "", ReceiverEmail: "r@x.com"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty name, got %v", err)
	}
	for _, bad := range []string{"", "not-an-email", "a@b", "a b@x.com", "a@b."} {
		if _, err := s.Create(ctx, requester, requester.ID, CreateInput{DocumentName: "Doc", ReceiverEmail: bad}); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for email %q, got %v", bad, err)
		}
	}
}

func TestCreateOnBehalfGuards(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	// Admin may create naming another requester as owner.
	r, err := s.Create(ctx, admin, requester.ID, CreateInput{DocumentName: "Doc", ReceiverEmail: "r@x.com"})
	if err != nil {
		t.Fatalf("admin create on behalf: %v", err)
	}
	if r.RequesterID != requester.ID {
		t.Fatalf("unexpected owner: %s", r.RequesterID)
	}

	// A requester may not create a row owned by someone else.
	if _, err := s.Create(ctx, requester, "someone-else", CreateInput{DocumentName: "Doc", ReceiverEmail: "r@x.com"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Receivers cannot create at all.
	if _, err := s.Create(ctx, receiver, receiver.ID, CreateInput{DocumentName: "Doc", ReceiverEmail: "r@x.com"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// Scenario A: create -> approve with tracking -> receiver confirms delivery.
func TestApproveThenDeliver(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	approved, err := s.Approve(ctx, admin, r.ID, "TH123", "DHL")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.TrackingNumber != "TH123" {
		t.Fatalf("unexpected tracking number: %q", approved.TrackingNumber)
	}
	if approved.ApprovedBy != admin.ID {
		t.Fatalf("unexpected approved_by: %q", approved.ApprovedBy)
	}

	done, err := s.ConfirmDelivery(ctx, receiver, r.ID)
	if err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	if !done.IsDelivered {
		t.Fatal("expected is_delivered=true")
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
}

func TestApproveRequiresTracking(t *testing.T) {
	s := NewInMemory()
	r := newPending(t, s)

	if _, err := s.Approve(context.Background(), admin, r.ID, "  ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := s.Get(context.Background(), admin, r.ID)
	if got.Status != StatusPending {
		t.Fatalf("failed approve must not mutate, got %s", got.Status)
	}
}

// Scenario B: reject is a dead end.
func TestRejectIsTerminal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	rejected, err := s.Reject(ctx, admin, r.ID, "Missing signature")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.AdminFeedback != "Missing signature" {
		t.Fatalf("unexpected feedback: %q", rejected.AdminFeedback)
	}

	if _, err := s.Approve(ctx, admin, r.ID, "TH999", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after reject, got %v", err)
	}
	if _, err := s.Resubmit(ctx, requester, r.ID, UpdateInput{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rejected requests are not resubmittable, got %v", err)
	}
}

func TestFeedbackMinimumLength(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	if _, err := s.Reject(ctx, admin, r.ID, "Bad"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for short feedback, got %v", err)
	}
	if _, err := s.RequestRework(ctx, admin, r.ID, "    "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank feedback, got %v", err)
	}
	got, _ := s.Get(ctx, admin, r.ID)
	if got.Status != StatusPending {
		t.Fatalf("failed transitions must not mutate, got %s", got.Status)
	}
}

// Scenario C: rework -> requester edits -> pending again, feedback cleared.
func TestReworkResubmitCycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	reworked, err := s.RequestRework(ctx, admin, r.ID, "Fix receiver name")
	if err != nil {
		t.Fatalf("rework: %v", err)
	}
	if reworked.Status != StatusRework {
		t.Fatalf("expected rework, got %s", reworked.Status)
	}
	if reworked.AdminFeedback != "Fix receiver name" {
		t.Fatalf("unexpected feedback: %q", reworked.AdminFeedback)
	}

	name := "Invoice-1-corrected"
	resubmitted, err := s.Resubmit(ctx, requester, r.ID, UpdateInput{DocumentName: &name})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.Status != StatusPending {
		t.Fatalf("expected pending after resubmit, got %s", resubmitted.Status)
	}
	if resubmitted.DocumentName != name {
		t.Fatalf("edit not applied: %q", resubmitted.DocumentName)
	}
	if resubmitted.AdminFeedback != "" {
		t.Fatalf("feedback should be cleared on resubmit, got %q", resubmitted.AdminFeedback)
	}

	// The full loop works: approve after resubmission.
	if _, err := s.Approve(ctx, admin, r.ID, "TH777", ""); err != nil {
		t.Fatalf("approve after resubmit: %v", err)
	}
}

func TestResubmitOnlyByOwner(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)
	if _, err := s.RequestRework(ctx, admin, r.ID, "Fix receiver name"); err != nil {
		t.Fatalf("rework: %v", err)
	}

	other := auth.Principal{ID: "req-2", Email: "u2@corp.test", Role: auth.RoleRequester}
	if _, err := s.Resubmit(ctx, other, r.ID, UpdateInput{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}
	if _, err := s.Resubmit(ctx, admin, r.ID, UpdateInput{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admins do not resubmit on a requester's behalf, got %v", err)
	}
}

// Scenario D: wrong role on an admin transition mutates nothing.
func TestNonAdminCannotApprove(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	if _, err := s.Approve(ctx, receiver, r.ID, "TH123", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.Approve(ctx, requester, r.ID, "TH123", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	got, _ := s.Get(ctx, admin, r.ID)
	if got.Status != StatusPending || got.TrackingNumber != "" {
		t.Fatalf("guard failure must not mutate: %+v", got)
	}
}

func TestDeliveryGuards(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	// Not yet approved.
	if _, err := s.ConfirmDelivery(ctx, receiver, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before approval, got %v", err)
	}

	if _, err := s.Approve(ctx, admin, r.ID, "TH123", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Wrong receiver email.
	stranger := auth.Principal{ID: "rcv-2", Email: "other@x.com", Role: auth.RoleReceiver}
	if _, err := s.ConfirmDelivery(ctx, stranger, r.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong receiver, got %v", err)
	}

	if _, err := s.ConfirmDelivery(ctx, receiver, r.ID); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	// Delivery is never reset; a second confirm is an invalid transition.
	if _, err := s.ConfirmDelivery(ctx, receiver, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double delivery, got %v", err)
	}
}

func TestApproveIdempotence(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	if _, err := s.Approve(ctx, admin, r.ID, "TH123", ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := s.Approve(ctx, admin, r.ID, "TH456", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second approve must fail with ErrInvalidTransition, got %v", err)
	}
	got, _ := s.Get(ctx, admin, r.ID)
	if got.TrackingNumber != "TH123" {
		t.Fatalf("second approve must not overwrite tracking, got %q", got.TrackingNumber)
	}
}

func TestConcurrentApprovesExactlyOneWins(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	var wg sync.WaitGroup
	N := 20
	errs := make([]error, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Approve(ctx, admin, r.ID, "TH123", "")
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidTransition):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != N-1 {
		t.Fatalf("expected exactly one winner, got ok=%d conflict=%d", ok, conflict)
	}
}

func TestUpdateRequiresEditableStatus(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	name := "Renamed"
	if _, err := s.Update(ctx, requester, r.ID, UpdateInput{DocumentName: &name}); err != nil {
		t.Fatalf("edit while pending: %v", err)
	}

	if _, err := s.Approve(ctx, admin, r.ID, "TH123", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := s.Update(ctx, requester, r.ID, UpdateInput{DocumentName: &name}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition editing approved row, got %v", err)
	}
}

func TestGetHidesInvisibleRows(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	r := newPending(t, s)

	// Receiver cannot see a pending row addressed to them, and the error
	// reads the same as a genuinely missing row.
	if _, err := s.Get(ctx, receiver, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for invisible row, got %v", err)
	}
	other := auth.Principal{ID: "req-2", Email: "u2@corp.test", Role: auth.RoleRequester}
	if _, err := s.Get(ctx, other, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign row, got %v", err)
	}
}
