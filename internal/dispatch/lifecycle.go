package dispatch

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"doctrack.org/internal/auth"
)

// minFeedbackLen is the shortest admin feedback accepted on
// reject/rework.
const minFeedbackLen = 5

// transitionFrom is the state machine table: the status a request must
// hold for each action to be legal. Rejected appears nowhere as a source
// state; a rejected request is a dead end and the requester starts over.
var transitionFrom = map[Action]Status{
	ActionApprove:  StatusPending,
	ActionReject:   StatusPending,
	ActionRework:   StatusPending,
	ActionResubmit: StatusRework,
	ActionDeliver:  StatusApproved,
}

// CanTransition reports whether action is legal from the given status.
func CanTransition(from Status, action Action) bool {
	required, ok := transitionFrom[action]
	return ok && from == required
}

// RequiredStatus returns the source status an action demands.
func RequiredStatus(action Action) (Status, bool) {
	s, ok := transitionFrom[action]
	return s, ok
}

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s.]+$`)

// ValidEmail checks the basic local@domain.tld shape. Deliverability is
// not our problem; shape is.
func ValidEmail(email string) bool {
	return emailShape.MatchString(strings.TrimSpace(email))
}

// ValidateCreate checks requester input before any store call.
func ValidateCreate(in CreateInput) error {
	if strings.TrimSpace(in.DocumentName) == "" {
		return fmt.Errorf("%w: document_name is required", ErrValidation)
	}
	if !ValidEmail(in.ReceiverEmail) {
		return fmt.Errorf("%w: receiver_email must look like local@domain.tld", ErrValidation)
	}
	return nil
}

// ValidateUpdate checks edit input; nil fields are left alone.
func ValidateUpdate(in UpdateInput) error {
	if in.DocumentName != nil && strings.TrimSpace(*in.DocumentName) == "" {
		return fmt.Errorf("%w: document_name must not be empty", ErrValidation)
	}
	if in.ReceiverEmail != nil && !ValidEmail(*in.ReceiverEmail) {
		return fmt.Errorf("%w: receiver_email must look like local@domain.tld", ErrValidation)
	}
	return nil
}

// ValidateTracking checks the carrier tracking number supplied on approve.
func ValidateTracking(trackingNumber string) error {
	if strings.TrimSpace(trackingNumber) == "" {
		return fmt.Errorf("%w: tracking_number is required", ErrValidation)
	}
	return nil
}

// ValidateFeedback checks the admin feedback supplied on reject/rework.
func ValidateFeedback(feedback string) error {
	if utf8.RuneCountInString(strings.TrimSpace(feedback)) < minFeedbackLen {
		return fmt.Errorf("%w: admin_feedback must be at least %d characters", ErrValidation, minFeedbackLen)
	}
	return nil
}

// GuardAdmin rejects non-admin actors.
func GuardAdmin(actor auth.Principal) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrUnauthorized)
	}
	return nil
}

// GuardOwner rejects actors who are not the owning requester. Admins get
// no pass here: resubmission and edits belong to the requester.
func GuardOwner(actor auth.Principal, r Request) error {
	if actor.Role != auth.RoleRequester || actor.ID != r.RequesterID {
		return fmt.Errorf("%w: only the owning requester may modify this request", ErrUnauthorized)
	}
	return nil
}

// GuardReceiver rejects actors who are not the addressed receiver.
func GuardReceiver(actor auth.Principal, r Request) error {
	if actor.Role != auth.RoleReceiver || auth.NormalizeEmail(actor.Email) != auth.NormalizeEmail(r.ReceiverEmail) {
		return fmt.Errorf("%w: only the addressed receiver may confirm delivery", ErrUnauthorized)
	}
	return nil
}

// GuardCreate allows requesters to create for themselves and admins to
// create on a requester's behalf.
func GuardCreate(actor auth.Principal, requesterID string) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == auth.RoleRequester && actor.ID == requesterID {
		return nil
	}
	return fmt.Errorf("%w: requester role required", ErrUnauthorized)
}

func transitionErr(action Action, from Status) error {
	required := transitionFrom[action]
	return fmt.Errorf("%w: %s requires status %q, have %q", ErrInvalidTransition, action, required, from)
}
