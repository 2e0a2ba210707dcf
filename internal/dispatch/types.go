package dispatch

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusRework    Status = "rework"
	StatusCompleted Status = "completed"
)

// Action names a lifecycle transition.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionRework   Action = "rework"
	ActionResubmit Action = "resubmit"
	ActionDeliver  Action = "deliver"
)

// Request is a single document-dispatch workflow instance. This is the
// one canonical shape; the store boundary maps it to and from rows, and
// nothing downstream carries dual-named fields.
type Request struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	RequesterID    string    `json:"requester_id"`
	DocumentName   string    `json:"document_name"`
	ReceiverEmail  string    `json:"receiver_email"`
	FilePath       string    `json:"file_path,omitempty"`
	Status         Status    `json:"status"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	AdminFeedback  string    `json:"admin_feedback,omitempty"`
	ShippingVendor string    `json:"shipping_vendor,omitempty"`
	IsDelivered    bool      `json:"is_delivered"`
	ApprovedBy     string    `json:"approved_by,omitempty"`

	// Joined requester identity, populated only by the privileged
	// admin listing.
	RequesterName       string `json:"requester_name,omitempty"`
	RequesterDepartment string `json:"requester_department,omitempty"`
}

// CreateInput carries the requester-supplied fields of a new request.
type CreateInput struct {
	DocumentName  string `json:"document_name"`
	ReceiverEmail string `json:"receiver_email"`
	FilePath      string `json:"file_path"`
}

// UpdateInput carries optional edits for the pending/rework paths.
// Nil means "leave unchanged".
type UpdateInput struct {
	DocumentName  *string `json:"document_name"`
	ReceiverEmail *string `json:"receiver_email"`
	FilePath      *string `json:"file_path"`
}

// Failure taxonomy. Validation fails before any store call; guard
// failures mutate nothing; Unavailable wraps store/network causes and is
// the only retryable kind.
var (
	ErrValidation        = errors.New("dispatch: validation failed")
	ErrUnauthorized      = errors.New("dispatch: unauthorized")
	ErrInvalidTransition = errors.New("dispatch: invalid transition")
	ErrNotFound          = errors.New("dispatch: not found")
	ErrUnavailable       = errors.New("dispatch: store unavailable")
)
