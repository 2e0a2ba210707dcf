package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"doctrack.org/internal/auth"
	"doctrack.org/internal/dispatch"
	"doctrack.org/internal/ids"
)

// Requests implements dispatch.Service over PostgreSQL. Validation and
// role guards run in Go before any query; the status precondition is
// enforced by the database itself: every transition is one conditional
// UPDATE (compare-and-swap on status), so two racing admins get exactly
// one success and one ErrInvalidTransition without application locks.
type Requests struct {
	store *Store
}

var _ dispatch.Service = (*Requests)(nil)

// Requests returns the request accessor.
func (s *Store) Requests() *Requests { return &Requests{store: s} }

const requestCols = `id, created_at, updated_at, requester_id, document_name,
	receiver_email, coalesce(file_path,''), status, coalesce(tracking_number,''),
	coalesce(admin_feedback,''), coalesce(shipping_vendor,''), is_delivered,
	coalesce(approved_by,'')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (dispatch.Request, error) {
	var r dispatch.Request
	err := row.Scan(
		&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.RequesterID, &r.DocumentName,
		&r.ReceiverEmail, &r.FilePath, &r.Status, &r.TrackingNumber,
		&r.AdminFeedback, &r.ShippingVendor, &r.IsDelivered, &r.ApprovedBy,
	)
	return r, err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", dispatch.ErrUnavailable, op, err)
}

func (q *Requests) Create(ctx context.Context, actor auth.Principal, requesterID string, in dispatch.CreateInput) (dispatch.Request, error) {
	if err := dispatch.ValidateCreate(in); err != nil {
		return dispatch.Request{}, err
	}
	if requesterID == "" {
		requesterID = actor.ID
	}
	if err := dispatch.GuardCreate(actor, requesterID); err != nil {
		return dispatch.Request{}, err
	}

	row := q.store.db.QueryRowContext(ctx, `
		insert into requests(id, requester_id, document_name, receiver_email, file_path, status)
		values ($1,$2,$3,$4,nullif($5,''),'pending')
		returning `+requestCols,
		ids.New(), requesterID, in.DocumentName, auth.NormalizeEmail(in.ReceiverEmail), in.FilePath,
	)
	r, err := scanRequest(row)
	if err != nil {
		return dispatch.Request{}, unavailable("create request", err)
	}
	return r, nil
}

func (q *Requests) Get(ctx context.Context, actor auth.Principal, id string) (dispatch.Request, error) {
	row := q.store.db.QueryRowContext(ctx,
		`select `+requestCols+` from requests where id=$1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, fmt.Errorf("%w: request %s", dispatch.ErrNotFound, id)
	}
	if err != nil {
		return dispatch.Request{}, unavailable("get request", err)
	}
	if !dispatch.VisibleTo(actor, r) {
		// Invisible rows read as missing so existence does not leak.
		return dispatch.Request{}, fmt.Errorf("%w: request %s", dispatch.ErrNotFound, id)
	}
	return r, nil
}

// ListVisibleTo runs the role filter in SQL; this is the authoritative
// enforcement, any client-side filtering is advisory only. The admin
// query is the privileged listing with the requester profile joined in.
func (q *Requests) ListVisibleTo(ctx context.Context, actor auth.Principal) ([]dispatch.Request, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch actor.Role {
	case auth.RoleAdmin:
		rows, err = q.store.db.QueryContext(ctx, `
			select r.id, r.created_at, r.updated_at, r.requester_id, r.document_name,
				r.receiver_email, coalesce(r.file_path,''), r.status,
				coalesce(r.tracking_number,''), coalesce(r.admin_feedback,''),
				coalesce(r.shipping_vendor,''), r.is_delivered, coalesce(r.approved_by,''),
				coalesce(p.full_name,''), coalesce(p.department,'')
			from requests r
			left join profiles p on p.id = r.requester_id
			order by r.created_at desc`)
	case auth.RoleRequester:
		rows, err = q.store.db.QueryContext(ctx, `
			select `+requestCols+` from requests
			where requester_id=$1
			order by created_at desc`, actor.ID)
	case auth.RoleReceiver:
		rows, err = q.store.db.QueryContext(ctx, `
			select `+requestCols+` from requests
			where receiver_email=$1 and status in ('approved','completed')
			order by created_at desc`, auth.NormalizeEmail(actor.Email))
	default:
		return nil, fmt.Errorf("%w: unknown role %q", dispatch.ErrUnauthorized, actor.Role)
	}
	if err != nil {
		return nil, unavailable("list requests", err)
	}
	defer rows.Close()

	joined := actor.Role == auth.RoleAdmin
	var res []dispatch.Request
	for rows.Next() {
		var r dispatch.Request
		var scanErr error
		if joined {
			scanErr = rows.Scan(
				&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.RequesterID, &r.DocumentName,
				&r.ReceiverEmail, &r.FilePath, &r.Status, &r.TrackingNumber,
				&r.AdminFeedback, &r.ShippingVendor, &r.IsDelivered, &r.ApprovedBy,
				&r.RequesterName, &r.RequesterDepartment,
			)
		} else {
			r, scanErr = scanRequest(rows)
		}
		if scanErr != nil {
			return nil, unavailable("scan request", scanErr)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list requests", err)
	}
	return res, nil
}

func (q *Requests) Update(ctx context.Context, actor auth.Principal, id string, in dispatch.UpdateInput) (dispatch.Request, error) {
	if err := dispatch.ValidateUpdate(in); err != nil {
		return dispatch.Request{}, err
	}
	if actor.Role != auth.RoleRequester {
		return dispatch.Request{}, fmt.Errorf("%w: only the owning requester may modify this request", dispatch.ErrUnauthorized)
	}

	row := q.store.db.QueryRowContext(ctx, `
		update requests
		set document_name = coalesce($3, document_name),
			receiver_email = coalesce($4, receiver_email),
			file_path = coalesce($5, file_path),
			updated_at = now()
		where id=$1 and requester_id=$2 and status in ('pending','rework')
		returning `+requestCols,
		id, actor.ID, in.DocumentName, normalizedEmail(in.ReceiverEmail), in.FilePath,
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, q.diagnoseOwned(ctx, actor, id, "pending or rework")
	}
	if err != nil {
		return dispatch.Request{}, unavailable("update request", err)
	}
	return r, nil
}

func (q *Requests) Approve(ctx context.Context, actor auth.Principal, id, trackingNumber, shippingVendor string) (dispatch.Request, error) {
	if err := dispatch.ValidateTracking(trackingNumber); err != nil {
		return dispatch.Request{}, err
	}
	if err := dispatch.GuardAdmin(actor); err != nil {
		return dispatch.Request{}, err
	}

	row := q.store.db.QueryRowContext(ctx, `
		update requests
		set status='approved', tracking_number=$2, shipping_vendor=nullif($3,''),
			approved_by=$4, updated_at=now()
		where id=$1 and status='pending'
		returning `+requestCols,
		id, trackingNumber, shippingVendor, actor.ID,
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, q.diagnoseTransition(ctx, id, dispatch.ActionApprove)
	}
	if err != nil {
		return dispatch.Request{}, unavailable("approve request", err)
	}
	return r, nil
}

func (q *Requests) Reject(ctx context.Context, actor auth.Principal, id, feedback string) (dispatch.Request, error) {
	if err := dispatch.ValidateFeedback(feedback); err != nil {
		return dispatch.Request{}, err
	}
	if err := dispatch.GuardAdmin(actor); err != nil {
		return dispatch.Request{}, err
	}

	row := q.store.db.QueryRowContext(ctx, `
		update requests
		set status='rejected', admin_feedback=$2, approved_by=$3, updated_at=now()
		where id=$1 and status='pending'
		returning `+requestCols,
		id, feedback, actor.ID,
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, q.diagnoseTransition(ctx, id, dispatch.ActionReject)
	}
	if err != nil {
		return dispatch.Request{}, unavailable("reject request", err)
	}
	return r, nil
}

func (q *Requests) RequestRework(ctx context.Context, actor auth.Principal, id, feedback string) (dispatch.Request, error) {
	if err := dispatch.ValidateFeedback(feedback); err != nil {
		return dispatch.Request{}, err
	}
	if err := dispatch.GuardAdmin(actor); err != nil {
		return dispatch.Request{}, err
	}

	row := q.store.db.QueryRowContext(ctx, `
		update requests
		set status='rework', admin_feedback=$2, updated_at=now()
		where id=$1 and status='pending'
		returning `+requestCols,
		id, feedback,
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, q.diagnoseTransition(ctx, id, dispatch.ActionRework)
	}
	if err != nil {
		return dispatch.Request{}, unavailable("request rework", err)
	}
	return r, nil
}

func (q *Requests) Resubmit(ctx context.Context, actor auth.Principal, id string, in dispatch.UpdateInput) (dispatch.Request, error) {
	if err := dispatch.ValidateUpdate(in); err != nil {
		return dispatch.Request{}, err
	}
	if actor.Role != auth.RoleRequester {
		return dispatch.Request{}, fmt.Errorf("%w: only the owning requester may resubmit", dispatch.ErrUnauthorized)
	}

	// Resubmission clears the previous round's feedback.
	row := q.store.db.QueryRowContext(ctx, `
		update requests
		set status='pending', admin_feedback=null,
			document_name = coalesce($3, document_name),
			receiver_email = coalesce($4, receiver_email),
			file_path = coalesce($5, file_path),
			updated_at = now()
		where id=$1 and requester_id=$2 and status='rework'
		returning `+requestCols,
		id, actor.ID, in.DocumentName, normalizedEmail(in.ReceiverEmail), in.FilePath,
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, q.diagnoseOwned(ctx, actor, id, "rework")
	}
	if err != nil {
		return dispatch.Request{}, unavailable("resubmit request", err)
	}
	return r, nil
}

func (q *Requests) ConfirmDelivery(ctx context.Context, actor auth.Principal, id string) (dispatch.Request, error) {
	if actor.Role != auth.RoleReceiver {
		return dispatch.Request{}, fmt.Errorf("%w: only the addressed receiver may confirm delivery", dispatch.ErrUnauthorized)
	}

	row := q.store.db.QueryRowContext(ctx, `
		update requests
		set status='completed', is_delivered=true, updated_at=now()
		where id=$1 and receiver_email=$2 and status='approved'
		returning `+requestCols,
		id, auth.NormalizeEmail(actor.Email),
	)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Request{}, q.diagnoseDelivery(ctx, actor, id)
	}
	if err != nil {
		return dispatch.Request{}, unavailable("confirm delivery", err)
	}
	return r, nil
}

// diagnoseTransition turns a zero-row CAS update into the precise
// failure: missing row or status precondition lost.
func (q *Requests) diagnoseTransition(ctx context.Context, id string, action dispatch.Action) error {
	var status dispatch.Status
	err := q.store.db.QueryRowContext(ctx, `select status from requests where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: request %s", dispatch.ErrNotFound, id)
	}
	if err != nil {
		return unavailable("diagnose transition", err)
	}
	required, _ := dispatch.RequiredStatus(action)
	return fmt.Errorf("%w: %s requires status %q, have %q", dispatch.ErrInvalidTransition, action, required, status)
}

func (q *Requests) diagnoseOwned(ctx context.Context, actor auth.Principal, id, wantStatus string) error {
	var requesterID string
	var status dispatch.Status
	err := q.store.db.QueryRowContext(ctx,
		`select requester_id, status from requests where id=$1`, id).Scan(&requesterID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: request %s", dispatch.ErrNotFound, id)
	}
	if err != nil {
		return unavailable("diagnose update", err)
	}
	if requesterID != actor.ID {
		return fmt.Errorf("%w: only the owning requester may modify this request", dispatch.ErrUnauthorized)
	}
	return fmt.Errorf("%w: edits require status %s, have %q", dispatch.ErrInvalidTransition, wantStatus, status)
}

func (q *Requests) diagnoseDelivery(ctx context.Context, actor auth.Principal, id string) error {
	var receiverEmail string
	var status dispatch.Status
	err := q.store.db.QueryRowContext(ctx,
		`select receiver_email, status from requests where id=$1`, id).Scan(&receiverEmail, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: request %s", dispatch.ErrNotFound, id)
	}
	if err != nil {
		return unavailable("diagnose delivery", err)
	}
	if auth.NormalizeEmail(receiverEmail) != auth.NormalizeEmail(actor.Email) {
		return fmt.Errorf("%w: only the addressed receiver may confirm delivery", dispatch.ErrUnauthorized)
	}
	return fmt.Errorf("%w: deliver requires status %q, have %q", dispatch.ErrInvalidTransition, dispatch.StatusApproved, status)
}

// normalizedEmail lowers an optional email, preserving nil-ness for the
// coalesce in the UPDATE.
func normalizedEmail(email *string) *string {
	if email == nil {
		return nil
	}
	normalized := auth.NormalizeEmail(*email)
	return &normalized
}
