package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"doctrack.org/internal/audit"
	"doctrack.org/internal/dispatch"
	"doctrack.org/internal/notify"
	"doctrack.org/internal/obs"
)

type createRequestBody struct {
	RequesterID   string `json:"requester_id"`
	DocumentName  string `json:"document_name"`
	ReceiverEmail string `json:"receiver_email"`
	FilePath      string `json:"file_path"`
}

type approveBody struct {
	TrackingNumber string `json:"tracking_number"`
	ShippingVendor string `json:"shipping_vendor"`
}

type feedbackBody struct {
	AdminFeedback string `json:"admin_feedback"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRequests(w, r)
	case http.MethodPost:
		a.createRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRequestResource routes /v1/requests/{id} and
// /v1/requests/{id}/{action}.
func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	if path == "" || strings.Count(path, "/") > 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, action, hasAction := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if !hasAction {
		switch r.Method {
		case http.MethodGet:
			a.getRequest(w, r, id)
		case http.MethodPatch:
			a.updateRequest(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	switch action {
	case "approve":
		a.approveRequest(w, r, id)
	case "reject":
		a.rejectRequest(w, r, id)
	case "rework":
		a.reworkRequest(w, r, id)
	case "resubmit":
		a.resubmitRequest(w, r, id)
	case "deliver":
		a.deliverRequest(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req, err := a.requests.Create(r.Context(), actor, strings.TrimSpace(body.RequesterID), dispatch.CreateInput{
		DocumentName:  strings.TrimSpace(body.DocumentName),
		ReceiverEmail: body.ReceiverEmail,
		FilePath:      strings.TrimSpace(body.FilePath),
	})
	if err != nil {
		handleDispatchError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "request.create", map[string]any{
		"request_id":     req.ID,
		"requester_id":   req.RequesterID,
		"receiver_email": req.ReceiverEmail,
	})
	a.publish(notify.EventCreated, req)

	w.Header().Set("Location", "/v1/requests/"+req.ID)
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	items, err := a.requests.ListVisibleTo(r.Context(), actor)
	if err != nil {
		handleDispatchError(w, r, err)
		return
	}
	if items == nil {
		items = []dispatch.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	req, err := a.requests.Get(r.Context(), actor, id)
	if err != nil {
		handleDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) updateRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var in dispatch.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.requests.Update(r.Context(), actor, id, in)
	if err != nil {
		handleDispatchError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.update", map[string]any{
		"request_id": req.ID,
	})
	writeJSON(w, http.StatusOK, req)
}

func (a *API) approveRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var body approveBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.requests.Approve(r.Context(), actor, id,
		strings.TrimSpace(body.TrackingNumber), strings.TrimSpace(body.ShippingVendor))
	a.finishTransition(w, r, dispatch.ActionApprove, notify.EventApproved, req, err, map[string]any{
		"request_id":      id,
		"tracking_number": strings.TrimSpace(body.TrackingNumber),
	})
}

func (a *API) rejectRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var body feedbackBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.requests.Reject(r.Context(), actor, id, strings.TrimSpace(body.AdminFeedback))
	a.finishTransition(w, r, dispatch.ActionReject, notify.EventRejected, req, err, map[string]any{
		"request_id": id,
	})
}

func (a *API) reworkRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var body feedbackBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.requests.RequestRework(r.Context(), actor, id, strings.TrimSpace(body.AdminFeedback))
	a.finishTransition(w, r, dispatch.ActionRework, notify.EventRework, req, err, map[string]any{
		"request_id": id,
	})
}

func (a *API) resubmitRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	var in dispatch.UpdateInput
	if err := decodeJSONAllowEmpty(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.requests.Resubmit(r.Context(), actor, id, in)
	a.finishTransition(w, r, dispatch.ActionResubmit, notify.EventResubmitted, req, err, map[string]any{
		"request_id": id,
	})
}

func (a *API) deliverRequest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principalOr401(w, r)
	if !ok {
		return
	}
	req, err := a.requests.ConfirmDelivery(r.Context(), actor, id)
	a.finishTransition(w, r, dispatch.ActionDeliver, notify.EventDelivered, req, err, map[string]any{
		"request_id": id,
	})
}

// finishTransition is the shared tail of the five lifecycle endpoints:
// record the metric, write the error or the row, audit and notify on
// success.
func (a *API) finishTransition(w http.ResponseWriter, r *http.Request, action dispatch.Action, kind notify.EventKind, req dispatch.Request, err error, fields map[string]any) {
	if err != nil {
		obs.ObserveTransition(string(action), transitionOutcome(err))
		handleDispatchError(w, r, err)
		return
	}
	obs.ObserveTransition(string(action), "ok")
	fields["status"] = string(req.Status)
	_ = audit.LogEvent(r.Context(), "request."+string(action), fields)
	a.publish(kind, req)
	writeJSON(w, http.StatusOK, req)
}

func transitionOutcome(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		return "invalid"
	case errors.Is(err, dispatch.ErrUnauthorized):
		return "denied"
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return "conflict"
	case errors.Is(err, dispatch.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func handleDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, dispatch.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeJSONAllowEmpty is decodeJSON for endpoints where the body is
// optional (resubmit without edits).
func decodeJSONAllowEmpty(w http.ResponseWriter, r *http.Request, dst any) error {
	err := decodeJSON(w, r, dst)
	if err != nil && err.Error() == "request body is required" {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
