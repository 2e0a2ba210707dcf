package dispatch

import "doctrack.org/internal/auth"

// VisibleTo reports whether a principal may see a request:
// admins see everything, requesters see their own rows, receivers see
// approved (or completed) rows addressed to their email. A receiver never
// sees a request before it is ready to ship.
//
// The store-side listing queries implement the same predicate in SQL;
// that enforcement is authoritative. This function backs the in-memory
// service and Get, and is never the only barrier in front of data.
func VisibleTo(p auth.Principal, r Request) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleRequester:
		return r.RequesterID == p.ID
	case auth.RoleReceiver:
		if auth.NormalizeEmail(r.ReceiverEmail) != auth.NormalizeEmail(p.Email) {
			return false
		}
		return r.Status == StatusApproved || r.Status == StatusCompleted
	}
	return false
}

// FilterVisible returns the subset of requests visible to the principal.
func FilterVisible(p auth.Principal, reqs []Request) []Request {
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if VisibleTo(p, r) {
			out = append(out, r)
		}
	}
	return out
}
