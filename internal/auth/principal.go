package auth

import "strings"

// Roles recognised by the service. A profile holds exactly one.
const (
	RoleAdmin     = "admin"
	RoleRequester = "requester"
	RoleReceiver  = "receiver"
)

// Principal is the acting identity resolved from a verified token.
// Every dispatch operation takes it explicitly; nothing reads it from
// ambient state.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
}

// IsAdmin reports whether the principal may use privileged operations.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// ValidRole reports whether role is one of the recognised role names.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleRequester, RoleReceiver:
		return true
	}
	return false
}

// NormalizeEmail lower-cases and trims an email for comparisons. Receiver
// visibility matches on the normalized form.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
