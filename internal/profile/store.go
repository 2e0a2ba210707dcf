package profile

import "context"

// Store describes persistence operations for profiles. Postgres backs
// production; MemoryStore backs tests and local development.
type Store interface {
	Create(ctx context.Context, p *Profile) error
	Find(ctx context.Context, id string) (*Profile, error)
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	Update(ctx context.Context, id string, upd Update) (*Profile, error)
}
