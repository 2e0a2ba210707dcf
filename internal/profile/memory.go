package profile

import (
	"context"
	"sync"
	"time"

	"doctrack.org/internal/auth"
	"doctrack.org/internal/ids"
)

// MemoryStore implements Store with in-process locking.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Profile
	byEmail map[string]string // normalized email -> id
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Profile),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, p *Profile) error {
	if p == nil || p.FullName == "" || !auth.ValidRole(p.Role) {
		return ErrInvalidInput
	}
	email := auth.NormalizeEmail(p.Email)
	if email == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.Email = email
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.byID[p.ID] = &cp
	s.byEmail[email] = p.ID
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.byID))
	for _, p := range s.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, upd Update) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Role != nil && !auth.ValidRole(*upd.Role) {
		return nil, ErrInvalidInput
	}
	applyUpdate(p, upd)
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func applyUpdate(p *Profile, upd Update) {
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Company != nil {
		p.Company = *upd.Company
	}
	if upd.Department != nil {
		p.Department = *upd.Department
	}
	if upd.Division != nil {
		p.Division = *upd.Division
	}
	if upd.EmployeeID != nil {
		p.EmployeeID = *upd.EmployeeID
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	if upd.Role != nil {
		p.Role = *upd.Role
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	if upd.Password != nil {
		p.PasswordHash = *upd.Password
	}
}
