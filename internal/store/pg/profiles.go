package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"doctrack.org/internal/auth"
	"doctrack.org/internal/ids"
	"doctrack.org/internal/profile"
)

// Profiles implements profile.Store over PostgreSQL.
type Profiles struct {
	store *Store
}

var _ profile.Store = (*Profiles)(nil)

// Profiles returns the profile accessor.
func (s *Store) Profiles() *Profiles { return &Profiles{store: s} }

const profileCols = `id, full_name, email, role, coalesce(company,''),
	coalesce(department,''), coalesce(division,''), coalesce(employee_id,''),
	coalesce(avatar_url,''), is_active, password_hash, created_at, updated_at`

func scanProfile(row rowScanner) (*profile.Profile, error) {
	var p profile.Profile
	err := row.Scan(
		&p.ID, &p.FullName, &p.Email, &p.Role, &p.Company,
		&p.Department, &p.Division, &p.EmployeeID,
		&p.AvatarURL, &p.IsActive, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (q *Profiles) Create(ctx context.Context, p *profile.Profile) error {
	if p == nil || p.FullName == "" || !auth.ValidRole(p.Role) {
		return profile.ErrInvalidInput
	}
	email := auth.NormalizeEmail(p.Email)
	if email == "" {
		return profile.ErrInvalidInput
	}
	if p.ID == "" {
		p.ID = ids.New()
	}

	row := q.store.db.QueryRowContext(ctx, `
		insert into profiles(id, full_name, email, role, company, department,
			division, employee_id, avatar_url, is_active, password_hash)
		values ($1,$2,$3,$4,nullif($5,''),nullif($6,''),nullif($7,''),
			nullif($8,''),nullif($9,''),$10,$11)
		returning created_at, updated_at`,
		p.ID, p.FullName, email, p.Role, p.Company, p.Department,
		p.Division, p.EmployeeID, p.AvatarURL, p.IsActive, p.PasswordHash,
	)
	var createdAt, updatedAt time.Time
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		if isUniqueViolation(err) {
			return profile.ErrAlreadyExists
		}
		return fmt.Errorf("create profile: %w", err)
	}
	p.Email = email
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return nil
}

func (q *Profiles) Find(ctx context.Context, id string) (*profile.Profile, error) {
	row := q.store.db.QueryRowContext(ctx,
		`select `+profileCols+` from profiles where id=$1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return p, nil
}

func (q *Profiles) FindByEmail(ctx context.Context, email string) (*profile.Profile, error) {
	row := q.store.db.QueryRowContext(ctx,
		`select `+profileCols+` from profiles where email=$1`, auth.NormalizeEmail(email))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile by email: %w", err)
	}
	return p, nil
}

func (q *Profiles) List(ctx context.Context) ([]*profile.Profile, error) {
	rows, err := q.store.db.QueryContext(ctx,
		`select `+profileCols+` from profiles order by created_at`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []*profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// Update builds a dynamic SET list from the non-nil fields. With no
// changes requested it degenerates to a Find.
func (q *Profiles) Update(ctx context.Context, id string, upd profile.Update) (*profile.Profile, error) {
	if upd.Role != nil && !auth.ValidRole(*upd.Role) {
		return nil, profile.ErrInvalidInput
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.FullName != nil {
		add("full_name", *upd.FullName)
	}
	if upd.Company != nil {
		add("company", nullIfEmpty(*upd.Company))
	}
	if upd.Department != nil {
		add("department", nullIfEmpty(*upd.Department))
	}
	if upd.Division != nil {
		add("division", nullIfEmpty(*upd.Division))
	}
	if upd.EmployeeID != nil {
		add("employee_id", nullIfEmpty(*upd.EmployeeID))
	}
	if upd.AvatarURL != nil {
		add("avatar_url", nullIfEmpty(*upd.AvatarURL))
	}
	if upd.Role != nil {
		add("role", *upd.Role)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.Password != nil {
		add("password_hash", *upd.Password)
	}

	row := q.store.db.QueryRowContext(ctx,
		`update profiles set `+strings.Join(sets, ", ")+` where id=$1 returning `+profileCols,
		args...,
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
