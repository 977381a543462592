package memory

import (
	"context"
	"time"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
)

type usersRepo struct{ s *Store }

func (r *usersRepo) conflict(d *data, u *domain.User) error {
	for id, other := range d.users {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username {
			return &repo.DuplicateError{Field: "username"}
		}
		if other.Email == u.Email {
			return &repo.DuplicateError{Field: "email"}
		}
	}
	return nil
}

func (r *usersRepo) Create(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	if _, ok := d.users[u.ID]; ok {
		return &repo.DuplicateError{Field: "id"}
	}
	if err := r.conflict(d, u); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	d.users[u.ID] = *u
	return nil
}

func (r *usersRepo) find(ctx context.Context, match func(domain.User) bool) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.s.lock()()
	for _, u := range r.s.sh.d.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *usersRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(ctx, func(u domain.User) bool { return u.ID == id })
}

func (r *usersRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(ctx, func(u domain.User) bool { return u.Username == username })
}

func (r *usersRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(ctx, func(u domain.User) bool { return u.Email == email })
}

func (r *usersRepo) Update(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	cur, ok := d.users[u.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if err := r.conflict(d, u); err != nil {
		return err
	}
	cur.Username = u.Username
	cur.Email = u.Email
	cur.EmailVerified = u.EmailVerified
	cur.PasswordHash = u.PasswordHash
	cur.UpdatedAt = time.Now().UTC()
	d.users[u.ID] = cur
	u.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *usersRepo) modify(ctx context.Context, id string, fn func(*domain.User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	u, ok := r.s.sh.d.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	r.s.sh.d.users[id] = u
	return nil
}

func (r *usersRepo) SetEmailVerified(ctx context.Context, id string) error {
	return r.modify(ctx, id, func(u *domain.User) { u.EmailVerified = true })
}

func (r *usersRepo) SetPassword(ctx context.Context, id, hash string) error {
	return r.modify(ctx, id, func(u *domain.User) { u.PasswordHash = hash })
}
