package memory

import (
	"context"
	"time"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
)

type refreshRepo struct{ s *Store }

func (r *refreshRepo) Create(ctx context.Context, t *domain.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	if _, ok := d.refresh[t.ID]; ok {
		return &repo.DuplicateError{Field: "id"}
	}
	for _, other := range d.refresh {
		if other.FamilyID == t.FamilyID && other.Version == t.Version {
			return &repo.DuplicateError{Field: "version"}
		}
	}
	t.CreatedAt = time.Now().UTC()
	d.refresh[t.ID] = *t
	return nil
}

func (r *refreshRepo) GetForUpdate(ctx context.Context, id string) (*domain.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.s.lock()()
	t, ok := r.s.sh.d.refresh[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (r *refreshRepo) LatestVersion(ctx context.Context, familyID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.s.lock()()
	latest := 0
	for _, t := range r.s.sh.d.refresh {
		if t.FamilyID == familyID && t.Version > latest {
			latest = t.Version
		}
	}
	return latest, nil
}

func (r *refreshRepo) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	if t, ok := r.s.sh.d.refresh[id]; ok {
		t.Revoked = true
		r.s.sh.d.refresh[id] = t
	}
	return nil
}

func (r *refreshRepo) revokeMatching(ctx context.Context, match func(domain.RefreshToken) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.sh.d.refresh {
		if !t.Revoked && match(t) {
			t.Revoked = true
			r.s.sh.d.refresh[id] = t
			n++
		}
	}
	return n, nil
}

func (r *refreshRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return r.revokeMatching(ctx, func(t domain.RefreshToken) bool { return t.FamilyID == familyID })
}

func (r *refreshRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revokeMatching(ctx, func(t domain.RefreshToken) bool { return t.UserID == userID })
}

func (r *refreshRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.sh.d.refresh {
		if t.ExpiresAt.Before(before) {
			delete(r.s.sh.d.refresh, id)
			n++
		}
	}
	return n, nil
}

type emailRepo struct{ s *Store }

func (r *emailRepo) Create(ctx context.Context, t *domain.EmailToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	if _, ok := r.s.sh.d.emailTokens[t.ID]; ok {
		return &repo.DuplicateError{Field: "id"}
	}
	t.CreatedAt = time.Now().UTC()
	r.s.sh.d.emailTokens[t.ID] = *t
	return nil
}

func (r *emailRepo) GetForUpdate(ctx context.Context, id string, kind domain.EmailTokenKind) (*domain.EmailToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.s.lock()()
	t, ok := r.s.sh.d.emailTokens[id]
	if !ok || t.Kind != kind {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (r *emailRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer r.s.lock()()
	t, ok := r.s.sh.d.emailTokens[id]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	r.s.sh.d.emailTokens[id] = t
	return true, nil
}

func (r *emailRepo) InvalidateForUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.sh.d.emailTokens {
		if t.UserID == userID && !t.Used {
			t.Used = true
			r.s.sh.d.emailTokens[id] = t
			n++
		}
	}
	return n, nil
}

func (r *emailRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.s.lock()()
	var n int64
	for id, t := range r.s.sh.d.emailTokens {
		if t.Used || t.ExpiresAt.Before(before) {
			delete(r.s.sh.d.emailTokens, id)
			n++
		}
	}
	return n, nil
}

type attemptsRepo struct{ s *Store }

func (r *attemptsRepo) Record(ctx context.Context, a *domain.LoginAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	a.CreatedAt = time.Now().UTC()
	r.s.sh.d.attempts = append(r.s.sh.d.attempts, *a)
	return nil
}

func (r *attemptsRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer r.s.lock()()
	kept := r.s.sh.d.attempts[:0]
	var n int64
	for _, a := range r.s.sh.d.attempts {
		if a.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.sh.d.attempts = kept
	return n, nil
}
