package repository

import (
	"context"
	"database/sql"
	"time"
)

// TokenRepo persists renewable credentials. A credential is valid only while
// its row exists and is unexpired; signature checks alone cannot revoke, the
// store check can.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Store inserts a renewable-credential row for the user.
func (r *TokenRepo) Store(ctx context.Context, userID uint64, token string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES (?,?,?)",
		userID, token, exp)
	return err
}

// Validate confirms the presented token is present, unexpired and owned by
// the claimed user. Every failure is ErrInvalidToken; a store-absent token
// must read the same as a forged one.
func (r *TokenRepo) Validate(ctx context.Context, userID uint64, token string) error {
	var id uint64
	err := r.DB.QueryRowContext(ctx,
		"SELECT id FROM refresh_tokens WHERE token=? AND user_id=? AND expires_at > UTC_TIMESTAMP() LIMIT 1",
		token, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrInvalidToken
	}
	return err
}

// Delete removes one credential row (logout of a single session). Reports
// whether a row actually died so the caller can reject unknown tokens.
func (r *TokenRepo) Delete(ctx context.Context, token string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE token=?", token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAllForUser removes every credential of the user (logout everywhere).
func (r *TokenRepo) DeleteAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=?", userID)
	return err
}

// Rotate retires oldToken and persists newToken as one unit of work. The
// delete is conditioned on the old row still existing and being unexpired,
// so concurrent rotations of the same token produce exactly one winner: the
// first deleter. Everyone else gets ErrInvalidToken. There is no window in
// which both tokens are valid, and none in which neither is after success.
func (r *TokenRepo) Rotate(ctx context.Context, userID uint64, oldToken, newToken string, newExp time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE token=? AND user_id=? AND expires_at > UTC_TIMESTAMP()",
		oldToken, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES (?,?,?)",
		userID, newToken, newExp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
