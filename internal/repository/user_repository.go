package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/clubops/training-ops/internal/model"
	"github.com/clubops/training-ops/internal/utils"
)

const userCols = "id, email, password_hash, first_name, last_name, phone, role, status, last_login, created_at, updated_at"

// UserRepo persists user accounts.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create hashes the password and inserts an active user. Role defaults to
// student when empty.
func (r *UserRepo) Create(ctx context.Context, email, password, firstName, lastName string, phone *string, role string, cost int) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if role == "" {
		role = model.RoleStudent
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, first_name, last_name, phone, role, status) VALUES (?,?,?,?,?,?,?)",
		email, hash, firstName, lastName, phone, role, model.UserActive)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userCols+" FROM users WHERE id=? LIMIT 1", id))
}

// UpdateProfile applies a partial profile update and returns the fresh row.
// Absent fields are untouched; a present null clears the phone.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, p model.UserPatch) (model.User, error) {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	if p.FirstName.Present() {
		sets = append(sets, "first_name=?")
		args = append(args, p.FirstName.Value())
	}
	if p.LastName.Present() {
		sets = append(sets, "last_name=?")
		args = append(args, p.LastName.Value())
	}
	if p.Phone.Present() {
		sets = append(sets, "phone=?")
		args = append(args, p.Phone.Value())
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}
	sets = append(sets, "updated_at=UTC_TIMESTAMP()")
	args = append(args, id)
	if _, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...); err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// ChangePassword swaps the password hash and deletes every renewable
// credential of the user in the same unit of work, forcing re-authentication
// on all devices. Already-issued access tokens keep working until their
// natural expiry.
func (r *UserRepo) ChangePassword(ctx context.Context, id uint64, newHash string) error {
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
		"UPDATE users SET password_hash=?, updated_at=UTC_TIMESTAMP() WHERE id=?", newHash, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=?", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// UpdateLastLogin stamps a successful login. Best-effort from the caller's
// point of view.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET last_login=UTC_TIMESTAMP() WHERE id=?", id)
	return err
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var (
		u         model.User
		phone     sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&phone, &u.Role, &u.Status, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if phone.Valid {
		u.Phone = &phone.String
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}
