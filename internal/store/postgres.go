package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"credential-service/internal/auth"
)

const uniqueViolation = "23505"

// Postgres is a UserStore over the users table. Open the *sql.DB with the pgx
// stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Find(ctx context.Context, email string) (auth.UserRecord, error) {
	var user auth.UserRecord
	var lastLogin sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, last_login
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.Secret, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.UserRecord{}, auth.ErrUserNotFound
		}
		return auth.UserRecord{}, fmt.Errorf("query user by email: %w", err)
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLogin = &value
	}

	return user, nil
}

func (p *Postgres) Create(ctx context.Context, user auth.UserRecord) error {
	now := time.Now().UTC()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, user.ID, user.Email, user.Name, user.Secret, nullTime(user.LastLogin), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (p *Postgres) Update(ctx context.Context, user auth.UserRecord) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, password_hash = $3, last_login = $4, updated_at = $5
		WHERE email = $1
	`, user.Email, user.Name, user.Secret, nullTime(user.LastLogin), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if affected == 0 {
		return auth.ErrUserNotFound
	}

	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
