// README: System-user store: lookups by username/vencode, notification fan-out lists.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/modules/carrier"
)

var ErrNotFound = errors.New("user not found")

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const userSelect = `
	SELECT u.id, u.username, u.role, COALESCE(u.display_name, ''), u.is_active,
	       u.vencode_ref, v.grade, u.fcm_token, u.created_at, u.updated_at
	FROM system_users u
	LEFT JOIN mvendor v ON v.vencode = u.vencode_ref`

func scanUser(row pgx.Row) (*SystemUser, error) {
	var u SystemUser
	var grade *string
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.DisplayName, &u.Active,
		&u.VencodeRef, &grade, &u.FCMToken, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if grade != nil {
		g := carrier.Grade(*grade)
		u.Grade = &g
	}
	return &u, nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*SystemUser, error) {
	return scanUser(s.db.QueryRow(ctx, userSelect+` WHERE u.username = $1`, username))
}

func (s *Store) GetByVencode(ctx context.Context, vencode string) (*SystemUser, error) {
	return scanUser(s.db.QueryRow(ctx, userSelect+` WHERE u.vencode_ref = $1`, vencode))
}

func (s *Store) listUsers(ctx context.Context, where string, args ...any) ([]SystemUser, error) {
	rows, err := s.db.Query(ctx, userSelect+` `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SystemUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// ListVendorsByGrade returns active vendor users of one grade, for targeted
// notification fan-out.
func (s *Store) ListVendorsByGrade(ctx context.Context, grade carrier.Grade) ([]SystemUser, error) {
	return s.listUsers(ctx,
		`WHERE u.role = 'vendor' AND u.is_active = TRUE AND v.grade = $1 ORDER BY u.username`,
		string(grade))
}

// ListVendors returns every active vendor user.
func (s *Store) ListVendors(ctx context.Context) ([]SystemUser, error) {
	return s.listUsers(ctx,
		`WHERE u.role = 'vendor' AND u.is_active = TRUE ORDER BY u.username`)
}

// ListDispatchers returns active dispatchers and admins.
func (s *Store) ListDispatchers(ctx context.Context) ([]SystemUser, error) {
	return s.listUsers(ctx,
		`WHERE u.role IN ('dispatcher', 'admin') AND u.is_active = TRUE ORDER BY u.username`)
}

func (s *Store) UpdateFCMToken(ctx context.Context, username, token string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE system_users SET fcm_token = $1, updated_at = $2 WHERE username = $3`,
		token, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
