package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
)

// columns maps record attributes to users table columns.
var columns = map[string]string{
	domain.AttrFirstName: "first_name",
	domain.AttrLastName:  "last_name",
	domain.AttrEmail:     "email",
	domain.AttrDOB:       "dob",
	domain.AttrStatus:    "status",
}

const selectUserColumns = `id, first_name, last_name, email, dob, status, created_at, updated_at`

// PostgresStore persists users in the users table created by migrations/001_users.up.sql.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

var _ UserStore = (*PostgresStore)(nil)

// NewPostgresStore creates a SQL-backed UserStore.
func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}

	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + selectUserColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		s.log.Error("failed to fetch user by id", slog.String("user_id", id), slog.Any("error", err))
		return nil, apperrors.NewStoreUnavailableError("get", err)
	}

	return user, nil
}

func (s *PostgresStore) GetBySecondaryKey(ctx context.Context, email, dob string) ([]*domain.User, error) {
	query := `SELECT ` + selectUserColumns + ` FROM users WHERE email = $1 AND dob = $2 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, email, dob)
	if err != nil {
		s.log.Error("failed to query users by secondary key", slog.Any("error", err))
		return nil, apperrors.NewStoreUnavailableError("query", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.NewCorruptRecordError("decode users", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("query", err)
	}

	return users, nil
}

func (s *PostgresStore) Put(ctx context.Context, user *domain.User) error {
	const query = `
		INSERT INTO users (id, first_name, last_name, email, dob, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			dob = EXCLUDED.dob,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Email,
		user.DOB,
		string(user.Status),
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		s.log.Error("failed to upsert user", slog.String("user_id", user.ID), slog.Any("error", err))
		return apperrors.NewStoreUnavailableError("put", err)
	}

	return nil
}

func (s *PostgresStore) UpdateFields(ctx context.Context, id string, fields map[string]string, updatedAt time.Time) error {
	query, args := buildUpdateStatement(id, fields, updatedAt)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Error("failed to update user", slog.String("user_id", id), slog.Any("error", err))
		return apperrors.NewStoreUnavailableError("update", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewStoreUnavailableError("update", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return sql.ErrConnDone
	}
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewStoreUnavailableError("ping", err)
	}
	return nil
}

// buildUpdateStatement writes only whitelisted columns; attribute names never reach the SQL text.
func buildUpdateStatement(id string, fields map[string]string, updatedAt time.Time) (string, []any) {
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)

	for _, name := range sortedKeys(fields) {
		column, ok := columns[name]
		if !ok {
			continue
		}
		args = append(args, fields[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	args = append(args, updatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user   domain.User
		status string
	)

	if err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.DOB,
		&status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Status = domain.Status(status)

	return &user, nil
}
