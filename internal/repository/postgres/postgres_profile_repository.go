package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const (
	uniqueViolation     = "23505"
	phoneUniqueIndex    = "profiles_phone_key"
	profileSelectFields = `id, phone, balance, COALESCE(name, ''), COALESCE(email, ''), created_at, updated_at`
)

type PostgresProfileRepository struct {
	db *sql.DB
}

func NewPostgresProfileRepository(db *sql.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

func (r *PostgresProfileRepository) Create(ctx context.Context, profile *models.Profile) (err error) {
	if profile == nil {
		return pkgerrors.ErrNilProfile
	}
	ctx, done := startCall(ctx, "CreateProfile", attribute.String("profile_id", profile.ID.String()))
	defer func() { done(err) }()

	if profile.ID == uuid.Nil || profile.Phone == "" {
		err = fmt.Errorf("%w: profile id and phone are required", pkgerrors.ErrInvalidInput)
		return err
	}
	if profile.Balance < 0 {
		err = fmt.Errorf("%w: starting balance cannot be negative", pkgerrors.ErrInvalidAmount)
		return err
	}

	query := `
		INSERT INTO profiles (id, phone, balance, name, email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		profile.ID,
		profile.Phone,
		int64(profile.Balance),
		nullString(profile.Name),
		nullString(profile.Email),
	).Scan(&profile.CreatedAt, &profile.UpdatedAt)

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == phoneUniqueIndex {
			err = pkgerrors.ErrPhoneTaken
		} else {
			err = pkgerrors.ErrProfileExists
		}
		slog.Warn("profile already registered", "method", "Create", "profile_id", profile.ID, "constraint", pqErr.Constraint)
		return err
	}
	if err != nil {
		slog.Error("failed to create profile", "method", "Create", "profile_id", profile.ID, "error", err)
		err = fmt.Errorf("%w: failed to create profile: %w", pkgerrors.ErrPersistence, err)
		return err
	}

	slog.Info("profile created", "method", "Create", "profile_id", profile.ID, "balance", profile.Balance)
	return nil
}

func (r *PostgresProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (p *models.Profile, err error) {
	ctx, done := startCall(ctx, "GetProfileByID", attribute.String("profile_id", id.String()))
	defer func() { done(err) }()

	query := `SELECT ` + profileSelectFields + ` FROM profiles WHERE id = $1`
	p, err = r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrProfileNotFound) {
			slog.Error("failed to get profile by id", "method", "GetByID", "profile_id", id, "error", err)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresProfileRepository) GetByPhone(ctx context.Context, phone string) (p *models.Profile, err error) {
	ctx, done := startCall(ctx, "GetProfileByPhone")
	defer func() { done(err) }()

	if phone == "" {
		err = fmt.Errorf("%w: phone cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `SELECT ` + profileSelectFields + ` FROM profiles WHERE phone = $1`
	p, err = r.scanOne(r.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrProfileNotFound) {
			slog.Error("failed to get profile by phone", "method", "GetByPhone", "error", err)
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresProfileRepository) CompareAndSwapBalance(ctx context.Context, id uuid.UUID, expected, next money.Amount) (err error) {
	ctx, done := startCall(ctx, "CompareAndSwapBalance",
		attribute.String("profile_id", id.String()),
		attribute.Int64("expected", int64(expected)),
		attribute.Int64("next", int64(next)),
	)
	defer func() { done(err) }()

	query := `
		UPDATE profiles
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
		AND balance = $3
	`
	res, err := r.db.ExecContext(ctx, query, int64(next), id, int64(expected))
	if err != nil {
		slog.Error("failed to update balance", "method", "CompareAndSwapBalance", "profile_id", id, "error", err)
		err = fmt.Errorf("%w: failed to update balance: %w", pkgerrors.ErrPersistence, err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("%w: failed to read affected rows: %w", pkgerrors.ErrPersistence, err)
		return err
	}
	if n == 0 {
		slog.Warn("balance changed since it was read", "method", "CompareAndSwapBalance", "profile_id", id, "expected", expected)
		err = pkgerrors.ErrConflict
		return err
	}

	slog.Info("balance updated", "method", "CompareAndSwapBalance", "profile_id", id, "from", expected, "to", next)
	return nil
}

func (r *PostgresProfileRepository) scanOne(row *sql.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Phone, &p.Balance, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrProfileNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: failed to scan profile: %w", pkgerrors.ErrPersistence, err)
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
