package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/model"
	"github.com/tripease/identity/internal/repository"
)

// compile-time check that *DB implements repository.IdentityRepository
var _ repository.IdentityRepository = (*DB)(nil)

const identityColumns = `id, email, password_hash, first_name, last_name, phone,
	is_staff, is_superuser, external_id, created_at, updated_at`

// Create inserts a new identity. The ID and timestamps are generated here
// and written back into identity.
func (db *DB) Create(ctx context.Context, identity *model.Identity) error {
	now := time.Now().UTC()
	identity.ID = xid.New().String()
	identity.Email = model.NormalizeEmail(identity.Email)
	identity.CreatedAt = now
	identity.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.FirstName,
		identity.LastName,
		identity.Phone,
		identity.IsStaff,
		identity.IsSuperuser,
		identity.ExternalID,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateEmail(identity.Email)
		}
		return fmt.Errorf("sqlite: inserting identity (email=%s): %w", identity.Email, err)
	}

	return nil
}

// GetByID retrieves an identity by its internal ID.
// Returns apperror.ErrNotFound if no identity exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)

	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", id)
		}
		return nil, fmt.Errorf("sqlite: getting identity %s: %w", id, err)
	}
	return identity, nil
}

// GetByEmail retrieves an identity by its normalized email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	email = model.NormalizeEmail(email)
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)

	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", email)
		}
		return nil, fmt.Errorf("sqlite: getting identity by email: %w", err)
	}
	return identity, nil
}

// Update replaces the mutable columns of an existing identity and bumps
// updated_at. CreatedAt is never changed.
func (db *DB) Update(ctx context.Context, identity *model.Identity) error {
	identity.Email = model.NormalizeEmail(identity.Email)
	updatedAt := time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE identities
		 SET email = ?, password_hash = ?, first_name = ?, last_name = ?, phone = ?,
		     is_staff = ?, is_superuser = ?, external_id = ?, updated_at = ?
		 WHERE id = ?`,
		identity.Email,
		identity.PasswordHash,
		identity.FirstName,
		identity.LastName,
		identity.Phone,
		identity.IsStaff,
		identity.IsSuperuser,
		identity.ExternalID,
		updatedAt,
		identity.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateEmail(identity.Email)
		}
		return fmt.Errorf("sqlite: updating identity %s: %w", identity.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("identity", identity.ID)
	}

	identity.UpdatedAt = updatedAt
	return nil
}

// Delete removes an identity by ID.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting identity %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("identity", id)
	}
	return nil
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var i model.Identity
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.FirstName,
		&i.LastName,
		&i.Phone,
		&i.IsStaff,
		&i.IsSuperuser,
		&i.ExternalID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
