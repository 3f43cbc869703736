// Package repository declares the storage contracts of the identity core.
// The sqlite subpackage is the production implementation.
package repository

import (
	"context"

	"github.com/tripease/identity/internal/model"
)

// IdentityRepository persists Identity rows. Emails are compared in their
// normalized form (model.NormalizeEmail).
//
// Errors:
//   - Create / Update return apperror.ErrDuplicateEmail when another row owns the email
//   - Get*, Update and Delete return apperror.ErrNotFound for a missing row
type IdentityRepository interface {
	// Create inserts identity and fills in ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, identity *model.Identity) error
	GetByID(ctx context.Context, id string) (*model.Identity, error)
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	// Update replaces every mutable column and bumps UpdatedAt.
	Update(ctx context.Context, identity *model.Identity) error
	Delete(ctx context.Context, id string) error
}
