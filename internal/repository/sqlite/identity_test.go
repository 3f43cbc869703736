package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/model"
)

// newTestDB returns a fresh in-memory database, closed when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestIdentity creates an identity and fails the test if it errors.
func createTestIdentity(t *testing.T, db *DB, email string) *model.Identity {
	t.Helper()
	identity := &model.Identity{
		Email:        email,
		PasswordHash: "$2a$04$fakehashfakehashfakehashfakehashfakehashfakehashfake",
		FirstName:    "Jo",
		LastName:     "Ann",
		Phone:        "+15551234567",
	}
	if err := db.Create(context.Background(), identity); err != nil {
		t.Fatalf("failed to create test identity: %v", err)
	}
	return identity
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	identity := &model.Identity{Email: "  A@B.com ", PasswordHash: "hash"}
	if err := db.Create(context.Background(), identity); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if identity.ID == "" {
		t.Error("Create() did not set ID")
	}
	if identity.CreatedAt.IsZero() || identity.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}
	if identity.Email != "a@b.com" {
		t.Errorf("Email = %q, want normalized %q", identity.Email, "a@b.com")
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	original := createTestIdentity(t, db, "dup@example.com")

	dup := &model.Identity{Email: "DUP@example.com", PasswordHash: "other", FirstName: "Mallory"}
	err := db.Create(context.Background(), dup)

	if !errors.Is(err, apperror.ErrDuplicateEmail) {
		t.Fatalf("Create() error = %v, want ErrDuplicateEmail", err)
	}

	stored, err := db.GetByID(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.FirstName != "Jo" || stored.PasswordHash != original.PasswordHash {
		t.Error("a failed duplicate insert must not modify the existing row")
	}
}

// =========================================================================
// GET TESTS
// =========================================================================

func TestGetByID_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	created := createTestIdentity(t, db, "round@example.com")

	found, err := db.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if found.Email != created.Email || found.Phone != created.Phone || found.LastName != created.LastName {
		t.Errorf("GetByID() = %+v, want %+v", found, created)
	}
	if found.IsStaff || found.IsSuperuser {
		t.Error("new identities must not be privileged")
	}
	if !found.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, created.CreatedAt)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetByEmail_CaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	created := createTestIdentity(t, db, "case@example.com")

	found, err := db.GetByEmail(context.Background(), " Case@Example.COM")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}

	if _, err := db.GetByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdate(t *testing.T) {
	db := newTestDB(t)
	created := createTestIdentity(t, db, "upd@example.com")
	before := created.UpdatedAt

	time.Sleep(2 * time.Millisecond)

	created.FirstName = "Joanne"
	created.IsStaff = true
	created.ExternalID = "ext-1"
	if err := db.Update(context.Background(), created); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	found, _ := db.GetByID(context.Background(), created.ID)
	if found.FirstName != "Joanne" || !found.IsStaff || found.ExternalID != "ext-1" {
		t.Errorf("Update() did not persist: %+v", found)
	}
	if !found.UpdatedAt.After(before) {
		t.Errorf("UpdatedAt = %v, want after %v", found.UpdatedAt, before)
	}
	if !found.CreatedAt.Equal(created.CreatedAt) {
		t.Error("Update() must not change CreatedAt")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.Update(context.Background(), &model.Identity{ID: "ghost", Email: "ghost@example.com"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_EmailTakenByOther(t *testing.T) {
	db := newTestDB(t)
	createTestIdentity(t, db, "first@example.com")
	second := createTestIdentity(t, db, "second@example.com")

	second.Email = "FIRST@example.com"
	err := db.Update(context.Background(), second)
	if !errors.Is(err, apperror.ErrDuplicateEmail) {
		t.Errorf("Update() error = %v, want ErrDuplicateEmail", err)
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	created := createTestIdentity(t, db, "del@example.com")

	if err := db.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := db.GetByID(context.Background(), created.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.Delete(context.Background(), created.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// MIGRATION TESTS
// =========================================================================

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}
