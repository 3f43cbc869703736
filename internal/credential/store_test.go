package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/auth"
	"github.com/tripease/identity/internal/model"
	"github.com/tripease/identity/internal/repository/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, auth.NewPasswordServiceForTest(bcrypt.MinCost))
}

func signupInput(email string) NewIdentity {
	return NewIdentity{
		Email:     email,
		Password:  "secret1",
		FirstName: "Jo",
		LastName:  "Ann",
		Phone:     "+15551234567",
	}
}

// =========================================================================
// CREATE / FIND
// =========================================================================

func TestCreateThenFindByCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@b.com", "someone@example.org", "MiXeD@Case.io"} {
		created, err := s.Create(ctx, signupInput(email))
		require.NoError(t, err, email)

		found, err := s.FindByCredentials(ctx, email, "secret1")
		require.NoError(t, err, email)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, model.NormalizeEmail(email), found.Email)
	}
}

func TestCreate_HashesPassword(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(context.Background(), signupInput("hash@example.com"))
	require.NoError(t, err)

	assert.NotEqual(t, "secret1", created.PasswordHash)
	assert.True(t, strings.HasPrefix(created.PasswordHash, "$2"))
	assert.True(t, s.CheckPassword(created, "secret1"))
	assert.False(t, s.CheckPassword(created, "secret2"))
}

func TestCreate_DuplicateEmailCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, signupInput("a@b.com"))
	require.NoError(t, err)

	dup := signupInput("  A@B.COM")
	dup.Password = "another1"
	dup.FirstName = "Eve"
	_, err = s.Create(ctx, dup)
	assert.True(t, errors.Is(err, apperror.ErrDuplicateEmail), "got %v", err)

	stored, err := s.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jo", stored.FirstName)
	assert.True(t, s.CheckPassword(stored, "secret1"), "existing password must be untouched")
}

func TestCreate_ConcurrentSameEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Create(ctx, signupInput("race@example.com"))
		}(i)
	}
	wg.Wait()

	ok, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrDuplicateEmail):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
	assert.Equal(t, 0, s.locks.size(), "lock entries must be released")
}

func TestFindByCredentials_WrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, signupInput("known@example.com"))
	require.NoError(t, err)

	_, errWrong := s.FindByCredentials(ctx, "known@example.com", "wrong-password")
	_, errUnknown := s.FindByCredentials(ctx, "unknown@example.com", "secret1")

	assert.True(t, errors.Is(errWrong, apperror.ErrNotFound))
	assert.True(t, errors.Is(errUnknown, apperror.ErrNotFound))
}

// =========================================================================
// UPDATE / MODIFY
// =========================================================================

func TestUpdate_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(context.Background(), &model.Identity{ID: "missing", Email: "x@y.com"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestUpdate_ReplacesMutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, signupInput("u@example.com"))
	require.NoError(t, err)

	created.Phone = "+15550000000"
	require.NoError(t, s.Update(ctx, created))

	found, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15550000000", found.Phone)
	assert.False(t, found.UpdatedAt.Before(created.CreatedAt))
}

func TestModify_ErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, signupInput("m@example.com"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Modify(ctx, created.ID, func(i *model.Identity) error {
		i.FirstName = "Changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, _ := s.GetByID(ctx, created.ID)
	assert.Equal(t, "Jo", found.FirstName)
}

func TestModify_ConcurrentUpdatesAreNotLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, signupInput("counter@example.com"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Modify(ctx, created.ID, func(i *model.Identity) error {
				i.LastName += "x"
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	found, _ := s.GetByID(ctx, created.ID)
	assert.Equal(t, "Ann"+strings.Repeat("x", n), found.LastName)
}

func TestSetPasswordAndLinkExternal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, signupInput("p@example.com"))
	require.NoError(t, err)

	_, err = s.SetPassword(ctx, created.ID, "newpass1")
	require.NoError(t, err)
	_, err = s.FindByCredentials(ctx, "p@example.com", "newpass1")
	assert.NoError(t, err)
	_, err = s.FindByCredentials(ctx, "p@example.com", "secret1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	linked, err := s.LinkExternal(ctx, created.ID, "ext-42")
	require.NoError(t, err)
	assert.Equal(t, "ext-42", linked.ExternalID)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, signupInput("d@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, created.ID))
	_, err = s.GetByID(ctx, created.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

// =========================================================================
// KEYED MUTEX
// =========================================================================

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	<-done

	unlockA()
	assert.Equal(t, 0, k.size())
}

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	k := newKeyedMutex()
	var mu sync.Mutex
	var order []string

	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		u := k.Lock("a")
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		u()
		close(done)
	}()

	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	unlock()
	<-done

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestKeyedMutex_DuplicateKeysInOneCall(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("x", "x", "", "y")
	assert.Equal(t, 2, k.size())
	unlock()
	assert.Equal(t, 0, k.size())
}

func TestLockCommand_AllowsStoreCallsWhileHeld(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unlock := s.LockCommand("Held@Example.com")
	created, err := s.Create(ctx, signupInput("held@example.com"))
	require.NoError(t, err)
	_, err = s.LinkExternal(ctx, created.ID, "ext-1")
	require.NoError(t, err)
	unlock()

	assert.Equal(t, 0, s.locks.size())
}

func TestLockSync_OrdersHoldersPerIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, signupInput("sync@example.com"))
	require.NoError(t, err)

	unlock := s.LockSync(created.ID)

	acquired := make(chan struct{})
	go func() {
		u := s.LockSync(created.ID)
		u()
		close(acquired)
	}()

	// The holder can still write through the store.
	_, err = s.LinkExternal(ctx, created.ID, "ext-1")
	require.NoError(t, err)

	select {
	case <-acquired:
		t.Fatal("second holder must wait for the first")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-acquired
	assert.Equal(t, 0, s.locks.size())
}
