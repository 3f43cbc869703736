package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripease/identity/internal/model"
)

func newTestSupabase(t *testing.T, h http.HandlerFunc) *Supabase {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSupabase(Config{
		BaseURL:    srv.URL,
		PublicKey:  "anon-key",
		ServiceKey: "service-key",
		Timeout:    time.Second,
	}, srv.Client())
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

// =========================================================================
// CONFIG
// =========================================================================

func TestNew_NotConfiguredIsNil(t *testing.T) {
	assert.Nil(t, New(Config{}))
	assert.Nil(t, New(Config{BaseURL: "https://x.supabase.co"}))
	assert.Nil(t, New(Config{PublicKey: "k"}))
	assert.NotNil(t, New(Config{BaseURL: "https://x.supabase.co", PublicKey: "k"}))
}

func TestConfig_ServiceKeyFallsBackToPublicKey(t *testing.T) {
	assert.Equal(t, "anon", Config{PublicKey: "anon"}.serviceKey())
	assert.Equal(t, "svc", Config{PublicKey: "anon", ServiceKey: "svc"}.serviceKey())
	assert.Equal(t, DefaultTimeout, Config{}.timeout())
}

// =========================================================================
// SIGN UP
// =========================================================================

func TestSignUp_SendsMetadata(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		body := decodeBody(t, r)
		assert.Equal(t, "a@b.com", body["email"])
		assert.Equal(t, "secret1", body["password"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "Jo", data["first_name"])
		assert.Equal(t, "+15551234567", data["phone"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ext-1","email":"A@B.com","user_metadata":{"first_name":"Jo","last_name":"Ann","phone":"+15551234567"}}`))
	})

	ext, err := p.SignUp(context.Background(), "a@b.com", "secret1", model.Profile{FirstName: "Jo", LastName: "Ann", Phone: "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, "ext-1", ext.ID)
	assert.Equal(t, "a@b.com", ext.Email)
	assert.Equal(t, "Ann", ext.Profile.LastName)
}

func TestSignUp_SessionShapedResponse(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer","user":{"id":"ext-2","email":"c@d.com"}}`))
	})

	ext, err := p.SignUp(context.Background(), "c@d.com", "secret1", model.Profile{})
	require.NoError(t, err)
	assert.Equal(t, "ext-2", ext.ID)
}

func TestSignUp_AlreadyRegisteredIsRejected(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code":422,"msg":"User already registered"}`))
	})

	_, err := p.SignUp(context.Background(), "a@b.com", "secret1", model.Profile{})
	assert.True(t, errors.Is(err, ErrRejected), "got %v", err)
	assert.Contains(t, err.Error(), "User already registered")
}

// =========================================================================
// SIGN IN
// =========================================================================

func TestSignIn_PasswordGrant(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		body := decodeBody(t, r)
		assert.Equal(t, "a@b.com", body["email"])

		w.Write([]byte(`{"access_token":"user-token","token_type":"bearer","expires_in":3600,"user":{"id":"ext-1","email":"a@b.com","user_metadata":{"first_name":"Remote"}}}`))
	})

	ext, err := p.SignIn(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", ext.ID)
	assert.Equal(t, "Remote", ext.Profile.FirstName)
}

func TestSignIn_FetchesUserWithAccessTokenWhenOmitted(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			w.Write([]byte(`{"access_token":"user-token","token_type":"Bearer","expires_in":3600}`))
		case "/auth/v1/user":
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			assert.Equal(t, "anon-key", r.Header.Get("apikey"))
			w.Write([]byte(`{"id":"ext-9","email":"z@y.com"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	ext, err := p.SignIn(context.Background(), "z@y.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ext-9", ext.ID)
}

func TestSignIn_WrongPasswordIsRejected(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	_, err := p.SignIn(context.Background(), "a@b.com", "nope")
	assert.True(t, errors.Is(err, ErrRejected), "got %v", err)
}

func TestSignIn_ServerErrorIsUnreachable(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.SignIn(context.Background(), "a@b.com", "secret1")
	assert.True(t, errors.Is(err, ErrUnreachable), "got %v", err)
}

func TestSignIn_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	p := NewSupabase(Config{BaseURL: srv.URL, PublicKey: "anon-key", Timeout: 50 * time.Millisecond}, srv.Client())

	_, err := p.SignIn(context.Background(), "a@b.com", "secret1")
	assert.True(t, errors.Is(err, ErrUnreachable), "got %v", err)
}

func TestSignIn_ConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewSupabase(Config{BaseURL: url, PublicKey: "anon-key", Timeout: time.Second}, nil)

	_, err := p.SignIn(context.Background(), "a@b.com", "secret1")
	assert.True(t, errors.Is(err, ErrUnreachable), "got %v", err)
}

// =========================================================================
// ADMIN / RECOVER
// =========================================================================

func TestUpdateMetadata_UsesServiceKey(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/auth/v1/admin/users/ext-1", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		meta := body["user_metadata"].(map[string]any)
		assert.Equal(t, "New", meta["first_name"])
		_, hasPassword := body["password"]
		assert.False(t, hasPassword)

		w.Write([]byte(`{"id":"ext-1"}`))
	})

	err := p.UpdateMetadata(context.Background(), "ext-1", model.Profile{FirstName: "New"})
	require.NoError(t, err)
}

func TestUpdateMetadata_RequiresExternalID(t *testing.T) {
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	err := p.UpdateMetadata(context.Background(), "", model.Profile{})
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestRequestPasswordReset(t *testing.T) {
	called := false
	p := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		assert.Equal(t, "a@b.com", decodeBody(t, r)["email"])
		w.Write([]byte(`{}`))
	})

	require.NoError(t, p.RequestPasswordReset(context.Background(), "a@b.com"))
	assert.True(t, called)
}
