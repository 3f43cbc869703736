package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tripease/identity/internal/model"
)

// Supabase talks to a Supabase (GoTrue) auth server over its REST API.
//
// TWO KEYS, TWO CLIENTS:
// Every request carries the project key in the "apikey" header. End-user
// calls (signup, password grant, recover) send the public anon key. Admin
// calls (editing another user's metadata) send the service-role key as a
// Bearer token:
//
//	apikey: <anon key>                      → /signup, /token, /recover
//	Authorization: Bearer <service key>     → /admin/users/{id}
//
// The Bearer header is added by an oauth2 client over a static token source,
// the same mechanism that adds a user's access token after a login.
type Supabase struct {
	cfg    Config
	base   string
	client *http.Client
}

// New returns a Supabase provider, or nil when cfg is not configured. A nil
// Provider means local-only operation.
func New(cfg Config) Provider {
	if !cfg.Configured() {
		return nil
	}
	return NewSupabase(cfg, nil)
}

// NewSupabase builds the client. A nil httpClient uses one bounded by
// cfg's timeout.
func NewSupabase(cfg Config, httpClient *http.Client) *Supabase {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout()}
	}
	return &Supabase{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/") + "/auth/v1",
		client: httpClient,
	}
}

// user is the subset of GoTrue's user object we read.
type user struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	UserMetadata model.Profile `json:"user_metadata"`
}

func (u *user) external() *model.ExternalIdentity {
	return &model.ExternalIdentity{
		ID:      u.ID,
		Email:   model.NormalizeEmail(u.Email),
		Profile: u.UserMetadata,
	}
}

// tokenResponse is GoTrue's answer to a password grant. It is a standard
// OAuth 2.0 token response with the user object embedded.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         user   `json:"user"`
}

func (t *tokenResponse) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
}

func (s *Supabase) SignUp(ctx context.Context, email, password string, p model.Profile) (*model.ExternalIdentity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     p,
	}

	// GoTrue answers with the user object when email confirmation is
	// required, and with a full session (user embedded) otherwise.
	var resp struct {
		user
		User *user `json:"user"`
	}
	if err := s.do(ctx, s.client, http.MethodPost, "/signup", body, &resp); err != nil {
		return nil, err
	}
	if resp.User != nil && resp.User.ID != "" {
		return resp.User.external(), nil
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: signup response carried no user id", ErrRejected)
	}
	return resp.user.external(), nil
}

func (s *Supabase) SignIn(ctx context.Context, email, password string) (*model.ExternalIdentity, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := s.do(ctx, s.client, http.MethodPost, "/token?grant_type=password", body, &resp); err != nil {
		return nil, err
	}
	if !resp.token().Valid() {
		return nil, fmt.Errorf("%w: password grant returned no access token", ErrRejected)
	}

	if resp.User.ID != "" {
		return resp.User.external(), nil
	}

	// Older servers omit the user from the token response; fetch it with
	// the fresh access token.
	userClient := s.oauthClient(ctx, resp.token())
	var u user
	if err := s.do(ctx, userClient, http.MethodGet, "/user", nil, &u); err != nil {
		return nil, err
	}
	return u.external(), nil
}

func (s *Supabase) UpdateMetadata(ctx context.Context, externalID string, p model.Profile) error {
	if externalID == "" {
		return fmt.Errorf("%w: missing external id", ErrRejected)
	}
	admin := s.oauthClient(ctx, &oauth2.Token{AccessToken: s.cfg.serviceKey(), TokenType: "Bearer"})
	body := map[string]any{"user_metadata": p}
	return s.do(ctx, admin, http.MethodPut, "/admin/users/"+url.PathEscape(externalID), body, nil)
}

func (s *Supabase) RequestPasswordReset(ctx context.Context, email string) error {
	return s.do(ctx, s.client, http.MethodPost, "/recover", map[string]string{"email": email}, nil)
}

// oauthClient returns an *http.Client that sends tok as a Bearer header and
// reuses s.client's transport.
func (s *Supabase) oauthClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	c := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	c.Timeout = s.client.Timeout
	return c
}

// do sends a JSON request and decodes a JSON answer into out (if non-nil).
func (s *Supabase) do(ctx context.Context, client *http.Client, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("provider: encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return fmt.Errorf("provider: building request: %w", err)
	}
	req.Header.Set("apikey", s.cfg.PublicKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if client == s.client {
		// Bare requests authenticate as the anon role.
		req.Header.Set("Authorization", "Bearer "+s.cfg.PublicKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnreachable, err)
	}
	return nil
}

// apiError is GoTrue's error body. Different versions use different keys.
type apiError struct {
	Message     string `json:"msg"`
	Message2    string `json:"message"`
	Description string `json:"error_description"`
	Code        string `json:"error"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Message, e.Message2, e.Description, e.Code} {
		if s != "" {
			return s
		}
	}
	return ""
}

func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var e apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
	detail := e.text()
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnreachable, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, detail)
	}
}

func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	case errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	// Anything else that stopped the round trip (bad URL, TLS, refused
	// redirect) is still a transport failure.
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
