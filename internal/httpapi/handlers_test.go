package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"idport.org/internal/identity"
	"idport.org/internal/store/memory"
)

type capturedToken struct {
	Email string
	Token string
}

type captureNotifier struct {
	mu            sync.Mutex
	verifications []capturedToken
	resets        []capturedToken
}

func (n *captureNotifier) VerificationIssued(ctx context.Context, user *identity.User, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, capturedToken{Email: user.Email, Token: token})
	return nil
}

func (n *captureNotifier) PasswordResetIssued(ctx context.Context, user *identity.User, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, capturedToken{Email: user.Email, Token: token})
	return nil
}

func (n *captureNotifier) lastVerification(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.verifications) == 0 {
		t.Fatalf("no verification token delivered")
	}
	return n.verifications[len(n.verifications)-1].Token
}

func (n *captureNotifier) lastReset(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.resets) == 0 {
		t.Fatalf("no reset token delivered")
	}
	return n.resets[len(n.resets)-1].Token
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	notifier *captureNotifier
	svc      *identity.Service
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	notifier := &captureNotifier{}
	hasher := identity.NewHasher(identity.HasherParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1})
	svc, err := identity.NewService(memory.New(),
		identity.WithHasher(hasher),
		identity.WithNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureRoles(context.Background()); err != nil {
		t.Fatalf("EnsureRoles: %v", err)
	}

	sessions, err := identity.NewSessions([]byte("test-secret"), "idport")
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	api := New(svc, sessions, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		notifier: notifier,
		svc:      svc,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) register(t *testing.T, username, email string) map[string]any {
	t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"name":     "Ada",
		"surname":  "Lovelace",
		"username": username,
		"email":    email,
		"password": "correct horse battery",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	return decode[map[string]any](t, resp)
}

func (c *apiClient) login(t *testing.T, login, password string) loginResponse {
	t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"login":    login,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	return decode[loginResponse](t, resp)
}

func (c *apiClient) verify(t *testing.T, token string) {
	t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/verify-email", map[string]any{"token": token}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAccountLifecycleFlow(t *testing.T) {
	api := newTestAPI(t)

	created := api.register(t, "ada", "ada@example.com")
	if created["status"] != identity.StatusUnverified {
		t.Fatalf("status = %v, want unverified", created["status"])
	}
	if _, ok := created["password_digest"]; ok {
		t.Fatalf("response leaks password digest")
	}

	// Login before verification: credentials are fine, state is not.
	resp := api.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"login": "ada", "password": "correct horse battery",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unverified login status = %d, want 403", resp.StatusCode)
	}

	api.verify(t, api.notifier.lastVerification(t))

	session := api.login(t, "ada", "correct horse battery")
	if session.Token == "" || session.User == nil {
		t.Fatalf("login response incomplete: %+v", session)
	}
	if len(session.Roles) != 1 || session.Roles[0] != identity.RoleUser {
		t.Fatalf("roles = %v", session.Roles)
	}

	// The session token opens the protected surface.
	resp = api.do(http.MethodGet, "/v1/users/"+session.User.ID+"/roles", nil, session.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own roles status = %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["user_id"] != session.User.ID {
		t.Fatalf("roles payload = %v", payload)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "ada", "ada@example.com")

	resp := api.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"name": "Ada", "surname": "Lovelace",
		"username": "other", "email": "ada@example.com",
		"password": "correct horse battery",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email status = %d, want 409", resp.StatusCode)
	}
}

func TestRegistrationValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPost, "/v1/auth/register", map[string]any{
		"name": "", "surname": "", "username": "", "email": "bad", "password": "short",
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["error"] == "" {
		t.Fatalf("error body missing")
	}
}

func TestPasswordResetOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "ada", "ada@example.com")
	api.verify(t, api.notifier.lastVerification(t))

	// Unknown address gets the same answer as a known one.
	resp := api.do(http.MethodPost, "/v1/auth/forgot-password", map[string]any{"email": "nobody@example.com"}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unknown email status = %d, want 202", resp.StatusCode)
	}

	resp = api.do(http.MethodPost, "/v1/auth/forgot-password", map[string]any{"email": "ada@example.com"}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("forgot status = %d, want 202", resp.StatusCode)
	}

	resp = api.do(http.MethodPost, "/v1/auth/reset-password", map[string]any{
		"token": api.notifier.lastReset(t), "password": "a fresh new password",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", resp.StatusCode)
	}

	api.login(t, "ada", "a fresh new password")

	resp = api.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"login": "ada", "password": "correct horse battery",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password status = %d, want 401", resp.StatusCode)
	}
}

func TestInvalidVerificationToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPost, "/v1/auth/verify-email", map[string]any{"token": "made-up"}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRoleManagementRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	api.register(t, "ada", "ada@example.com")
	api.verify(t, api.notifier.lastVerification(t))
	user := api.login(t, "ada", "correct horse battery")

	api.register(t, "grace", "grace@example.com")
	api.verify(t, api.notifier.lastVerification(t))
	target := api.login(t, "grace", "correct horse battery")

	// A plain user cannot touch role assignments.
	resp := api.do(http.MethodPut, "/v1/users/"+target.User.ID+"/role",
		map[string]any{"role": identity.RoleAdmin}, user.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want 403", resp.StatusCode)
	}

	// Nor read someone else's.
	resp = api.do(http.MethodGet, "/v1/users/"+target.User.ID+"/roles", nil, user.Token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign roles status = %d, want 403", resp.StatusCode)
	}

	// Promote ada out-of-band and re-login for a session carrying the role.
	if _, err := api.svc.UpdateUserRole(ctx, user.User.ID, identity.RoleAdmin); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	admin := api.login(t, "ada", "correct horse battery")

	resp = api.do(http.MethodPut, "/v1/users/"+target.User.ID+"/role",
		map[string]any{"role": identity.RoleAdmin}, admin.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin update status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/roles/"+identity.RoleAdmin+"/users", nil, admin.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("role members status = %d", resp.StatusCode)
	}
	members := decode[map[string]any](t, resp)
	if members["count"].(float64) != 2 {
		t.Fatalf("admin count = %v, want 2", members["count"])
	}
}

func TestProtectedSurfaceRejectsAnonymous(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/v1/users/u1/roles", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/users/u1/roles", nil, "garbage-token")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.do(http.MethodGet, path, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Unknown paths sit behind authentication like the rest of the surface.
	resp := api.do(http.MethodGet, "/nope", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown path status = %d, want 401", resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/v1/auth/register", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method status = %d, want 405", resp.StatusCode)
	}
}
