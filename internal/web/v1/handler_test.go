package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/centsible/identity-service/internal/core/domain"
	"github.com/centsible/identity-service/internal/core/repository"
	logicv1 "github.com/centsible/identity-service/internal/logic/v1"
)

const testCookieName = "session_id"

type webEnv struct {
	router   *gin.Engine
	users    *repository.MemoryUserRepository
	apiKeys  *repository.MemoryAPIKeyRepository
	sessions *repository.MemorySessionStore
	ledger   *repository.MemoryImpersonationRepository
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := repository.NewMemoryUserRepository()
	apiKeys := repository.NewMemoryAPIKeyRepository()
	sessions := repository.NewMemorySessionStore()
	ledger := repository.NewMemoryImpersonationRepository()

	guard := logicv1.NewImpersonationService(users, sessions, ledger)
	auth := logicv1.NewAuthService(users, apiKeys, sessions, guard, 24*time.Hour)

	router := gin.New()
	handler := NewHandler(auth, guard, testCookieName, false)
	handler.RegisterRoutes(router.Group("/api/v1"))

	return &webEnv{
		router:   router,
		users:    users,
		apiKeys:  apiKeys,
		sessions: sessions,
		ledger:   ledger,
	}
}

func (e *webEnv) addUser(t *testing.T, id int, email, password string, role domain.Role, active bool) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return e.users.Add(&domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       active,
		CreatedAt:    time.Now(),
	})
}

type requestOpts struct {
	body   any
	cookie string
	apiKey string
}

func (e *webEnv) do(t *testing.T, method, path string, opts requestOpts) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if opts.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(opts.body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if opts.cookie != "" {
		req.AddCookie(&http.Cookie{Name: testCookieName, Value: opts.cookie})
	}
	if opts.apiKey != "" {
		req.Header.Set(APIKeyHeader, opts.apiKey)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *webEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", requestOpts{
		body: gin.H{"email": email, "password": password},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookieName {
			return c.Value
		}
	}
	t.Fatal("no session cookie in response")
	return ""
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLoginEndpoint(t *testing.T) {
	env := newWebEnv(t)
	env.addUser(t, 1, "alice@example.com", "correct-horse", domain.RoleUser, true)

	t.Run("success sets http-only cookie", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", requestOpts{
			body: gin.H{"email": "alice@example.com", "password": "correct-horse"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[domain.AuthResponse](t, rec)
		assert.Equal(t, 1, resp.User.ID)
		assert.Equal(t, "alice@example.com", resp.User.Email)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, testCookieName, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", requestOpts{
			body: gin.H{"email": "alice@example.com", "password": "nope"},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", requestOpts{
			body: gin.H{"email": "not-an-email"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRegisterEndpoint(t *testing.T) {
	env := newWebEnv(t)
	env.addUser(t, 1, "taken@example.com", "whatever", domain.RoleUser, true)

	t.Run("creates account and session", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/register", requestOpts{
			body: gin.H{"email": "new@example.com", "password": "secret-password"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decodeBody[domain.AuthResponse](t, rec)
		assert.Equal(t, domain.RoleUser, resp.User.Role)

		cookie := sessionCookie(t, rec)
		verify := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusOK, verify.Code)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/register", requestOpts{
			body: gin.H{"email": "taken@example.com", "password": "secret-password"},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	env := newWebEnv(t)
	alice := env.addUser(t, 1, "alice@example.com", "correct-horse", domain.RoleUser, true)
	env.apiKeys.Add(&domain.APIKey{UserID: alice.ID, Key: "alice-key", Active: true})

	t.Run("no credentials", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage cookie", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: uuid.NewString()})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("session cookie", func(t *testing.T) {
		cookie := env.login(t, "alice@example.com", "correct-horse")
		rec := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[domain.AuthResponse](t, rec)
		assert.Equal(t, alice.ID, resp.User.ID)
	})

	t.Run("api key header", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{apiKey: "alice-key"})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[domain.AuthResponse](t, rec)
		assert.Equal(t, alice.ID, resp.User.ID)
	})

	t.Run("invalid api key rejected even with valid cookie", func(t *testing.T) {
		cookie := env.login(t, "alice@example.com", "correct-horse")
		rec := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{
			cookie: cookie,
			apiKey: "bogus",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogoutEndpoint(t *testing.T) {
	env := newWebEnv(t)
	env.addUser(t, 1, "alice@example.com", "correct-horse", domain.RoleUser, true)

	cookie := env.login(t, "alice@example.com", "correct-horse")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/logout", requestOpts{cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)

	// The session is gone server-side.
	verify := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
	assert.Equal(t, http.StatusUnauthorized, verify.Code)
}

func TestImpersonationEndpoints(t *testing.T) {
	setup := func(t *testing.T) (*webEnv, *domain.User, *domain.User, string) {
		env := newWebEnv(t)
		admin := env.addUser(t, 1, "root@example.com", "admin-pass", domain.RoleSuperAdmin, true)
		target := env.addUser(t, 2, "bob@example.com", "bob-pass", domain.RoleUser, true)
		cookie := env.login(t, "root@example.com", "admin-pass")
		return env, admin, target, cookie
	}

	startPath := func(id int) string {
		return fmt.Sprintf("/api/v1/impersonation/start/%d", id)
	}

	t.Run("full lifecycle", func(t *testing.T) {
		env, admin, target, cookie := setup(t)

		rec := env.do(t, http.MethodPost, startPath(target.ID), requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		started := decodeBody[domain.ImpersonationResponse](t, rec)
		assert.Equal(t, target.ID, started.ImpersonatedUser.ID)
		assert.Equal(t, admin.ID, started.OriginalAdmin.ID)

		// Business reads now see the target.
		verify := env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, verify.Code)
		resp := decodeBody[domain.AuthResponse](t, verify)
		assert.Equal(t, target.ID, resp.User.ID)

		status := env.do(t, http.MethodGet, "/api/v1/impersonation/status", requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, status.Code)
		st := decodeBody[domain.ImpersonationStatus](t, status)
		assert.True(t, st.IsImpersonating)
		require.NotNil(t, st.OriginalAdmin)
		require.NotNil(t, st.ImpersonatedUser)
		assert.Equal(t, admin.ID, st.OriginalAdmin.ID)
		assert.Equal(t, target.ID, st.ImpersonatedUser.ID)

		stop := env.do(t, http.MethodPost, "/api/v1/impersonation/stop", requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, stop.Code)
		after := decodeBody[domain.ImpersonationStatus](t, stop)
		assert.False(t, after.IsImpersonating)

		// Back to the admin's own identity.
		verify = env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, verify.Code)
		resp = decodeBody[domain.AuthResponse](t, verify)
		assert.Equal(t, admin.ID, resp.User.ID)
	})

	t.Run("admin gate holds while impersonating a plain user", func(t *testing.T) {
		env, _, target, cookie := setup(t)
		other := env.addUser(t, 3, "carol@example.com", "carol-pass", domain.RoleUser, true)

		rec := env.do(t, http.MethodPost, startPath(target.ID), requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code)

		// The start route requires super_admin; the authorizing identity is
		// still the admin, so the gate passes and the guard reports the
		// session as already impersonating.
		rec = env.do(t, http.MethodPost, startPath(other.ID), requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Already impersonating")
	})

	t.Run("plain user forbidden from start route", func(t *testing.T) {
		env, _, _, _ := setup(t)
		env.addUser(t, 5, "mallory@example.com", "mallory-pass", domain.RoleUser, true)
		cookie := env.login(t, "mallory@example.com", "mallory-pass")

		rec := env.do(t, http.MethodPost, startPath(2), requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("api key caller has no session to impersonate on", func(t *testing.T) {
		env, admin, target, _ := setup(t)
		env.apiKeys.Add(&domain.APIKey{UserID: admin.ID, Key: "root-key", Active: true})

		rec := env.do(t, http.MethodPost, startPath(target.ID), requestOpts{apiKey: "root-key"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Session required")
	})

	t.Run("non-numeric target id", func(t *testing.T) {
		env, _, _, cookie := setup(t)
		rec := env.do(t, http.MethodPost, "/api/v1/impersonation/start/abc", requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown target", func(t *testing.T) {
		env, _, _, cookie := setup(t)
		rec := env.do(t, http.MethodPost, startPath(404), requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("super admin target", func(t *testing.T) {
		env, _, _, cookie := setup(t)
		env.addUser(t, 7, "root2@example.com", "x", domain.RoleSuperAdmin, true)

		rec := env.do(t, http.MethodPost, startPath(7), requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("stop without active impersonation", func(t *testing.T) {
		env, _, _, cookie := setup(t)
		rec := env.do(t, http.MethodPost, "/api/v1/impersonation/stop", requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deleted target invalidates the session mid-flight", func(t *testing.T) {
		env, _, target, cookie := setup(t)

		rec := env.do(t, http.MethodPost, startPath(target.ID), requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code)

		env.users.Remove(target.ID)

		rec = env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Impersonation invalidated")

		// The next request resolves as the admin again.
		rec = env.do(t, http.MethodGet, "/api/v1/auth/verify", requestOpts{cookie: cookie})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("status without impersonation", func(t *testing.T) {
		env, _, _, cookie := setup(t)
		rec := env.do(t, http.MethodGet, "/api/v1/impersonation/status", requestOpts{cookie: cookie})
		require.Equal(t, http.StatusOK, rec.Code)

		st := decodeBody[domain.ImpersonationStatus](t, rec)
		assert.False(t, st.IsImpersonating)
		assert.Nil(t, st.OriginalAdmin)
		assert.Nil(t, st.ImpersonatedUser)
	})
}
