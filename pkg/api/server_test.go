package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahack/quotaguard/pkg/fingerprint"
	"github.com/alpacahack/quotaguard/pkg/models"
	"github.com/alpacahack/quotaguard/pkg/quota"
	"github.com/alpacahack/quotaguard/pkg/resolver"
	"github.com/alpacahack/quotaguard/pkg/storage"
)

func newTestRouter(store storage.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	res := resolver.New(store, "test-secret")
	enf := quota.New(store, 0)
	NewServer(res, enf, store).Register(r)
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return w, payload
}

// TestAnonymousFlow walks the full visitor lifecycle: fresh resolution with
// cookie minting, cookie replay hitting the same quota identity, then two
// increments exhausting the default quota.
func TestAnonymousFlow(t *testing.T) {
	store := storage.NewMemoryStore()
	router := newTestRouter(store)

	visitorHeaders := http.Header{}
	visitorHeaders.Set("X-Forwarded-For", "1.2.3.4")
	visitorHeaders.Set("User-Agent", "TestAgent/1.0")

	// Fresh visitor, no cookie.
	w, payload := doJSON(t, router, http.MethodPost, "/api/auth/anonymous", "", visitorHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, payload["canGenerate"])
	assert.Equal(t, float64(0), payload["generationsUsed"])
	assert.Equal(t, float64(2), payload["maxGenerations"])

	userID, _ := payload["userId"].(string)
	sessionID, _ := payload["sessionId"].(string)
	assert.True(t, strings.HasPrefix(userID, fingerprint.RootPrefix))
	assert.True(t, strings.HasPrefix(sessionID, fingerprint.SessionPrefix))

	var sessionCookie *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie, "first resolution must set the session cookie")
	assert.Equal(t, sessionID, sessionCookie.Value)
	assert.True(t, sessionCookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sessionCookie.SameSite)
	assert.Equal(t, 365*24*60*60, sessionCookie.MaxAge)

	// Replay with the cookie: same quota identity, unchanged counters, no
	// new cookie minted.
	replayHeaders := visitorHeaders.Clone()
	replayHeaders.Set("Cookie", SessionCookieName+"="+sessionCookie.Value)
	w, payload = doJSON(t, router, http.MethodPost, "/api/auth/anonymous", "", replayHeaders)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, payload["userId"])
	assert.Equal(t, float64(0), payload["generationsUsed"])
	assert.Empty(t, w.Result().Cookies())

	// First increment.
	w, payload = doJSON(t, router, http.MethodPost, "/api/auth/anonymous/increment",
		`{"userId":"`+userID+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), payload["generationsUsed"])
	assert.Equal(t, true, payload["canGenerate"])

	// Second increment exhausts the quota.
	w, payload = doJSON(t, router, http.MethodPost, "/api/auth/anonymous/increment",
		`{"userId":"`+userID+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), payload["generationsUsed"])
	assert.Equal(t, false, payload["canGenerate"])

	// The linked session identity was fanned out to.
	session, err := store.FindByID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.GenerationsUsed)
}

func TestIncrementMissingUserID(t *testing.T) {
	router := newTestRouter(storage.NewMemoryStore())

	w, payload := doJSON(t, router, http.MethodPost, "/api/auth/anonymous/increment", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, payload["error"])

	w, payload = doJSON(t, router, http.MethodPost, "/api/auth/anonymous/increment", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, payload["error"])
}

func TestIncrementUncreatableUser(t *testing.T) {
	router := newTestRouter(&vanishingStore{})

	w, payload := doJSON(t, router, http.MethodPost, "/api/auth/anonymous/increment",
		`{"userId":"user_ghost"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, payload["error"])
}

func TestAnonymousStoreUnavailable(t *testing.T) {
	router := newTestRouter(&downStore{})

	w, payload := doJSON(t, router, http.MethodPost, "/api/auth/anonymous", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, payload["error"])
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(storage.NewMemoryStore())
	w, payload := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", payload["status"])

	router = newTestRouter(&downStore{})
	w, payload = doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", payload["status"])
}

// downStore is unreachable; every request must fail up front.
type downStore struct{}

func (d *downStore) Create(context.Context, *models.Identity) error {
	return storage.ErrUnavailable
}

func (d *downStore) FindByID(context.Context, string) (*models.Identity, error) {
	return nil, storage.ErrUnavailable
}

func (d *downStore) IncrementUsage(context.Context, string) (*models.Identity, error) {
	return nil, storage.ErrUnavailable
}

func (d *downStore) IncrementUsageForAllLinkedTo(context.Context, string) error {
	return storage.ErrUnavailable
}

func (d *downStore) Ping(context.Context) error { return storage.ErrUnavailable }

// vanishingStore reports duplicates on insert yet finds nothing, so lazy
// creation cannot succeed and increments surface ErrNotFound.
type vanishingStore struct{}

func (v *vanishingStore) Create(context.Context, *models.Identity) error {
	return storage.ErrAlreadyExists
}

func (v *vanishingStore) FindByID(context.Context, string) (*models.Identity, error) {
	return nil, storage.ErrNotFound
}

func (v *vanishingStore) IncrementUsage(context.Context, string) (*models.Identity, error) {
	return nil, storage.ErrNotFound
}

func (v *vanishingStore) IncrementUsageForAllLinkedTo(context.Context, string) error {
	return nil
}

func (v *vanishingStore) Ping(context.Context) error { return nil }
