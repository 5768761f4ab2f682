package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuelstock/fuel"
)

const testSecret = "test-secret"

func (a *testAPI) doBearer(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestAuth_BearerRequiredWhenSecretSet(t *testing.T) {
	a := newTestAPI(t, RouterOptions{AuthSecret: testSecret})

	rec := a.doBearer(t, http.MethodGet, "/api/tanks", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueToken(testSecret, "alice", "manager", time.Hour)
	require.NoError(t, err)
	rec = a.doBearer(t, http.MethodGet, "/api/tanks", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The header alone is not trusted once tokens are on.
	rec = a.do(t, http.MethodGet, "/api/tanks", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open for probes.
	rec = a.doBearer(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	a := newTestAPI(t, RouterOptions{AuthSecret: testSecret})

	wrongKey, err := IssueToken("other-secret", "mallory", "", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "alice", "", -time.Minute)
	require.NoError(t, err)
	noSubject, err := IssueToken(testSecret, "", "", time.Hour)
	require.NoError(t, err)
	none, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "alice"}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong key":  wrongKey,
		"expired":    expired,
		"no subject": noSubject,
		"alg none":   none,
		"garbage":    "not.a.token",
	} {
		rec := a.doBearer(t, http.MethodGet, "/api/tanks", token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestAuth_TokenSubjectIsActor(t *testing.T) {
	// GIVEN: A token for alice
	a := newTestAPI(t, RouterOptions{AuthSecret: testSecret})
	token, err := IssueToken(testSecret, "alice", "operator", time.Hour)
	require.NoError(t, err)

	// WHEN: alice creates a tank, sending a spoofed actor header as well
	req := httptest.NewRequest(http.MethodPost, "/api/tanks",
		jsonReader(t, map[string]any{"name": "Petrol 1", "product": "petrol", "capacity": "1000", "opening_stock": "100"}))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(ActorHeader, "mallory")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tank := decodeBody[fuel.Tank](t, rec)

	// THEN: The ledger records alice
	rec = a.doBearer(t, http.MethodGet, "/api/tanks/"+tank.ID+"/ledger", token)
	entries := decodeBody[[]fuel.LedgerEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
}

func TestIssueToken_EmptySecret(t *testing.T) {
	_, err := IssueToken("", "alice", "", time.Hour)
	assert.Error(t, err)
}
