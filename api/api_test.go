package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridspace/auth"
	"gridspace/store"
)

type apiFixture struct {
	handler http.Handler
	tokens  *auth.Tokens
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tokens, err := auth.NewTokens("api-test-secret-with-at-least-32-chars", time.Hour, "gridspace")
	require.NoError(t, err)
	h := NewHandler(auth.NewAccounts(st, tokens, log), tokens, st, log)
	return &apiFixture{handler: NewRouter(h, nil, nil), tokens: tokens}
}

func (f *apiFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// signupAndSignin 注册并登录，返回用户 ID 与令牌
func (f *apiFixture) signupAndSignin(t *testing.T, username string) (string, string) {
	t.Helper()
	body := `{"username":"` + username + `","password":"123456","type":"admin"}`
	rec := f.do(t, http.MethodPost, "/api/v1/signup", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	userID := decodeBody[map[string]string](t, rec)["userId"]

	rec = f.do(t, http.MethodPost, "/api/v1/signin", `{"username":"`+username+`","password":"123456"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return userID, decodeBody[map[string]string](t, rec)["token"]
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSignup(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/signup", `{"username":"kirat","password":"123456","type":"admin"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["userId"])

	// 同名重复注册
	rec = f.do(t, http.MethodPost, "/api/v1/signup", `{"username":"kirat","password":"123456","type":"admin"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/signup", `{"password":"123456","type":"admin"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/signup", `{"username":"neo","password":"123456","type":"root"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/signup", `{`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignin(t *testing.T) {
	f := newAPIFixture(t)
	userID, token := f.signupAndSignin(t, "kirat")

	got, err := f.tokens.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	rec := f.do(t, http.MethodPost, "/api/v1/signin", `{"username":"kirat","password":"wrong"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/signin", `{"username":"nobody","password":"123456"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSpaceRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)
	body := `{"name":"lobby","dimensions":"100x200"}`

	rec := f.do(t, http.MethodPost, "/api/v1/space", body, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/space", body, "not-a-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/space/anything", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAndGetSpace(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.signupAndSignin(t, "kirat")

	rec := f.do(t, http.MethodPost, "/api/v1/space",
		`{"name":"lobby","dimensions":"100x200","elements":[{"x":1,"y":2,"static":true},{"x":3,"y":4,"static":false}]}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	spaceID := decodeBody[map[string]string](t, rec)["spaceId"]
	require.NotEmpty(t, spaceID)

	rec = f.do(t, http.MethodGet, "/api/v1/space/"+spaceID, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"spaceId":"`+spaceID+`",
		"name":"lobby",
		"dimensions":"100x200",
		"elements":[{"x":1,"y":2,"static":true},{"x":3,"y":4,"static":false}]
	}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/space/does-not-exist", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSpaceInvalid(t *testing.T) {
	f := newAPIFixture(t)
	_, token := f.signupAndSignin(t, "kirat")

	for _, body := range []string{
		`{"name":"lobby","dimensions":"100"}`,
		`{"name":"lobby","dimensions":"0x10"}`,
		`{"name":"lobby","dimensions":"10x10","elements":[{"x":10,"y":0,"static":true}]}`,
		`{"name":`,
	} {
		rec := f.do(t, http.MethodPost, "/api/v1/space", body, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestParseDimensions(t *testing.T) {
	w, h, err := parseDimensions("100x200")
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 200, h)

	_, _, err = parseDimensions("100 by 200")
	assert.Error(t, err)
	_, _, err = parseDimensions("")
	assert.Error(t, err)
}
