package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "alcaldia_session", time.Hour, true), mr
}

func requestWithCookie(sm *SessionManager, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if value != "" {
		req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: value})
	}
	return req
}

func TestStartAndLoad(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()

	started, err := sm.Start(ctx, "42")
	require.NoError(t, err)
	assert.False(t, started.IsNew())
	assert.Equal(t, "42", mr.HGet(sessionKeyPrefix+started.ID, userField))
	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+started.ID))

	loaded, err := sm.Load(ctx, requestWithCookie(sm, started.ID))
	require.NoError(t, err)
	assert.Equal(t, started.ID, loaded.ID)
	assert.Equal(t, "42", loaded.User())
	assert.False(t, loaded.IsNew())

	uid, ok := CurrentUserID(ContextWithSession(ctx, loaded))
	assert.True(t, ok)
	assert.Equal(t, int64(42), uid)
}

func TestLoadFallsBackToAnonymous(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()

	for _, value := range []string{"", "not-a-uuid", "9b2f3c9e-0a6e-4d7e-9a43-6f0d7a9e8c11"} {
		sess, err := sm.Load(ctx, requestWithCookie(sm, value))
		require.NoError(t, err, value)
		assert.True(t, sess.IsNew(), value)
		assert.Empty(t, sess.User(), value)
	}
}

func TestCommitAnonymousOnlyWhenModified(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(sm, ""))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, mr.Keys())

	sess.Set(CSRFSessionKey, "token")
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, "token", mr.HGet(sessionKeyPrefix+sess.ID, valuePrefix+CSRFSessionKey))
}

func TestCommitSlidesExpiry(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()
	started, err := sm.Start(ctx, "7")
	require.NoError(t, err)

	mr.FastForward(40 * time.Minute)
	sess, err := sm.Load(ctx, requestWithCookie(sm, started.ID))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+started.ID))
}

func TestDeleteAndDestroy(t *testing.T) {
	sm, mr := newTestManager(t)
	ctx := context.Background()
	sess, err := sm.Start(ctx, "7")
	require.NoError(t, err)

	sess.Set("flash", "ok")
	sess.Delete("flash")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	assert.Equal(t, "", mr.HGet(sessionKeyPrefix+sess.ID, valuePrefix+"flash"))
	assert.Equal(t, "7", mr.HGet(sessionKeyPrefix+sess.ID, userField))

	sm.Destroy(sess)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestCurrentUserIDRejectsBadValues(t *testing.T) {
	_, ok := CurrentUserID(context.Background())
	assert.False(t, ok)

	for _, raw := range []string{"", "abc", "-3", "0"} {
		sess := &Session{ID: "s"}
		sess.SetUser(raw)
		_, ok := CurrentUserID(ContextWithSession(context.Background(), sess))
		assert.False(t, ok, raw)
	}
}
