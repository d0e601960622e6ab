package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
)

func TestCSRFRoundTrip(t *testing.T) {
	m := NewCSRFManager("secret")
	ctx := context.Background()
	sess := &Session{ID: "9b2f3c9e-0a6e-4d7e-9a43-6f0d7a9e8c11"}

	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Contains(t, token, ".")

	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, m.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, token+"x"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	m := NewCSRFManager("secret")
	ctx := context.Background()
	first := &Session{ID: "first"}
	token, err := m.EnsureToken(ctx, first)
	require.NoError(t, err)

	// A token copied into another session does not verify there.
	other := &Session{ID: "other"}
	other.Set(CSRFSessionKey, token)
	assert.ErrorIs(t, m.VerifyToken(ctx, other, token), ErrCSRFTokenMismatch)

	reissued, err := m.EnsureToken(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, token, reissued)

	assert.ErrorIs(t, NewCSRFManager("rotated").VerifyToken(ctx, first, token), ErrCSRFTokenMismatch)
}

func TestCSRFErrorsMapToStatus(t *testing.T) {
	_, err := NewCSRFManager("s").EnsureToken(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSessionMissing)
	assert.Equal(t, 401, httpx.StatusFor(err))
	assert.Equal(t, 403, httpx.StatusFor(ErrCSRFTokenMismatch))
}
