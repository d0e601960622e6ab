package rbac_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/rbac/rbactest"
)

func newAuthorizer(t *testing.T, f fixture) *rbac.Authorizer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := rbac.NewCache(client, rbac.CacheOptions{TTL: time.Minute})
	return rbac.NewAuthorizer(rbac.NewResolver(f.store, nil), cache, nil)
}

func TestAuthorizerCachesResolutions(t *testing.T) {
	f := newFixture()
	authz := newAuthorizer(t, f)
	ctx := context.Background()

	first, err := authz.Resolve(ctx, 1)
	require.NoError(t, err)
	calls := f.store.Calls

	second, err := authz.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, f.store.Calls)
}

func TestAuthorizerPermissionsChangedInvalidates(t *testing.T) {
	f := newFixture()
	authz := newAuthorizer(t, f)
	ctx := context.Background()

	access, err := authz.Access(ctx, 1)
	require.NoError(t, err)
	assert.False(t, access.CanAccessModule("finance"))

	assign(t, f.store, 1, 10)
	stale, err := authz.Access(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stale.CanAccessModule("finance"))

	require.NoError(t, authz.PermissionsChanged(ctx, 1))
	fresh, err := authz.Access(ctx, 1)
	require.NoError(t, err)
	assert.True(t, fresh.Can("finance", "read"))
}

func TestAuthorizerCatalogChangedInvalidatesEveryone(t *testing.T) {
	f := newFixture()
	authz := newAuthorizer(t, f)
	ctx := context.Background()

	_, err := authz.Resolve(ctx, 1)
	require.NoError(t, err)

	f.store.SetPermissionActive(f.projects.ID, false)
	require.NoError(t, authz.CatalogChanged(ctx))

	res, err := authz.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Grants)
}

func TestAuthorizerAccessReusesRequestAccess(t *testing.T) {
	f := newFixture()
	authz := newAuthorizer(t, f)
	existing := rbac.NewAccess(rbac.Resolution{UserID: 1, Role: rbac.RoleAdmin, Found: true})
	ctx := rbac.ContextWithAccess(context.Background(), existing)

	got, err := authz.Access(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Zero(t, f.store.Calls)

	other, err := authz.Access(ctx, 2)
	require.NoError(t, err)
	assert.NotSame(t, existing, other)
}

func TestAuthorizerFailsClosed(t *testing.T) {
	f := newFixture()
	f.store.Err = errors.New("db down")
	authz := rbac.NewAuthorizer(rbac.NewResolver(f.store, nil), nil, nil)

	access, err := authz.Access(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, access.Loading())
	assert.False(t, access.Can("projects", "read"))
}

func TestAuthorizerConcurrentResolve(t *testing.T) {
	f := newFixture()
	assign(t, f.store, 1, 10)
	authz := newAuthorizer(t, f)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			access, err := authz.Access(context.Background(), 1)
			if err == nil && !access.Can("finance", "read") {
				err = errors.New("missing finance:read")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestAuthorizerWarm(t *testing.T) {
	f := newFixture()
	f.store.AddUser(rbac.Subject{ID: 2, Role: rbac.RoleCiudadano, IsActive: true})
	authz := newAuthorizer(t, f)

	warmed, err := authz.Warm(context.Background(), []int64{1, 2, 42})
	require.NoError(t, err)
	assert.Equal(t, 3, warmed)

	calls := f.store.Calls
	_, err = authz.Resolve(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, calls, f.store.Calls)
}

func TestAuthorizerWarmCollectsErrors(t *testing.T) {
	f := newFixture()
	f.store.Err = errors.New("db down")
	authz := rbac.NewAuthorizer(rbac.NewResolver(f.store, nil), nil, nil)

	warmed, err := authz.Warm(context.Background(), []int64{1, 2})
	require.Error(t, err)
	assert.Zero(t, warmed)
}

// gatedStore holds subject lookups until release is closed or the lookup context ends.
type gatedStore struct {
	*rbactest.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) FindSubject(ctx context.Context, userID int64) (rbac.Subject, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return s.MemoryStore.FindSubject(ctx, userID)
	case <-ctx.Done():
		return rbac.Subject{}, ctx.Err()
	}
}

func TestAuthorizerSharedResolveOutlivesFirstCaller(t *testing.T) {
	f := newFixture()
	store := &gatedStore{MemoryStore: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	authz := rbac.NewAuthorizer(rbac.NewResolver(store, nil), nil, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := authz.Resolve(firstCtx, 1)
		firstErr <- err
	}()
	<-store.entered

	type result struct {
		res rbac.Resolution
		err error
	}
	second := make(chan result, 1)
	go func() {
		res, err := authz.Resolve(context.Background(), 1)
		second <- result{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	select {
	case out := <-second:
		t.Fatalf("second caller returned before the lookup finished: %v", out.err)
	case <-time.After(20 * time.Millisecond):
	}

	close(store.release)
	out := <-second
	require.NoError(t, out.err)
	assert.Equal(t, []string{"projects:read"}, out.res.Keys())
}
