package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// sharedResolveTimeout bounds a resolution shared by concurrent callers. The shared work
// does not inherit any single caller's cancellation.
const sharedResolveTimeout = 10 * time.Second

// Authorizer hands out Access values, caching resolutions across requests.
type Authorizer struct {
	resolver *Resolver
	cache    *Cache
	group    singleflight.Group
	logger   *slog.Logger
}

// NewAuthorizer wires a resolver with an optional cache.
func NewAuthorizer(resolver *Resolver, cache *Cache, logger *slog.Logger) *Authorizer {
	return &Authorizer{resolver: resolver, cache: cache, logger: logger}
}

// Resolve returns the effective permission set of a user, reading through the cache.
func (a *Authorizer) Resolve(ctx context.Context, userID int64) (Resolution, error) {
	version, err := a.cache.Version(ctx, userID)
	if err != nil {
		a.warn("rbac cache version", err)
		version = ""
	}
	if version != "" {
		res, ok, err := a.cache.Get(ctx, userID, version)
		if err != nil {
			a.warn("rbac cache get", err)
		} else if ok {
			return res, nil
		}
	}
	return a.resolveShared(ctx, userID, version)
}

// Access returns the request's Access when it already belongs to userID, otherwise resolves one.
// On failure the returned Access is pending and denies everything.
func (a *Authorizer) Access(ctx context.Context, userID int64) (*Access, error) {
	if existing := AccessFromContext(ctx); !existing.Loading() && existing.UserID() == userID {
		return existing, nil
	}
	res, err := a.Resolve(ctx, userID)
	if err != nil {
		return Pending(userID), err
	}
	return NewAccess(res), nil
}

// PermissionsChanged invalidates the cached set of one user.
func (a *Authorizer) PermissionsChanged(ctx context.Context, userID int64) error {
	return a.cache.BumpUser(ctx, userID)
}

// CatalogChanged invalidates every cached set.
func (a *Authorizer) CatalogChanged(ctx context.Context) error {
	return a.cache.BumpAll(ctx)
}

// Warm resolves and caches the sets of the given users. It keeps going after failures
// and returns how many users were warmed.
func (a *Authorizer) Warm(ctx context.Context, userIDs []int64) (int, error) {
	var errs []error
	warmed := 0
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := a.Resolve(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		warmed++
	}
	return warmed, errors.Join(errs...)
}

func (a *Authorizer) resolveShared(ctx context.Context, userID int64, version string) (Resolution, error) {
	key := strconv.FormatInt(userID, 10) + "@" + version
	ch := a.group.DoChan(key, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedResolveTimeout)
		defer cancel()
		res, err := a.resolver.Resolve(sharedCtx, userID)
		if err != nil {
			return nil, err
		}
		if err := a.cache.Set(sharedCtx, version, res); err != nil {
			a.warn("rbac cache set", err)
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Resolution{}, out.Err
		}
		return out.Val.(Resolution), nil
	}
}

func (a *Authorizer) warn(msg string, err error) {
	if a.logger != nil {
		a.logger.Warn(msg, slog.Any("error", err))
	}
}
