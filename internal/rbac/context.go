package rbac

import "context"

type accessContextKey struct{}

// ContextWithAccess stores the resolved access for the rest of the request.
func ContextWithAccess(ctx context.Context, access *Access) context.Context {
	return context.WithValue(ctx, accessContextKey{}, access)
}

// AccessFromContext extracts the request access. The result may be nil, which denies everything.
func AccessFromContext(ctx context.Context) *Access {
	access, _ := ctx.Value(accessContextKey{}).(*Access)
	return access
}
