package identity

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the resolved principal to ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.Caller.IsZero() {
		return Principal{}, false
	}
	return p, true
}

// ContextWithCaller attaches c to ctx. A principal already on ctx for the
// same caller is kept intact so its token and claims survive.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	if p, ok := PrincipalFromContext(ctx); ok && p.Caller == c {
		return ctx
	}
	return ContextWithPrincipal(ctx, Principal{Caller: c})
}

// CallerFromContext returns the caller stored on ctx.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Caller{}, false
	}
	return p.Caller, true
}
