package auth

import "context"

type contextKey int

const claimsKey contextKey = iota

// WithClaims returns a copy of ctx carrying the verified access claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims bound by the authorization gate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// Authorize checks the claims in ctx against the accepted roles.
func Authorize(ctx context.Context, accepted RoleSet) (*Claims, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, ErrInvalidToken
	}
	if !accepted.Allows(claims.Role) {
		return claims, &RoleError{Required: accepted, Actual: claims.Role}
	}
	return claims, nil
}
