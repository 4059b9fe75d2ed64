package auth

import (
	"context"
	"fmt"
	"strings"
)

// Role is the coarse role an authenticated principal holds.
type Role string

const (
	RoleAdmin   Role = "ADMIN"   // oversight: verifies content and outcomes
	RoleStaff   Role = "STAFF"   // content author: edits and locks question papers
	RoleStudent Role = "STUDENT" // taker: starts and submits attempts
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleStaff, RoleStudent:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal is an already-authenticated actor.
type Principal struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// Has reports whether the principal holds role.
func (p Principal) Has(role Role) bool {
	return p.Role == role
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%d", p.Role, p.ID)
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
