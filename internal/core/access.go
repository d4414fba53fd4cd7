package core

import (
	"context"

	"carelink/pkg"
)

// Principal is the authenticated caller of one request.
type Principal struct {
	UID  string
	Role pkg.Role
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by WithPrincipal, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// AccessGateway enforces role and linkage before any patient data is
// touched.  It holds no state between requests: every decision is re-read
// from the store.
type AccessGateway struct {
	linkage *LinkageResolver
}

func NewAccessGateway(linkage *LinkageResolver) *AccessGateway {
	return &AccessGateway{linkage: linkage}
}

// RequireRole fails with ErrUnauthorized unless p is a valid principal with
// the given role.
func (g *AccessGateway) RequireRole(p *Principal, role pkg.Role) error {
	if p == nil || p.UID == "" || p.Role != role {
		return ErrUnauthorized
	}
	return nil
}

// RequireLinkedDoctor additionally requires the doctor to be linked to
// patientUID, failing with ErrForbidden otherwise.
func (g *AccessGateway) RequireLinkedDoctor(ctx context.Context, p *Principal, patientUID string) error {
	if err := g.RequireRole(p, pkg.RoleDoctor); err != nil {
		return err
	}
	if !g.linkage.IsLinked(ctx, p.UID, patientUID) {
		return ErrForbidden
	}
	return nil
}
