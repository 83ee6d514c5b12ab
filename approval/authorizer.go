package approval

import (
	"context"
	"slices"
)

// Authorizer answers manager-of questions. It is implemented outside the core,
// usually by the organisation directory.
type Authorizer interface {
	// IsManagerOf reports whether managerID may approve or reject memberID's months.
	IsManagerOf(ctx context.Context, managerID, memberID string) (bool, error)
}

// StaticAuthorizer is an Authorizer backed by a fixed manager → members table.
type StaticAuthorizer map[string][]string

// IsManagerOf looks memberID up in managerID's list.
func (a StaticAuthorizer) IsManagerOf(_ context.Context, managerID, memberID string) (bool, error) {
	return slices.Contains(a[managerID], memberID), nil
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, managerID, memberID string) (bool, error)

// IsManagerOf calls f.
func (f AuthorizerFunc) IsManagerOf(ctx context.Context, managerID, memberID string) (bool, error) {
	return f(ctx, managerID, memberID)
}
