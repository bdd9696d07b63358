// Package auth provides optional static API-key authentication with
// two roles: readers may query and inspect data, admins may also
// mutate and trigger maintenance.
package auth

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

type Identity struct {
	Role string
}

// Allows reports whether the identity satisfies the required role.
// Admin keys satisfy every role.
func (i Identity) Allows(role string) bool {
	if i.Role == RoleAdmin {
		return true
	}
	return i.Role == role
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses a comma-separated list of key:role
// entries. An empty spec yields a validator that rejects every key.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:role", entry)
		}
		key := strings.TrimSpace(parts[0])
		role := strings.TrimSpace(parts[1])
		if key == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key", entry)
		}
		if role != RoleReader && role != RoleAdmin {
			return nil, fmt.Errorf("invalid static key entry %q: role must be %q or %q", entry, RoleReader, RoleAdmin)
		}
		validator.keys[key] = Identity{Role: role}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
