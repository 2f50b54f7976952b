package profile

import (
	"fmt"
	"strings"
)

// Role is a supply-chain participant category. The dashboard stores roles in
// the suffixed convention ("CONSUMER_ROLE"); older documents and some callers
// use the bare form ("CONSUMER"). ParseRole reconciles both spellings once at
// the boundary so every comparison downstream is a plain equality check.
type Role string

const (
	// RoleUser is the generic default assigned at signup, before an admin
	// places the account into a supply-chain category.
	RoleUser         Role = "user"
	RoleConsumer     Role = "consumer"
	RoleRetailer     Role = "retailer"
	RoleDistributor  Role = "distributor"
	RoleManufacturer Role = "manufacturer"
	RoleAdmin        Role = "admin"
)

// storedSuffix is appended to role names in the stored convention.
const storedSuffix = "_ROLE"

// ParseRole canonicalizes a stored or caller-supplied role spelling.
// "consumer", "CONSUMER" and "CONSUMER_ROLE" all parse to RoleConsumer.
func ParseRole(s string) (Role, error) {
	base := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), storedSuffix)
	switch strings.ToLower(base) {
	case "user":
		return RoleUser, nil
	case "consumer":
		return RoleConsumer, nil
	case "retailer":
		return RoleRetailer, nil
	case "distributor":
		return RoleDistributor, nil
	case "manufacturer":
		return RoleManufacturer, nil
	case "admin":
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Stored returns the spelling written to the profile store. The generic
// default keeps its legacy bare form; every other role uses the suffixed
// convention.
func (r Role) Stored() string {
	if r == RoleUser {
		return string(r)
	}
	return strings.ToUpper(string(r)) + storedSuffix
}

// String returns the canonical lowercase name.
func (r Role) String() string { return string(r) }

// Matches reports whether the stored role string names this role in any
// accepted spelling.
func (r Role) Matches(stored string) bool {
	got, err := ParseRole(stored)
	return err == nil && got == r
}
