package profile_test

import (
	"testing"

	"github.com/mihir-28/blockchain-scm/internal/profile"
)

func TestParseRoleAcceptsAllSpellings(t *testing.T) {
	cases := []struct {
		in   string
		want profile.Role
	}{
		{"CONSUMER_ROLE", profile.RoleConsumer},
		{"consumer", profile.RoleConsumer},
		{"Consumer", profile.RoleConsumer},
		{"RETAILER_ROLE", profile.RoleRetailer},
		{"DISTRIBUTOR_ROLE", profile.RoleDistributor},
		{"MANUFACTURER_ROLE", profile.RoleManufacturer},
		{"ADMIN_ROLE", profile.RoleAdmin},
		{"admin", profile.RoleAdmin},
		{"user", profile.RoleUser},
		{"  user ", profile.RoleUser},
	}
	for _, tc := range cases {
		got, err := profile.ParseRole(tc.in)
		if err != nil {
			t.Errorf("ParseRole(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "WIZARD_ROLE", "root", "_ROLE"} {
		if _, err := profile.ParseRole(in); err == nil {
			t.Errorf("ParseRole(%q): expected an error", in)
		}
	}
}

func TestStoredSpelling(t *testing.T) {
	if got := profile.RoleConsumer.Stored(); got != "CONSUMER_ROLE" {
		t.Errorf("consumer stored = %q", got)
	}
	// The signup default keeps its legacy bare spelling.
	if got := profile.RoleUser.Stored(); got != "user" {
		t.Errorf("user stored = %q", got)
	}
}

func TestStoredRoundTrips(t *testing.T) {
	roles := []profile.Role{
		profile.RoleUser,
		profile.RoleConsumer,
		profile.RoleRetailer,
		profile.RoleDistributor,
		profile.RoleManufacturer,
		profile.RoleAdmin,
	}
	for _, r := range roles {
		got, err := profile.ParseRole(r.Stored())
		if err != nil || got != r {
			t.Errorf("round trip %v: got %v err %v", r, got, err)
		}
	}
}

func TestMatches(t *testing.T) {
	if !profile.RoleRetailer.Matches("RETAILER_ROLE") {
		t.Error("suffixed spelling should match")
	}
	if !profile.RoleRetailer.Matches("retailer") {
		t.Error("bare spelling should match")
	}
	if profile.RoleRetailer.Matches("CONSUMER_ROLE") {
		t.Error("different role should not match")
	}
	if profile.RoleRetailer.Matches("garbage") {
		t.Error("unknown spelling should not match")
	}
}
