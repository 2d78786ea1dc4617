package domain

import (
	"errors"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	for _, v := range []string{"1.0.0", "v1.2.3", "2.0.0-rc.1", "1.2.0+build.7"} {
		if err := ValidateVersion(v); err != nil {
			t.Fatalf("%s: unexpected error %v", v, err)
		}
	}
	for _, v := range []string{"", "one", "1", "1.2", "v2", "1.2-rc.1"} {
		if err := ValidateVersion(v); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected invalid input, got %v", v, err)
		}
	}
}

func TestContractAllowsPage(t *testing.T) {
	if !(Contract{}).AllowsPage("anything") {
		t.Fatal("a contract without pages must allow every page")
	}
	c := Contract{Pages: []string{"home"}}
	if !c.AllowsPage("home") || c.AllowsPage("about") {
		t.Fatalf("unexpected page rules for %v", c.Pages)
	}
}
