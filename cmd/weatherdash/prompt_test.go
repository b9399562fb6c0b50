package main

import "testing"

func TestResolvePasswordPrefersFlag(t *testing.T) {
	password, err := resolvePassword("correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if password != "correct-horse" {
		t.Fatalf("expected flag value, got %q", password)
	}
}
