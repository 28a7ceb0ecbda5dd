package scope

import (
	"testing"
)

func TestParseDeduplicates(t *testing.T) {
	scopes := Parse("openid  profile openid email")
	if len(scopes) != 3 {
		t.Fatalf("expected 3 scopes, got %v", scopes)
	}
	if scopes[0] != "openid" || scopes[1] != "profile" || scopes[2] != "email" {
		t.Fatalf("unexpected scope order: %v", scopes)
	}
}

func TestParseEmpty(t *testing.T) {
	if scopes := Parse("   "); scopes != nil {
		t.Fatalf("expected nil scopes, got %v", scopes)
	}
}

func TestSubset(t *testing.T) {
	allowed := []string{"openid", "profile", "email"}

	if !Subset([]string{"openid", "email"}, allowed) {
		t.Fatal("expected subset to hold")
	}
	if Subset([]string{"openid", "admin"}, allowed) {
		t.Fatal("expected subset to fail for unknown scope")
	}
	if !Subset(nil, allowed) {
		t.Fatal("expected empty request to be a subset")
	}
}

func TestNarrow(t *testing.T) {
	granted := []string{"openid", "profile"}

	narrowed, ok := Narrow([]string{"openid"}, granted)
	if !ok {
		t.Fatal("expected narrowing to a subset to succeed")
	}
	if len(narrowed) != 1 || narrowed[0] != "openid" {
		t.Fatalf("unexpected narrowed set: %v", narrowed)
	}

	if _, ok := Narrow([]string{"openid", "email"}, granted); ok {
		t.Fatal("expected widening to be rejected")
	}

	kept, ok := Narrow(nil, granted)
	if !ok || len(kept) != 2 {
		t.Fatalf("expected empty request to keep original grant, got %v", kept)
	}
}
