package session

import "testing"

func TestNewScopeSetNormalizes(t *testing.T) {
	s := NewScopeSet([]string{" files:read ", "files:read", "", "export:run"})
	if len(s) != 2 {
		t.Fatalf("expected trimmed, deduplicated set, got %v", s)
	}
	if s[0] != "files:read" || s[1] != "export:run" {
		t.Fatalf("order must be preserved, got %v", s)
	}
	if NewScopeSet(nil) != nil {
		t.Fatalf("empty input must yield nil")
	}
}

func TestScopeSetContains(t *testing.T) {
	s := NewScopeSet([]string{"files:read", "mcp:*"})
	if !s.Contains("files:read") {
		t.Fatalf("exact scope must match")
	}
	if s.Contains("files:write") {
		t.Fatalf("unrelated scope must not match")
	}
	if !s.Contains("mcp:invoke") || !s.Contains("mcp:list") {
		t.Fatalf("trailing wildcard must cover the prefix")
	}
	if s.Contains("mc") {
		t.Fatalf("wildcard must not match outside its prefix")
	}
}

func TestScopeSetSatisfies(t *testing.T) {
	s := NewScopeSet([]string{"files:*", "export:run"})
	if !s.Satisfies("files:read", "export:run") {
		t.Fatalf("all required scopes are granted")
	}
	if s.Satisfies("files:read", "admin:all") {
		t.Fatalf("one missing scope must fail the whole check")
	}
	if !s.Satisfies() {
		t.Fatalf("empty requirement is trivially satisfied")
	}
}
