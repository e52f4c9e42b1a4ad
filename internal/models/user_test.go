package models

import "testing"

func TestIdentifierPrefersEmail(t *testing.T) {
	u := UserRecord{Email: "a@b.com", Phone: "+15551234567"}
	if got := u.Identifier(); got != "a@b.com" {
		t.Fatalf("expected email, got %q", got)
	}
	u.Email = ""
	if got := u.Identifier(); got != "+15551234567" {
		t.Fatalf("expected phone, got %q", got)
	}
}

func TestMatchesIdentifier(t *testing.T) {
	u := UserRecord{Email: "a@b.com"}
	if !u.MatchesIdentifier("a@b.com") {
		t.Fatal("expected match on email")
	}
	if u.MatchesIdentifier("") {
		t.Fatal("empty identifier must never match")
	}
	if u.MatchesIdentifier("other@b.com") {
		t.Fatal("unexpected match")
	}
}

func TestApplyLeavesNilFieldsUntouched(t *testing.T) {
	u := UserRecord{Name: "Ada", Bio: "hello", Interests: []string{"jazz"}}

	age := 30
	u.Apply(ProfileUpdate{Age: &age})
	if u.Age != 30 {
		t.Fatalf("expected age applied, got %d", u.Age)
	}
	if u.Name != "Ada" || u.Bio != "hello" || len(u.Interests) != 1 {
		t.Fatalf("nil fields must stay untouched: %+v", u)
	}

	empty := []string{}
	u.Apply(ProfileUpdate{Interests: &empty})
	if len(u.Interests) != 0 {
		t.Fatalf("an explicit empty list clears interests, got %v", u.Interests)
	}
}
