package domain

import "testing"

func TestClientIdentity_KeyIsFixedLengthAndNormalized(t *testing.T) {
	a := ClientIdentity{IP: " 10.0.0.1 ", Class: ClassGeneral}
	b := ClientIdentity{IP: "10.0.0.1", Class: "GENERAL"}

	ka, kb := a.Key(false), b.Key(false)
	if ka != kb {
		t.Fatalf("expected normalized keys to match: %s != %s", ka, kb)
	}
	if len(ka) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(ka))
	}
}

func TestClientIdentity_KeyIncludesUserOnlyWhenPerUser(t *testing.T) {
	alice := ClientIdentity{IP: "10.0.0.1", UserID: "alice", Class: ClassAdmin}
	bob := ClientIdentity{IP: "10.0.0.1", UserID: "bob", Class: ClassAdmin}

	if alice.Key(false) != bob.Key(false) {
		t.Fatalf("expected same key when not counting per user")
	}
	if alice.Key(true) == bob.Key(true) {
		t.Fatalf("expected distinct keys when counting per user")
	}
}

func TestClientIdentity_KeySeparatesClasses(t *testing.T) {
	g := ClientIdentity{IP: "10.0.0.1", Class: ClassGeneral}
	s := ClientIdentity{IP: "10.0.0.1", Class: ClassSearch}
	if g.Key(false) == s.Key(false) {
		t.Fatalf("expected distinct keys per class")
	}
}
