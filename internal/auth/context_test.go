package auth

import (
	"context"
	"testing"
)

func TestPrincipalContext(t *testing.T) {
	if p := FromContext(context.Background()); p != nil {
		t.Fatalf("want nil principal, got %+v", p)
	}
	if _, ok := UserID(context.Background()); ok {
		t.Fatal("anonymous context reported a user")
	}

	ctx := WithPrincipal(context.Background(), &Principal{UserID: 42, Role: RoleStaff})
	if id, ok := UserID(ctx); !ok || id != 42 {
		t.Fatalf("UserID = %d, %v", id, ok)
	}
}

func TestHasRole(t *testing.T) {
	var anon *Principal
	if anon.HasRole(RoleAdmin) {
		t.Fatal("nil principal holds a role")
	}
	staff := &Principal{UserID: 1, Role: RoleStaff}
	if !staff.HasRole(RoleStaff) || staff.HasRole(RoleAdmin) {
		t.Fatalf("unexpected roles for %+v", staff)
	}
	root := &Principal{UserID: 2, IsSuperuser: true}
	if !root.HasRole(RoleAdmin) {
		t.Fatal("superuser lacks admin")
	}
}
