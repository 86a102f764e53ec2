package sessions

import (
	"testing"

	"github.com/mir-akbar/codecollab/db"
)

func TestAtLeast(t *testing.T) {
	cases := []struct {
		role, required string
		want           bool
	}{
		{db.RoleOwner, db.RoleAdmin, true},
		{db.RoleAdmin, db.RoleAdmin, true},
		{db.RoleEditor, db.RoleAdmin, false},
		{db.RoleViewer, db.RoleEditor, false},
		{db.RoleEditor, db.RoleViewer, true},
		{"unknown", db.RoleViewer, false},
	}
	for _, c := range cases {
		if got := AtLeast(c.role, c.required); got != c.want {
			t.Errorf("AtLeast(%s, %s) = %v, want %v", c.role, c.required, got, c.want)
		}
	}
}

func TestCanAssignRole(t *testing.T) {
	cases := []struct {
		actor, target, newRole string
		want                   bool
	}{
		// nobody assigns ownership, nobody reassigns the owner
		{db.RoleOwner, db.RoleEditor, db.RoleOwner, false},
		{db.RoleOwner, db.RoleOwner, db.RoleAdmin, false},
		// owners assign any non-owner role
		{db.RoleOwner, db.RoleViewer, db.RoleAdmin, true},
		{db.RoleOwner, db.RoleAdmin, db.RoleViewer, true},
		// admins only shuffle editor and viewer
		{db.RoleAdmin, db.RoleEditor, db.RoleViewer, true},
		{db.RoleAdmin, db.RoleViewer, db.RoleEditor, true},
		{db.RoleAdmin, db.RoleViewer, db.RoleAdmin, false},
		{db.RoleAdmin, db.RoleAdmin, db.RoleViewer, false},
		// everyone else assigns nothing
		{db.RoleEditor, db.RoleViewer, db.RoleViewer, false},
		{db.RoleViewer, db.RoleViewer, db.RoleViewer, false},
	}
	for _, c := range cases {
		if got := canAssignRole(c.actor, c.target, c.newRole); got != c.want {
			t.Errorf("canAssignRole(%s, %s, %s) = %v, want %v", c.actor, c.target, c.newRole, got, c.want)
		}
	}
}

func TestCanRemove(t *testing.T) {
	cases := []struct {
		actor, target string
		want          bool
	}{
		{db.RoleOwner, db.RoleAdmin, true},
		{db.RoleAdmin, db.RoleEditor, true},
		{db.RoleAdmin, db.RoleOwner, false},
		{db.RoleOwner, db.RoleOwner, false},
		{db.RoleEditor, db.RoleViewer, false},
	}
	for _, c := range cases {
		if got := canRemove(c.actor, c.target); got != c.want {
			t.Errorf("canRemove(%s, %s) = %v, want %v", c.actor, c.target, got, c.want)
		}
	}
}

func TestCanEdit(t *testing.T) {
	if !CanEdit(db.RoleOwner) || !CanEdit(db.RoleAdmin) || !CanEdit(db.RoleEditor) {
		t.Error("owner, admin and editor may edit files")
	}
	if CanEdit(db.RoleViewer) || CanEdit("") {
		t.Error("viewers may not edit files")
	}
}
