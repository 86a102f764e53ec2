package sessions

import "github.com/mir-akbar/codecollab/db"

// roleRank orders roles for threshold checks. Owner outranks admin
// outranks editor outranks viewer.
var roleRank = map[string]int{
	db.RoleViewer: 1,
	db.RoleEditor: 2,
	db.RoleAdmin:  3,
	db.RoleOwner:  4,
}

// ValidRole reports whether r is a known role name
func ValidRole(r string) bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether role meets the required threshold
func AtLeast(role, required string) bool {
	return roleRank[role] >= roleRank[required]
}

func canManageSession(role string) bool {
	return role == db.RoleOwner || role == db.RoleAdmin
}

func canEditFiles(role string) bool {
	return AtLeast(role, db.RoleEditor)
}

// canAssignRole applies the role-change matrix. Owners may set any
// non-owner role on any non-owner target. Admins may only move targets
// between editor and viewer.
func canAssignRole(actorRole, targetRole, newRole string) bool {
	if newRole == db.RoleOwner || targetRole == db.RoleOwner {
		return false
	}
	switch actorRole {
	case db.RoleOwner:
		return true
	case db.RoleAdmin:
		return (targetRole == db.RoleEditor || targetRole == db.RoleViewer) &&
			(newRole == db.RoleEditor || newRole == db.RoleViewer)
	default:
		return false
	}
}

// canRemove applies the removal matrix. Admins may not remove owners
// or other admins' superiors; nobody removes the owner.
func canRemove(actorRole, targetRole string) bool {
	if targetRole == db.RoleOwner {
		return false
	}
	return actorRole == db.RoleOwner || actorRole == db.RoleAdmin
}
