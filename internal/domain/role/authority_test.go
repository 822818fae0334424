package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_IsValid(t *testing.T) {
	tests := []struct {
		role     Role
		expected bool
	}{
		{Admin, true},
		{FinanceOfficer, true},
		{UrbanPlanner, true},
		{HRManager, true},
		{Clerk, true},
		{Citizen, true},
		{System, true},
		{Assignee, false},
		{Role("Admin"), false},
		{Role("superuser"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.role.IsValid())
		})
	}
}

func TestAuthority_HasRole(t *testing.T) {
	a := NewAuthority()

	t.Run("matches held role", func(t *testing.T) {
		assert.True(t, a.HasRole(NewPrincipal("u-1", Clerk), Clerk))
	})

	t.Run("does not match other role", func(t *testing.T) {
		assert.False(t, a.HasRole(NewPrincipal("u-1", Clerk), Admin))
	})

	t.Run("unauthenticated principal fails closed", func(t *testing.T) {
		assert.False(t, a.HasRole(NewPrincipal("", Admin), Admin))
	})

	t.Run("role-less principal fails closed", func(t *testing.T) {
		assert.False(t, a.HasRole(NewPrincipal("u-1"), Admin))
	})

	t.Run("role names are case-sensitive", func(t *testing.T) {
		p := Principal{ID: "u-1", Roles: ParseSet("ADMIN")}
		assert.False(t, a.HasRole(p, Admin))
	})

	t.Run("unknown role never matches even if held", func(t *testing.T) {
		p := Principal{ID: "u-1", Roles: ParseSet("superuser")}
		assert.False(t, a.HasRole(p, Role("superuser")))
	})
}

func TestAuthority_HasAnyRole(t *testing.T) {
	a := NewAuthority()
	p := NewPrincipal("u-7", HRManager)

	assert.True(t, a.HasAnyRole(p, NewSet(Admin, HRManager)))
	assert.False(t, a.HasAnyRole(p, NewSet(Admin, Clerk)))
	assert.False(t, a.HasAnyRole(p, NewSet()))
}

func TestAuthority_Permits_Assignee(t *testing.T) {
	a := NewAuthority()
	allowed := NewSet(Assignee, Admin, UrbanPlanner)

	t.Run("assignee by identity", func(t *testing.T) {
		p := NewPrincipal("emp-3", Clerk)
		assert.True(t, a.Permits(p, allowed, Subject{AssigneeID: "emp-3"}))
	})

	t.Run("other employee is refused", func(t *testing.T) {
		p := NewPrincipal("emp-4", Clerk)
		assert.False(t, a.Permits(p, allowed, Subject{AssigneeID: "emp-3"}))
	})

	t.Run("unassigned record never matches the relational tag", func(t *testing.T) {
		p := NewPrincipal("", Clerk)
		assert.False(t, a.Permits(p, allowed, Subject{}))
	})

	t.Run("role holder does not need to be assignee", func(t *testing.T) {
		p := NewPrincipal("planner-1", UrbanPlanner)
		assert.True(t, a.Permits(p, allowed, Subject{AssigneeID: "emp-3"}))
	})

	t.Run("principal claiming the assignee tag is not enough", func(t *testing.T) {
		p := NewPrincipal("emp-9", Assignee)
		assert.False(t, a.Permits(p, allowed, Subject{AssigneeID: "emp-3"}))
	})
}

func TestSet_Strings(t *testing.T) {
	s := NewSet(Clerk, Admin)
	assert.Equal(t, []string{"admin", "clerk"}, s.Strings())

	c := s.Clone()
	delete(c, Admin)
	assert.True(t, s.Has(Admin))
}
