// Package rbac wraps a casbin enforcer with the role/permission
// vocabulary authz.go's middleware expects, grounded in the teacher's
// Casbin-based RBAC package.
package rbac

import (
	"github.com/casbin/casbin/v2"
)

var Enforcer *casbin.Enforcer

type rbac struct {
	enforcer *casbin.Enforcer
}

// noop is returned by RBAC when the enforcer has not been initialized,
// so callers never need a nil check.
type noop struct{}

func (noop) AddRole(string) error                            { return nil }
func (noop) RemoveRole(string) error                          { return nil }
func (noop) GrantPermission(string, string, string) error     { return nil }
func (noop) RevokePermission(string, string, string) error    { return nil }
func (noop) AssignRole(string, string) error                  { return nil }
func (noop) UnassignRole(string, string) error                { return nil }

// RBAC is the role/permission management surface used by admin tooling;
// Enforce (the hot authorization path) is called directly against
// Enforcer by the authz middleware.
type RBAC interface {
	AddRole(name string) error
	RemoveRole(name string) error
	GrantPermission(role, resource, action string) error
	RevokePermission(role, resource, action string) error
	AssignRole(subject, role string) error
	UnassignRole(subject, role string) error
}

func Get() RBAC {
	if Enforcer == nil {
		return noop{}
	}
	return &rbac{enforcer: Enforcer}
}

func (r *rbac) AddRole(string) error { return nil }

func (r *rbac) RemoveRole(name string) error {
	if _, err := r.enforcer.DeleteRole(name); err != nil {
		return err
	}
	return r.enforcer.SavePolicy()
}

func (r *rbac) GrantPermission(role string, resource string, action string) error {
	if _, err := r.enforcer.AddPermissionForUser(role, resource, action, "allow"); err != nil {
		return err
	}
	return r.enforcer.SavePolicy()
}

// RevokePermission removes policies for role, narrowing by resource/action
// when given:
//   - resource=="" && action=="": remove every policy for role
//   - resource=="" && action!="": remove policies matching role and action
//   - resource!="" && action=="": remove policies matching role and resource
//   - both set: remove the exact (role, resource, action, "allow") policy
func (r *rbac) RevokePermission(role string, resource string, action string) error {
	switch {
	case resource == "" && action == "":
		if _, err := r.enforcer.RemoveFilteredPolicy(0, role); err != nil {
			return err
		}
	case resource == "" && action != "":
		if _, err := r.enforcer.RemoveFilteredPolicy(0, role, "", action); err != nil {
			return err
		}
	case resource != "" && action == "":
		if _, err := r.enforcer.RemoveFilteredPolicy(0, role, resource); err != nil {
			return err
		}
	default:
		if _, err := r.enforcer.DeletePermissionForUser(role, resource, action, "allow"); err != nil {
			return err
		}
	}
	return r.enforcer.SavePolicy()
}

func (r *rbac) AssignRole(subject string, role string) error {
	if _, err := r.enforcer.AddRoleForUser(subject, role); err != nil {
		return err
	}
	return r.enforcer.SavePolicy()
}

func (r *rbac) UnassignRole(subject string, role string) error {
	if _, err := r.enforcer.DeleteRoleForUser(subject, role); err != nil {
		return err
	}
	return r.enforcer.SavePolicy()
}
