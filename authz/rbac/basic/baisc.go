// Package basic seeds the default casbin model and admin/blocked role
// grouping policies used by the authz middleware.
package basic

import (
	"os"
	"path/filepath"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/cockroachdb/errors"
	pkgzap "github.com/forbearing/tol/logger/zap"
	"github.com/forbearing/tol/authz/rbac"
	"github.com/forbearing/tol/config"
	"go.uber.org/zap"
)

const (
	userRoot      = "root"
	userAdmin     = "admin"
	userBlocked   = "blocked"
	roleAdmin     = "admin"
	roleBlocked   = "blocked"
)

var defaultAdmins = []string{userRoot, userAdmin}

var modelData = []byte(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, "admin") || (g(r.sub, p.sub) && keyMatch3(r.obj, p.obj) && r.act == p.act)
`)

// Init builds the enforcer against a file-backed policy store rooted in
// the config temp directory, and seeds the default admin/blocked
// grouping policies.
func Init() (err error) {
	if !config.App.Middleware.EnableAuthz {
		return nil
	}

	modelFile := filepath.Join(config.Tempdir(), "casbin_model.conf")
	if err = os.WriteFile(modelFile, modelData, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write casbin model file %s", modelFile)
	}
	policyFile := filepath.Join(config.Tempdir(), "casbin_policy.csv")
	if _, err = os.Create(policyFile); err != nil { //nolint:gosec
		return errors.Wrapf(err, "failed to create casbin policy file %s", policyFile)
	}
	adapter := fileadapter.NewAdapter(policyFile)

	if rbac.Enforcer, err = casbin.NewEnforcer(modelFile, adapter); err != nil {
		return errors.Wrap(err, "failed to create casbin enforcer")
	}

	rbac.Enforcer.SetLogger(pkgzap.NewCasbinLogger(zap.S()))
	rbac.Enforcer.EnableLog(true)
	rbac.Enforcer.EnableAutoSave(true)

	for _, user := range defaultAdmins {
		if _, err = rbac.Enforcer.AddGroupingPolicy(user, roleAdmin); err != nil {
			return err
		}
	}
	if _, err = rbac.Enforcer.AddGroupingPolicy(userBlocked, roleBlocked); err != nil {
		return err
	}

	return rbac.Enforcer.LoadPolicy()
}
