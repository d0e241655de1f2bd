package zap

import (
	casbinl "github.com/casbin/casbin/v2/log"
	"go.uber.org/zap"
)

// CasbinLogger adapts casbin's logging interface onto a zap sugared
// logger, so authorization decisions flow through the same structured log
// sink as everything else.
type CasbinLogger struct {
	l       *zap.SugaredLogger
	enabled bool
}

var _ casbinl.Logger = (*CasbinLogger)(nil)

// NewCasbinLogger wraps l for casbin's enforcer to log through.
func NewCasbinLogger(l *zap.SugaredLogger) *CasbinLogger {
	return &CasbinLogger{l: l}
}

func (c *CasbinLogger) EnableLog(enabled bool) { c.enabled = enabled }

func (c *CasbinLogger) IsEnabled() bool { return c.enabled }

func (c *CasbinLogger) LogModel(model [][]string) {
	if !c.enabled {
		return
	}
	c.l.Infow("casbin model", "model", model)
}

func (c *CasbinLogger) LogEnforce(matcher string, request []any, result bool, explains [][]string) {
	if !c.enabled {
		return
	}
	c.l.Infow("casbin enforce", "matcher", matcher, "request", request, "result", result, "explains", explains)
}

func (c *CasbinLogger) LogPolicy(policy map[string][][]string) {
	if !c.enabled {
		return
	}
	for k, vl := range policy {
		c.l.Infow("casbin policy", "type", k, "rules", vl)
	}
}

func (c *CasbinLogger) LogRole(roles []string) {
	if !c.enabled {
		return
	}
	c.l.Infow("casbin role", "roles", roles)
}

func (c *CasbinLogger) LogError(err error, msg ...string) {
	c.l.Errorw("casbin error", "error", err, "context", msg)
}
