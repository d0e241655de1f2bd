package middleware

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	CommonMiddlewares = []gin.HandlerFunc{}
	AuthMiddlewares   = []gin.HandlerFunc{}
)

// Register adds global middlewares that apply to all routes. Must be
// called before router.Init.
func Register(middlewares ...gin.HandlerFunc) {
	for _, m := range middlewares {
		zap.S().Debugw("registering middleware", "name", getFunctionName(m))
	}
	CommonMiddlewares = append(CommonMiddlewares, middlewares...)
}

// RegisterAuth adds authentication/authorization middlewares. Must be
// called before router.Init.
func RegisterAuth(middlewares ...gin.HandlerFunc) {
	for _, m := range middlewares {
		zap.S().Debugw("registering auth middleware", "name", getFunctionName(m))
	}
	AuthMiddlewares = append(AuthMiddlewares, middlewares...)
}

// getFunctionName extracts a human-readable name from a gin.HandlerFunc via
// reflection, used when labeling per-middleware diagnostics.
func getFunctionName(fn gin.HandlerFunc) string {
	if fn == nil {
		return "unknown"
	}

	fnPtr := reflect.ValueOf(fn).Pointer()
	fnInfo := runtime.FuncForPC(fnPtr)
	if fnInfo == nil {
		return "unknown"
	}

	fullName := fnInfo.Name()
	file, line := fnInfo.FileLine(fnPtr)

	if lastDot := strings.LastIndex(fullName, "/"); lastDot >= 0 {
		fullName = fullName[lastDot+1:]
	}

	parts := strings.Split(fullName, ".")
	if len(parts) < 2 {
		return cleanFunctionName(fullName)
	}

	funcName := parts[len(parts)-1]
	if strings.HasPrefix(funcName, "func") || strings.Contains(funcName, "glob..func") {
		if len(parts) >= 3 {
			parentName := parts[len(parts)-2]
			if parentName == "glob" || (len(parentName) > 0 && isNumeric(parentName[0])) {
				if file != "" {
					return fmt.Sprintf("%s_L%d", filepath.Base(strings.TrimSuffix(file, ".go")), line)
				}
				return fmt.Sprintf("anonymous_L%d", line)
			}
			if parentName != "" && !strings.Contains(parentName, "..") {
				return parentName
			}
		}
		if file != "" {
			return fmt.Sprintf("%s_L%d", filepath.Base(strings.TrimSuffix(file, ".go")), line)
		}
		return "anonymous"
	}

	if len(funcName) > 0 && isNumeric(funcName[0]) {
		if file != "" {
			return fmt.Sprintf("%s_L%d", filepath.Base(strings.TrimSuffix(file, ".go")), line)
		}
		return fmt.Sprintf("func%s", funcName)
	}

	return cleanFunctionName(funcName)
}

func cleanFunctionName(name string) string {
	name = strings.TrimSuffix(name, "-fm")
	name = strings.TrimSuffix(name, ".func1")
	name = strings.TrimSuffix(name, ".func2")
	return name
}

func isNumeric(b byte) bool {
	return b >= '0' && b <= '9'
}
