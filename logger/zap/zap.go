// Package zap builds the process's structured logger from config.Logger:
// console encoding when cfg.Format is "console", JSON otherwise, with file rotation
// via lumberjack — the same construction the teacher's ambient stack uses,
// trimmed to what the object layer's subsystems need.
package zap

import (
	"os"

	"github.com/forbearing/tol/config"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a *zap.Logger from cfg. logDir, if non-empty, rotates output
// through lumberjack instead of writing to stdout.
func New(cfg *config.Logger, logDir string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg != nil && cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg != nil && cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	writer := zapcore.AddSync(os.Stdout)
	if logDir != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logDir + "/tol.log",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     28,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// NewGin returns a gin.HandlerFunc that logs requests through l, for the
// router's logging middleware.
func NewGin(l *zap.Logger) gin.HandlerFunc {
	return ginzap.Ginzap(l, "", true)
}

// NewGinRecovery returns a gin.HandlerFunc that recovers panics and logs
// them through l.
func NewGinRecovery(l *zap.Logger) gin.HandlerFunc {
	return ginzap.RecoveryWithZap(l, true)
}
