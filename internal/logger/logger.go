package logger

import (
	"context"

	"go-evidence/internal/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the application logger. When LOG_FILE is set the console
// core is tee'd with a rotating JSON file core.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Environment == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Important: Enable Caller to get Function Name
	zapConfig.EncoderConfig.FunctionKey = "func"

	baseLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	if cfg.LogFile == "" {
		return baseLogger, nil
	}

	fileCore, _, err := newFileCore(cfg.LogFile, zapConfig.Level)
	if err != nil {
		return nil, err
	}

	return zap.New(zapcore.NewTee(baseLogger.Core(), fileCore), zap.AddCaller()), nil
}

// AuditLogger is the forensic sink for security events. It is a distinct type
// so fx can provide it next to the application *zap.Logger.
type AuditLogger struct {
	*zap.Logger
}

// NewAuditLogger writes every entry to AUDIT_LOG_FILE regardless of the
// application log level. Writes are synced on every event.
func NewAuditLogger(lc fx.Lifecycle, cfg *config.Config) (*AuditLogger, error) {
	core, rotator, err := newFileCore(cfg.AuditLogFile, zapcore.DebugLevel)
	if err != nil {
		return nil, err
	}

	l := zap.New(core).Named("security")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = l.Sync()
			return rotator.Close()
		},
	})

	return &AuditLogger{Logger: l}, nil
}

// NewNopAuditLogger is used by tests and tools that must not touch the audit file.
func NewNopAuditLogger() *AuditLogger {
	return &AuditLogger{Logger: zap.NewNop()}
}
