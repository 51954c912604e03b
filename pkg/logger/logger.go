// Package logger holds the process-wide zap logger. Packages log through the
// helpers here instead of threading a *zap.Logger through every constructor.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base   *zap.Logger
	baseMu sync.RWMutex
)

func init() {
	// Packages may log before Init runs (config loading, tests).
	base = zap.NewNop()
}

// Init builds the shared logger at the given level. Unrecognised level
// strings fall back to info rather than failing startup.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	baseMu.Lock()
	defer baseMu.Unlock()

	base = built
	return nil
}

// Logger returns the shared logger.
func Logger() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()

	return base
}

// Sync flushes any buffered entries. Callers defer this on shutdown.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with the owning module, so log
// lines group by subsystem ("realtime", "invitations") in aggregation.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Info logs at info level on the shared logger.
func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

// Error logs at error level on the shared logger.
func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

// Warn logs at warn level on the shared logger.
func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

// Debug logs at debug level on the shared logger.
func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}
