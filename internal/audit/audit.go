package audit

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger records one event per success/failure branch of the transfer
// lifecycle. Recording is one-way and never blocks the outcome of the
// operation it describes.
type Logger struct {
	log *zap.Logger
}

// New builds the audit logger. When filePath is non-empty the event stream is
// teed to that file in addition to stderr; failure to open the file degrades
// to stderr-only.
func New(filePath string) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	}
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err == nil {
			if f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(f), zapcore.InfoLevel))
			}
		}
	}

	return &Logger{log: zap.New(zapcore.NewTee(cores...)).Named("audit")}
}

// NewNop returns a logger that discards all events, for tests.
func NewNop() *Logger { return &Logger{log: zap.NewNop()} }

// Record emits a named event with structured fields.
func (l *Logger) Record(event string, fields ...zap.Field) {
	l.log.Info(event, fields...)
}

// Sync flushes buffered events; safe to call at shutdown.
func (l *Logger) Sync() { _ = l.log.Sync() }
