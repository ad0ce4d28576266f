package util

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON logger on stdout at the given level
// ("debug", "info", "warn", "error"; empty means info).
func NewLogger(level string) (*zap.Logger, error) {
	return NewLoggerWithFile("", level)
}

// NewLoggerWithFile tees JSON logs to stdout and, when logPath is set, to an
// append-only file whose directory is created on demand.
func NewLoggerWithFile(logPath, level string) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(level); err != nil {
			return nil, err
		}
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, f)
	}

	enc := zapcore.NewJSONEncoder(encoderConfig())
	cores := make([]zapcore.Core, 0, len(sinks))
	for _, s := range sinks {
		cores = append(cores, zapcore.NewCore(enc.Clone(), s, lvl))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}
