package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once       sync.Once
	logger     *zap.SugaredLogger
	syncLogger = func() error { return nil }
)

// Logger returns a lazily initialised structured logger. Sync output goes to
// stderr so command results on stdout stay machine-readable.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		base, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		logger = base.Sugar()
		syncLogger = base.Sync
	})

	return logger
}

// Sync flushes any buffered log entries. Syncing stderr fails with EINVAL or
// ENOTTY when it is a pipe or terminal, which is harmless, so those errors
// are swallowed along with the closed-descriptor case.
func Sync() error {
	err := syncLogger()
	if err == nil {
		return nil
	}

	msg := err.Error()
	for _, ignorable := range []string{
		"bad file descriptor",
		"invalid argument",
		"inappropriate ioctl for device",
	} {
		if strings.Contains(msg, ignorable) {
			return nil
		}
	}
	return err
}
