package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Interface interface {
	Debug(message string, args ...interface{})
	Info(message string, args ...interface{})
	Warn(message string, args ...interface{})
	Error(message interface{}, args ...interface{})
	Fatal(message interface{}, args ...interface{})
	With(keysAndValues ...interface{}) Interface
}

type Logger struct {
	logger *zap.SugaredLogger
}

var _ Interface = (*Logger)(nil)

func New(level string) *Logger {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(lvl),
	)

	return &Logger{
		logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
	}
}

// NewFromZap wraps an existing zap logger, mostly for tests (zaptest, observer).
func NewFromZap(l *zap.Logger) *Logger {
	return &Logger{logger: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(message string, args ...interface{}) {
	l.logger.Debugf(message, args...)
}

func (l *Logger) Info(message string, args ...interface{}) {
	l.logger.Infof(message, args...)
}

func (l *Logger) Warn(message string, args ...interface{}) {
	l.logger.Warnf(message, args...)
}

// Error accepts either an error followed by an optional printf-style context,
// or a plain format string.
func (l *Logger) Error(message interface{}, args ...interface{}) {
	msg, fields := l.split(message, args...)
	l.logger.Errorw(msg, fields...)
}

func (l *Logger) Fatal(message interface{}, args ...interface{}) {
	msg, fields := l.split(message, args...)
	l.logger.Fatalw(msg, fields...)
}

func (l *Logger) With(keysAndValues ...interface{}) Interface {
	return &Logger{logger: l.logger.With(keysAndValues...)}
}

func (l *Logger) Sync() error {
	return l.logger.Sync()
}

func (l *Logger) split(message interface{}, args ...interface{}) (string, []interface{}) {
	switch m := message.(type) {
	case error:
		return format(args...), []interface{}{"error", m}
	case string:
		return fmt.Sprintf(m, args...), nil
	default:
		return fmt.Sprintf("message %v has unknown type %T", message, message), nil
	}
}

func format(args ...interface{}) string {
	if len(args) == 0 {
		return "error"
	}

	f, ok := args[0].(string)
	if !ok {
		return fmt.Sprint(args...)
	}

	return fmt.Sprintf(f, args[1:]...)
}
