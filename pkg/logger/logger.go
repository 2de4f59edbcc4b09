package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	base  = zap.NewNop()
	sugar = base.Sugar()
)

// Config selects the level and destination. An empty File logs to stdout.
type Config struct {
	Level string
	File  string
}

// Init builds the process-wide logger (called once from main).
func Init(cfg Config) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		sink,
		zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
	)

	set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
}

// UseLogger swaps the process-wide logger, mainly for tests.
func UseLogger(l *zap.Logger) {
	set(l.WithOptions(zap.AddCallerSkip(1)))
}

func set(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
	zap.ReplaceGlobals(l)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	}
	return zap.InfoLevel
}

// With returns a child logger carrying fields, e.g. business and conversation ids.
func With(fields ...zap.Field) *zap.Logger {
	return base.WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

func Info(msg string, fields ...zap.Field) {
	base.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	base.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	base.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	base.Debug(msg, fields...)
}

func Infof(format string, v ...any) {
	sugar.Infof(format, v...)
}

func Warnf(format string, v ...any) {
	sugar.Warnf(format, v...)
}

func Errorf(format string, v ...any) {
	sugar.Errorf(format, v...)
}

func Debugf(format string, v ...any) {
	sugar.Debugf(format, v...)
}

func Fatalf(format string, v ...any) {
	sugar.Fatalf(format, v...)
}

// Sync flushes buffered entries.
func Sync() error {
	return base.Sync()
}
