package observability

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// NewLogger builds a zap logger writing to console and, when configured,
// a rotating JSON file.
func NewLogger(cfg config.LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), console, level)}

	if cfg.LogFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), fileWriter, level))
	}

	options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	logger := zap.New(zapcore.NewTee(cores...), options...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// InitializeLogger sets the process-wide logger once, writing to stdout.
func InitializeLogger(cfg config.LoggerConfig) *zap.Logger {
	once.Do(func() {
		logger := NewLogger(cfg, zapcore.Lock(os.Stdout))
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
	})
	return GetLogger()
}

// GetLogger returns the process-wide logger, or a no-op logger before initialization.
func GetLogger() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// ResetForTest clears the process-wide logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// Sync flushes buffered entries, ignoring the errors stdout returns on some platforms.
func Sync() {
	if l := globalLogger.Load(); l != nil {
		_ = l.Sync()
	}
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// =============================================================================
// KEY/VALUE ADAPTER
// =============================================================================

// KVLogger adapts zap to the key/value Logger interfaces used across the engine.
type KVLogger struct {
	sugar *zap.SugaredLogger
}

// NewKVLogger wraps a zap logger. A nil logger produces a no-op adapter.
func NewKVLogger(l *zap.Logger) *KVLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &KVLogger{sugar: l.Sugar()}
}

func (k *KVLogger) Debug(msg string, keysAndValues ...any) { k.sugar.Debugw(msg, keysAndValues...) }
func (k *KVLogger) Info(msg string, keysAndValues ...any)  { k.sugar.Infow(msg, keysAndValues...) }
func (k *KVLogger) Warn(msg string, keysAndValues ...any)  { k.sugar.Warnw(msg, keysAndValues...) }
func (k *KVLogger) Error(msg string, keysAndValues ...any) { k.sugar.Errorw(msg, keysAndValues...) }

// Bind returns a child logger carrying the given fields on every entry.
func (k *KVLogger) Bind(keysAndValues ...any) *KVLogger {
	return &KVLogger{sugar: k.sugar.With(keysAndValues...)}
}

// Named returns a child logger with a name segment appended.
func (k *KVLogger) Named(name string) *KVLogger {
	return &KVLogger{sugar: k.sugar.Named(name)}
}

// Zap returns the underlying structured logger.
func (k *KVLogger) Zap() *zap.Logger {
	return k.sugar.Desugar()
}
