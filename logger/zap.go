package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapOptions configures NewZap.
type ZapOptions struct {
	// Format is "json" (default) or "console".
	Format string
	// Output is "stdout" (default), "stderr", or a file path. File output is
	// rotated by size.
	Output string
	// MaxSize is the size in megabytes at which a log file is rotated.
	MaxSize int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	// MaxAge is the number of days to keep rotated files.
	MaxAge int
	// Compress gzips rotated files.
	Compress bool
	// AddCaller annotates records with the calling file and line.
	AddCaller bool
}

// ZapLogger is a Logger backed by a zap SugaredLogger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	sink  io.Closer
}

var _ Logger = (*ZapLogger)(nil)

// NewZap creates a zap based logger.
//
// Call Close on the returned logger to flush buffered records and release the
// output file, if any.
func NewZap(level Level, opts ZapOptions) *ZapLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var (
		ws   zapcore.WriteSyncer
		sink io.Closer
	)
	switch opts.Output {
	case "", "stdout":
		ws = zapcore.Lock(os.Stdout)
	case "stderr":
		ws = zapcore.Lock(os.Stderr)
	default:
		rotator := &lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		ws = zapcore.AddSync(rotator)
		sink = rotator
	}

	atomicLevel := zap.NewAtomicLevelAt(toZapLevel(level))
	zapOpts := []zap.Option{}
	if opts.AddCaller {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	core := zapcore.NewCore(encoder, ws, atomicLevel)

	return &ZapLogger{
		sugar: zap.New(core, zapOpts...).Sugar(),
		level: atomicLevel,
		sink:  sink,
	}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, keysAndValues...)
}

// With returns a child logger sharing the parent's level and output.
func (l *ZapLogger) With(keyValues ...any) Logger {
	return &ZapLogger{
		sugar: l.sugar.With(keyValues...),
		level: l.level,
	}
}

func (l *ZapLogger) Level() Level {
	switch lv := l.level.Level(); {
	case lv <= zapcore.DebugLevel:
		return DebugLevel
	case lv == zapcore.InfoLevel:
		return InfoLevel
	case lv == zapcore.WarnLevel:
		return WarnLevel
	case lv == zapcore.ErrorLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}

func (l *ZapLogger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered log records.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes buffered records and closes the rotating file output.
// Loggers created by With share the output and must not be used afterwards.
func (l *ZapLogger) Close() error {
	_ = l.sugar.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}

	return nil
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}
