// Package observability owns the process-wide zap logger. The console sink is what an
// operator watches while a batch runs. The JSON file sink is what `consoledeploy logs`
// reads back, so its keys are fixed here and shared with that command.
package observability

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/config"
)

// Keys of every JSON log entry.
const (
	KeyTime    = "ts"
	KeyLevel   = "level"
	KeyLogger  = "logger"
	KeyMessage = "msg"
	KeyCaller  = "caller"
	KeyStack   = "stacktrace"
	KeyRunID   = "run_id"
	KeyMode    = "mode"
	KeySiteID  = "site_id"
	KeySiteURL = "url"
	KeyOutcome = "outcome"
)

const (
	fileTimeLayout    = "2006-01-02T15:04:05.000Z07:00"
	consoleTimeLayout = "15:04:05.000"
	ansiReset         = "\x1b[0m"
)

var ansiColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// Initialize builds the global logger once. Console output goes to consoleWriter; when
// cfg.LogFile is set a rotating JSON file is written as well. The file records info and
// above even when the console level is quieter, so every site outcome reaches it.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		logger := zap.New(newCore(cfg, consoleWriter), loggerOptions(cfg)...)
		if cfg.ServiceName != "" {
			logger = logger.Named(cfg.ServiceName)
		}
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the global logger with a locked stdout console.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ResetForTest drops the global logger so the next Initialize call takes effect.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func newCore(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) zapcore.Core {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder(cfg), consoleWriter, level)}
	if path := LogFilePath(cfg); path != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(fileEncoder(), sink, fileLevel(level)))
	}
	return zapcore.NewTee(cores...)
}

func loggerOptions(cfg config.LoggerConfig) []zap.Option {
	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return opts
}

// LogFilePath is the expanded location of the JSON log file, or "" when disabled.
func LogFilePath(cfg config.LoggerConfig) string {
	if cfg.LogFile == "" {
		return ""
	}
	path, err := homedir.Expand(cfg.LogFile)
	if err != nil {
		return cfg.LogFile
	}
	return path
}

func fileLevel(console zap.AtomicLevel) zapcore.LevelEnabler {
	return zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.InfoLevel || console.Enabled(l)
	})
}

func fileEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        KeyTime,
		LevelKey:       KeyLevel,
		NameKey:        KeyLogger,
		CallerKey:      KeyCaller,
		MessageKey:     KeyMessage,
		StacktraceKey:  KeyStack,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(fileTimeLayout),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// consoleEncoder is the JSON file encoder for format "json", otherwise a single-line
// console layout with colored levels.
func consoleEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	if cfg.Format == "json" {
		return fileEncoder()
	}
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          KeyTime,
		LevelKey:         KeyLevel,
		NameKey:          KeyLogger,
		CallerKey:        KeyCaller,
		MessageKey:       KeyMessage,
		StacktraceKey:    KeyStack,
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      levelColorEncoder(levelPalette(cfg.Colors)),
		EncodeTime:       zapcore.TimeEncoderOfLayout(consoleTimeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	})
}

// levelPalette maps levels to ANSI codes. Unknown color names leave a level plain.
func levelPalette(colors config.ColorConfig) map[zapcore.Level]string {
	named := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	palette := make(map[zapcore.Level]string, len(named))
	for level, name := range named {
		if code, ok := ansiColors[strings.ToLower(name)]; ok {
			palette[level] = code
		}
	}
	return palette
}

func levelColorEncoder(palette map[zapcore.Level]string) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		text := level.CapitalString()
		if code, ok := palette[level]; ok {
			text = code + text + ansiReset
		}
		enc.AppendString(text)
	}
}

// GetLogger returns the global logger. Before Initialize it returns an info-level
// console logger on stderr.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	core := zapcore.NewCore(consoleEncoder(config.LoggerConfig{}), zapcore.Lock(os.Stderr), zap.InfoLevel)
	return zap.New(core).Named("fallback")
}

// Sync flushes buffered entries. Terminals and pipes that cannot fsync are ignored.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncable(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

func unsyncable(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP)
}

// ForRun scopes a logger to one batch run.
func ForRun(base *zap.Logger, runID string, mode schemas.BatchMode) *zap.Logger {
	if base == nil {
		base = GetLogger()
	}
	return base.With(zap.String(KeyRunID, runID), zap.String(KeyMode, mode.String()))
}

// ForSite scopes a run logger to one console, so `logs --site` can pick its lines out
// of an interleaved file.
func ForSite(runLog *zap.Logger, site schemas.SiteEndpoint) *zap.Logger {
	if runLog == nil {
		runLog = GetLogger()
	}
	return runLog.With(zap.String(KeySiteID, site.ID), zap.String(KeySiteURL, site.URL))
}

// LogOutcome narrates a finished site with its outcome marker. Failures are logged at
// warn, unknown outcomes at info since the console may still be publishing.
func LogOutcome(logger *zap.Logger, result schemas.SiteResult) {
	msg := fmt.Sprintf("%s %s: %s", result.Outcome.Marker(), result.SiteID, result.Outcome)
	fields := []zap.Field{
		zap.String(KeyOutcome, result.Outcome.String()),
		zap.Duration("duration", result.Duration()),
	}
	if result.Reason != "" {
		fields = append(fields, zap.String("reason", result.Reason))
	}
	if result.Outcome == schemas.OutcomeFailure {
		logger.Warn(msg, fields...)
		return
	}
	logger.Info(msg, fields...)
}
