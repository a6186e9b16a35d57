// Leveled logger construction, so every component can be handed its own logger.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - setting Level in Config
// - set environment variable `LOG_LEVEL`
//
// Nothing in this package is global: New returns a *zap.Logger which is passed to the components that log.

package log

import (
	"os"
	"strings"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultMaxSize = 300

type Config struct {
	// Level is one of fatal, error, warn, info, debug. Empty means the LOG_LEVEL environment variable, then info.
	Level string
	// Format is "console" or "json".
	Format string
	// Output is "stdout", "stderr" or a file path. Files are rotated.
	Output string
	// MaxSize is the size in megabytes at which a log file is rotated. 0 means 300.
	MaxSize int
	// MaxBackups is the number of rotated files kept. 0 keeps all of them.
	MaxBackups int
	// MaxDays is the age in days after which rotated files are removed. 0 keeps them forever.
	MaxDays int
}

// New builds a logger from conf.
func New(conf Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(StringToLogLevel(levelOrEnv(conf.Level)))

	enc, err := encoder(conf.Format)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(enc, writeSyncer(conf), level)
	return zap.New(core, zap.AddCaller()), nil
}

// StringToLogLevel maps a level name to a zap level, defaulting to info.
func StringToLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "fatal":
		return zapcore.FatalLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	}
	return zapcore.InfoLevel
}

func levelOrEnv(level string) string {
	if level != "" {
		return level
	}
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		return l
	}
	return "info"
}

func encoder(format string) (zapcore.Encoder, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	switch strings.ToLower(format) {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig), nil
	case "console", "text", "":
		return zapcore.NewConsoleEncoder(encoderConfig), nil
	}
	return nil, errors.Errorf("unknown log format %q", format)
}

func writeSyncer(conf Config) zapcore.WriteSyncer {
	switch strings.ToLower(conf.Output) {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr", "":
		return zapcore.AddSync(os.Stderr)
	}
	maxSize := conf.MaxSize
	if maxSize == 0 {
		maxSize = defaultMaxSize
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   conf.Output,
		MaxSize:    maxSize,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxDays,
		LocalTime:  true,
	})
}
