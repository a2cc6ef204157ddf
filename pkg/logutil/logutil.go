// Copyright 2021 - 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil provides the process-global zap logger.
package logutil

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig is the logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error, fatal.
	Level string `toml:"level"`
	// Format is json or console.
	Format string `toml:"format"`
	// Filename, when set, redirects the log to a file instead of stderr.
	Filename string `toml:"filename"`
}

var (
	once         sync.Once
	globalLogger atomic.Value // *zap.Logger
	skip1Logger  atomic.Value // *zap.Logger
)

// SetupLogger builds the global logger from cfg. Calling it again
// replaces the previous logger.
func SetupLogger(cfg *LogConfig) {
	replaceGlobalLogger(newLogger(cfg))
}

// GetGlobalLogger returns the global logger, initializing a default
// console logger on first use.
func GetGlobalLogger() *zap.Logger {
	once.Do(func() {
		if globalLogger.Load() == nil {
			replaceGlobalLogger(newLogger(&LogConfig{Level: "info", Format: "console"}))
		}
	})
	return globalLogger.Load().(*zap.Logger)
}

// Adjust returns logger if non-nil, the global logger otherwise.
func Adjust(logger *zap.Logger, options ...zap.Option) *zap.Logger {
	if logger != nil {
		return logger
	}
	return GetGlobalLogger().WithOptions(options...)
}

func replaceGlobalLogger(logger *zap.Logger) {
	globalLogger.Store(logger)
	skip1Logger.Store(logger.WithOptions(zap.AddCallerSkip(1)))
}

func getSkip1Logger() *zap.Logger {
	GetGlobalLogger()
	return skip1Logger.Load().(*zap.Logger)
}

func newLogger(cfg *LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	syncer := zapcore.AddSync(os.Stderr)
	if cfg.Filename != "" {
		if f, err := os.OpenFile(cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			syncer = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, syncer, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel))
}

func Debug(msg string, fields ...zap.Field) {
	getSkip1Logger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	getSkip1Logger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	getSkip1Logger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	getSkip1Logger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	getSkip1Logger().Fatal(msg, fields...)
}

func Debugf(msg string, args ...any) {
	getSkip1Logger().Sugar().Debugf(msg, args...)
}

func Infof(msg string, args ...any) {
	getSkip1Logger().Sugar().Infof(msg, args...)
}

func Warnf(msg string, args ...any) {
	getSkip1Logger().Sugar().Warnf(msg, args...)
}

func Errorf(msg string, args ...any) {
	getSkip1Logger().Sugar().Errorf(msg, args...)
}

func Fatalf(msg string, args ...any) {
	getSkip1Logger().Sugar().Fatalf(msg, args...)
}
