// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the structured logger used across the proxy.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the sugared logging surface exercised throughout the proxy.
// It mirrors the subset of zap.SugaredLogger the codebase actually calls,
// plus Benchmark for timing hot paths.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalf(template string, args ...interface{})
	// Benchmark logs a debug-level timing line for a named operation.
	Benchmark(op string, d time.Duration)
	// Sync flushes any buffered log entries.
	Sync() error
}

type sugaredLogger struct {
	*zap.SugaredLogger
}

func (l *sugaredLogger) Benchmark(op string, d time.Duration) {
	l.SugaredLogger.Debugw("benchmark", "op", op, "duration_ms", d.Milliseconds())
}

// NewApplicationLogger builds the default logger: console output plus a
// rotating file sink (app.log, 10MB/5 backups), matching the rotation policy
// the original Python service configured via RotatingFileHandler.
func NewApplicationLogger() (Logger, error) {
	return NewLogger("info", "app.log")
}

// NewLogger builds a logger at the given level, writing to stdout and to a
// rotating log file at logPath. Pass an empty logPath to disable file output
// (used in tests).
func NewLogger(level string, logPath string) (Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), lvl),
	}

	if logPath != "" {
		rotator := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 5,
			Compress:   false,
		}
		fileEncoder := zapcore.NewJSONEncoder(encoderCfg)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), lvl))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &sugaredLogger{SugaredLogger: zl.Sugar()}, nil
}
