// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package logging builds the structured, leveled, rotated logger shared by
// every component of the bridge.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the shared application logging contract. Every package in this
// module depends on this interface, never on *zap.Logger directly, so the
// backing implementation can be swapped or mocked in tests.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})
	Info(msg string)
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type sugared struct {
	s *zap.SugaredLogger
}

// New builds a Logger named for the component calling it, at the given
// level ("debug", "info", "warn", "error"), writing JSON lines to path
// (rotated via lumberjack) in addition to stdout.
func New(name, level, path string) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}), lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stdout)), lvl),
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named(name)
	return &sugared{s: base.Sugar()}, nil
}

func (l *sugared) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *sugared) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *sugared) Warnf(template string, args ...interface{})  { l.s.Warnf(template, args...) }
func (l *sugared) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }
func (l *sugared) Fatalf(template string, args ...interface{}) { l.s.Fatalf(template, args...) }
func (l *sugared) Info(msg string)                             { l.s.Info(msg) }
func (l *sugared) Sync() error                                 { return l.s.Sync() }

func (l *sugared) With(keysAndValues ...interface{}) Logger {
	return &sugared{s: l.s.With(keysAndValues...)}
}

// NewNop returns a Logger that discards everything. Handy for tests.
func NewNop() Logger {
	return &sugared{s: zap.NewNop().Sugar()}
}
