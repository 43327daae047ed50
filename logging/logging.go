// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package logging holds the process-wide zap logger shared by every icebox
// subsystem. The level starts from ICEBOX_LOG_LEVEL and may be changed later
// from the config file; named loggers handed out earlier follow the change.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel is the environment variable read at start-up.
const EnvLogLevel = "ICEBOX_LOG_LEVEL"

var (
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	root  *zap.SugaredLogger
)

func init() {
	initLogger()
}

func initLogger() {
	_ = SetLevel(getLogLevel())

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level = level
	config.DisableStacktrace = true

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	root = logger.Sugar()
}

func getLogLevel() string {
	lvl := os.Getenv(EnvLogLevel)
	if lvl == "" {
		lvl = "info"
	}
	return strings.ToLower(lvl)
}

// SetLevel changes the level of every logger. Unknown names fall back to
// info and are reported.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		level.SetLevel(zap.InfoLevel)
		return err
	}
	level.SetLevel(l)
	return nil
}

// Named returns a sub-logger tagged with the subsystem name.
func Named(subsystem string) *zap.SugaredLogger {
	return root.Named(subsystem)
}

// Sync flushes buffered entries. Called once before the process exits.
func Sync() {
	_ = root.Sync()
}
