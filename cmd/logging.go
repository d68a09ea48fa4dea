package cmd

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger logs errors only by default, info with --verbose and debug with
// --debug. A non-empty file adds a JSON sink.
func newLogger(verbose, debug bool, file string) (*zap.SugaredLogger, error) {
	level := zapcore.ErrorLevel
	switch {
	case debug:
		level = zapcore.DebugLevel
	case verbose:
		level = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = !debug
	cfg.DisableCaller = !debug
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if file == "" {
		return l.Sugar(), nil
	}

	fileCfg := zap.NewProductionConfig()
	fileCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	fileCfg.OutputPaths = []string{file}
	fileLogger, err := fileCfg.Build()
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewTee(l.Core(), fileLogger.Core())).Sugar(), nil
}
