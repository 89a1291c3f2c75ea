package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const loggerName = "icco-contributor"

// logFormat describes how one LoggingConfig.Format renders entries.
type logFormat struct {
	encoder    func(zapcore.EncoderConfig) zapcore.Encoder
	encoding   zapcore.EncoderConfig
	stackLevel zapcore.Level
	options    []zap.Option
}

func formatFor(name string) logFormat {
	if name == "console" {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return logFormat{
			encoder:    zapcore.NewConsoleEncoder,
			encoding:   enc,
			stackLevel: zapcore.WarnLevel,
			options:    []zap.Option{zap.Development()},
		}
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return logFormat{
		encoder:    zapcore.NewJSONEncoder,
		encoding:   enc,
		stackLevel: zapcore.ErrorLevel,
	}
}

// NewLogger builds the process logger. Entries go to cfg.OutputPath (stdout
// when empty) and logger failures go to stderr.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	sink, closeSink, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", output, err)
	}
	errSink, _, err := zap.Open("stderr")
	if err != nil {
		closeSink()
		return nil, fmt.Errorf("open log error output: %w", err)
	}

	format := formatFor(cfg.Format)
	core := zapcore.NewCore(format.encoder(format.encoding), sink, zap.NewAtomicLevelAt(level))
	opts := append([]zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(format.stackLevel),
		zap.ErrorOutput(errSink),
	}, format.options...)

	return zap.New(core, opts...).Named(loggerName), nil
}
