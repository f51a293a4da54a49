package logger

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/instill-ai/vision-rag-backend/config"
)

var once sync.Once
var core zapcore.Core

// GetZapLogger returns the process logger. The core is built once from
// config.Config.Server.Debug; every call attaches a hook that mirrors log
// entries onto the span carried by ctx.
func GetZapLogger(ctx context.Context) (*zap.Logger, error) {
	once.Do(func() {
		core = newCore(config.Config.Server.Debug, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
	})

	return zap.New(core).WithOptions(
		zap.Hooks(spanHook(ctx)),
		zap.AddCaller(),
	), nil
}

// newCore splits output by severity: debug/info go to stdout, warn and above
// to stderr. Debug level is only enabled in debug mode.
func newCore(debug bool, stdout, stderr zapcore.WriteSyncer) zapcore.Core {
	lowLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		if debug {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		}
		return level == zapcore.InfoLevel
	})
	highLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stdout, lowLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), stderr, highLevel),
	)
}

func spanHook(ctx context.Context) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return nil
		}

		span.AddEvent("log", trace.WithAttributes(
			attribute.String("log.severity", entry.Level.String()),
			attribute.String("log.message", entry.Message),
		))

		if entry.Level >= zap.ErrorLevel {
			span.SetStatus(codes.Error, entry.Message)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return nil
	}
}
