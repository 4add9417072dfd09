// Package logging builds the process logger: a zap core behind the log/slog
// API, so every package logs through *slog.Logger.
package logging

import (
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Options selects the level and encoding.
type Options struct {
	Level  string // debug, info, warn, error; anything else means info
	Format string // json or console
}

// New returns a logger writing to w, and a func that flushes buffered output.
func New(opts Options, w io.Writer) (*slog.Logger, func() error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	}

	sink := zapcore.AddSync(w)
	core := zapcore.NewCore(encoder, sink, level)
	handler := zapslog.NewHandler(core, zapslog.WithCaller(true), zapslog.AddStacktraceAt(slog.LevelError))
	return slog.New(handler), sink.Sync
}
